package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	// Progress events
	EventXPChanged EventType = "progress.xp_changed"
	EventLevelUp   EventType = "progress.level_up"

	// Group events
	EventGroupReset EventType = "group.reset"
)

// XPChangeSource describes what caused a progress write.
type XPChangeSource string

const (
	SourceMessage XPChangeSource = "message"
	SourceAdd     XPChangeSource = "admin_add"
	SourceRemove  XPChangeSource = "admin_remove"
	SourceSet     XPChangeSource = "admin_set"
	SourceReset   XPChangeSource = "admin_reset"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventID returns the unique event identifier.
	EventID() string

	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventID implements Event interface.
func (e BaseEvent) EventID() string {
	return e.ID
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ProgressAggregateID builds the aggregate key of a member's progress in a group.
func ProgressAggregateID(groupID, memberID string) string {
	return groupID + ":" + memberID
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPChangedEvent is emitted after every successful progress write.
type XPChangedEvent struct {
	BaseEvent
	MemberID   string         `json:"member_id"`
	GroupID    string         `json:"group_id"`
	Source     XPChangeSource `json:"source"`
	OldTotalXP int64          `json:"old_total_xp"`
	NewTotalXP int64          `json:"new_total_xp"`
	OldLevel   int            `json:"old_level"`
	NewLevel   int            `json:"new_level"`
}

// NewXPChangedEvent creates a new XPChangedEvent.
func NewXPChangedEvent(groupID, memberID string, source XPChangeSource, oldTotal, newTotal int64, oldLevel, newLevel int) XPChangedEvent {
	return XPChangedEvent{
		BaseEvent:  NewBaseEvent(EventXPChanged, ProgressAggregateID(groupID, memberID)),
		MemberID:   memberID,
		GroupID:    groupID,
		Source:     source,
		OldTotalXP: oldTotal,
		NewTotalXP: newTotal,
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
	}
}

// LevelUpEvent is emitted when message accrual moves a member to a higher level.
type LevelUpEvent struct {
	BaseEvent
	MemberID  string `json:"member_id"`
	GroupID   string `json:"group_id"`
	ChannelID string `json:"channel_id"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
	TotalXP   int64  `json:"total_xp"`
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(groupID, memberID, channelID string, oldLevel, newLevel int, totalXP int64) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, ProgressAggregateID(groupID, memberID)),
		MemberID:  memberID,
		GroupID:   groupID,
		ChannelID: channelID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Group Events
// ═══════════════════════════════════════════════════════════════════════════

// GroupResetEvent is emitted when all progress of a group is reset.
type GroupResetEvent struct {
	BaseEvent
	GroupID      string `json:"group_id"`
	MembersReset int64  `json:"members_reset"`
}

// NewGroupResetEvent creates a new GroupResetEvent.
func NewGroupResetEvent(groupID string, membersReset int64) GroupResetEvent {
	return GroupResetEvent{
		BaseEvent:    NewBaseEvent(EventGroupReset, groupID),
		GroupID:      groupID,
		MembersReset: membersReset,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
