// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/keylock"
	"github.com/levelhub/chat-leveling/pkg/logger"
	"go.uber.org/zap"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD MESSAGE COMMAND
// Accrues XP for a chat message: ignore list, cooldown, rate scaling,
// one atomic write and level-up detection.
// ══════════════════════════════════════════════════════════════════════════════

// RecordMessageCommand is an inbound chat message event.
type RecordMessageCommand struct {
	GroupID   string
	MemberID  string
	ChannelID string

	// Timestamp is when the message was observed (defaults to now if zero).
	Timestamp time.Time

	// IsBot marks messages authored by bots; they never accrue.
	IsBot bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordMessageCommand) Validate() error {
	if strings.TrimSpace(c.GroupID) == "" {
		return shared.ErrInvalidGroupID
	}
	if strings.TrimSpace(c.MemberID) == "" {
		return shared.ErrInvalidMemberID
	}
	return nil
}

// SuppressReason explains why a message did not accrue XP.
type SuppressReason string

const (
	NotSuppressed          SuppressReason = ""
	SuppressBotAuthor      SuppressReason = "bot_author"
	SuppressIgnoredChannel SuppressReason = "ignored_channel"
	SuppressCooldown       SuppressReason = "cooldown"
)

// RecordMessageResult contains the outcome of one message.
type RecordMessageResult struct {
	// Suppressed is set when the message was skipped; no write happened.
	Suppressed SuppressReason `json:"suppressed,omitempty"`

	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`

	XPGained       int64 `json:"xp_gained"`
	OldLevel       int   `json:"old_level"`
	NewLevel       int   `json:"new_level"`
	TotalXP        int64 `json:"total_xp"`
	CurrentXP      int64 `json:"current_xp"`
	XPForNextLevel int64 `json:"xp_for_next_level"`
	MessageCount   int64 `json:"message_count"`

	LeveledUp bool `json:"leveled_up"`
}

// Accrued reports whether XP was awarded.
func (r *RecordMessageResult) Accrued() bool {
	return r.Suppressed == NotSuppressed
}

func suppressed(cmd RecordMessageCommand, reason SuppressReason) *RecordMessageResult {
	return &RecordMessageResult{Suppressed: reason, GroupID: cmd.GroupID, MemberID: cmd.MemberID}
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AccrualConfig contains the accrual rules.
type AccrualConfig struct {
	Cooldown time.Duration
	MinXP    int
	MaxXP    int

	// Serialize guards each member's read-modify-write with a keyed lock.
	// Turning it off reproduces lost updates under concurrent messages.
	Serialize bool
}

// DefaultAccrualConfig returns default configuration.
func DefaultAccrualConfig() AccrualConfig {
	return AccrualConfig{
		Cooldown:  60 * time.Second,
		MinXP:     15,
		MaxXP:     25,
		Serialize: true,
	}
}

// RandomInt returns a uniformly distributed integer in [min, max].
type RandomInt func(min, max int) int

func defaultRandomInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min+1)
}

// RecordMessageHandler handles the RecordMessageCommand.
type RecordMessageHandler struct {
	progress  leveling.ProgressRepository
	groups    leveling.GroupRepository
	publisher shared.EventPublisher
	locks     *keylock.KeyedMutex
	config    AccrualConfig
	log       *zap.Logger

	randInt RandomInt
	now     func() time.Time
}

// RecordMessageOption customizes the handler.
type RecordMessageOption func(*RecordMessageHandler)

// WithRandomInt replaces the XP draw.
func WithRandomInt(fn RandomInt) RecordMessageOption {
	return func(h *RecordMessageHandler) { h.randInt = fn }
}

// WithClock replaces the clock used for zero timestamps.
func WithClock(now func() time.Time) RecordMessageOption {
	return func(h *RecordMessageHandler) { h.now = now }
}

// NewRecordMessageHandler creates a new RecordMessageHandler.
// locks should be shared with AdminXPHandler so admin writes serialize with accrual.
func NewRecordMessageHandler(
	progress leveling.ProgressRepository,
	groups leveling.GroupRepository,
	publisher shared.EventPublisher,
	locks *keylock.KeyedMutex,
	config AccrualConfig,
	log *zap.Logger,
	opts ...RecordMessageOption,
) *RecordMessageHandler {
	if config.MaxXP == 0 {
		config = DefaultAccrualConfig()
	}
	if locks == nil {
		locks = keylock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}

	h := &RecordMessageHandler{
		progress:  progress,
		groups:    groups,
		publisher: publisher,
		locks:     locks,
		config:    config,
		log:       log.With(logger.Component("accrual")),
		randInt:   defaultRandomInt,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSerialize turns per-member serialization on or off.
func (h *RecordMessageHandler) SetSerialize(on bool) {
	h.config.Serialize = on
}

// Handle executes the record message command.
func (h *RecordMessageHandler) Handle(ctx context.Context, cmd RecordMessageCommand) (*RecordMessageResult, error) {
	if cmd.IsBot {
		return suppressed(cmd, SuppressBotAuthor), nil
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	at := cmd.Timestamp
	if at.IsZero() {
		at = h.now()
	}

	if cmd.ChannelID != "" {
		ignored, err := h.groups.IsChannelIgnored(ctx, cmd.GroupID, cmd.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("record_message: check ignored channel: %w", err)
		}
		if ignored {
			return suppressed(cmd, SuppressIgnoredChannel), nil
		}
	}

	if h.config.Serialize {
		unlock := lockMember(h.locks, cmd.GroupID, cmd.MemberID)
		defer unlock()
	}

	p, err := h.progress.GetOrCreate(ctx, cmd.GroupID, cmd.MemberID)
	if err != nil {
		return nil, fmt.Errorf("record_message: load progress: %w", err)
	}
	cfg, err := h.groups.GetConfig(ctx, cmd.GroupID)
	if err != nil {
		return nil, fmt.Errorf("record_message: load group config: %w", err)
	}

	if p.InCooldown(at, h.config.Cooldown) {
		return suppressed(cmd, SuppressCooldown), nil
	}

	gain := leveling.ScaleGain(h.randInt(h.config.MinXP, h.config.MaxXP), cfg.XPRate)
	oldLevel, oldTotal := p.Level, p.TotalXP
	p.RecordMessage(gain, at)

	if err := h.progress.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("record_message: save progress: %w", err)
	}

	result := &RecordMessageResult{
		GroupID:        p.GroupID,
		MemberID:       p.MemberID,
		XPGained:       gain,
		OldLevel:       oldLevel,
		NewLevel:       p.Level,
		TotalXP:        p.TotalXP,
		CurrentXP:      p.CurrentLevelXP,
		XPForNextLevel: p.XPForNextLevel(),
		MessageCount:   p.MessageCount,
		LeveledUp:      p.Level > oldLevel,
	}

	h.publish(ctx, cmd.CorrelationID, shared.NewXPChangedEvent(
		p.GroupID, p.MemberID, shared.SourceMessage, oldTotal, p.TotalXP, oldLevel, p.Level,
	))

	if result.LeveledUp {
		h.log.Info("member leveled up",
			logger.GroupID(p.GroupID),
			logger.MemberID(p.MemberID),
			zap.Int("old_level", oldLevel),
			logger.Level(p.Level),
			logger.TotalXP(p.TotalXP),
		)
		h.publish(ctx, cmd.CorrelationID, shared.NewLevelUpEvent(
			p.GroupID, p.MemberID, cmd.ChannelID, oldLevel, p.Level, p.TotalXP,
		))
	}

	return result, nil
}

// publish never fails the command: the progress write already happened.
func (h *RecordMessageHandler) publish(ctx context.Context, correlationID string, event shared.Event) {
	if h.publisher == nil {
		return
	}
	event = withCorrelation(event, correlationID)
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.log.Warn("failed to publish event",
			zap.String("event_type", string(event.EventType())),
			zap.Error(err),
		)
	}
}

// groupGateKey names the group-wide gate. Member writes hold it shared,
// ResetGroup holds it exclusively. The NUL prefix keeps it apart from member keys.
func groupGateKey(groupID string) string {
	return "\x00group:" + groupID
}

// lockMember takes the group gate in shared mode, then the member's own lock.
func lockMember(locks *keylock.KeyedMutex, groupID, memberID string) (unlock func()) {
	unlockGroup := locks.RLock(groupGateKey(groupID))
	unlockMember := locks.Lock(shared.ProgressAggregateID(groupID, memberID))
	return func() {
		unlockMember()
		unlockGroup()
	}
}

// withCorrelation stamps the correlation ID on the known event types.
func withCorrelation(event shared.Event, id string) shared.Event {
	if id == "" {
		return event
	}
	switch e := event.(type) {
	case shared.XPChangedEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.LevelUpEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	case shared.GroupResetEvent:
		e.BaseEvent = e.BaseEvent.WithCorrelationID(id)
		return e
	}
	return event
}
