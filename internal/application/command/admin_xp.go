package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/keylock"
	"github.com/levelhub/chat-leveling/pkg/logger"
	"go.uber.org/zap"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN XP COMMANDS
// Manual XP adjustments. They bypass cooldown and the ignore list, recompute
// level from the new total and persist in one write. No role sync happens here.
// ══════════════════════════════════════════════════════════════════════════════

// AdminXPOperation names the adjustment.
type AdminXPOperation string

const (
	OpAddXP       AdminXPOperation = "add"
	OpRemoveXP    AdminXPOperation = "remove"
	OpSetXP       AdminXPOperation = "set"
	OpResetMember AdminXPOperation = "reset"
)

// AdminXPCommand targets one member.
type AdminXPCommand struct {
	GroupID  string
	MemberID string

	// Amount is ignored for OpResetMember.
	Amount int64

	// IsBot is set when the target is a bot account.
	IsBot bool

	CorrelationID string
}

// validate runs before any read.
func (c AdminXPCommand) validate(op AdminXPOperation) error {
	if strings.TrimSpace(c.GroupID) == "" {
		return shared.ErrInvalidGroupID
	}
	if strings.TrimSpace(c.MemberID) == "" {
		return shared.ErrInvalidMemberID
	}
	if c.IsBot {
		return shared.ErrBotMember
	}
	switch op {
	case OpAddXP, OpRemoveXP:
		if c.Amount < 0 {
			return shared.ErrNegativeAmount
		}
		if c.Amount == 0 {
			return shared.ErrZeroAmount
		}
	case OpSetXP:
		if c.Amount < 0 {
			return shared.ErrNegativeAmount
		}
	}
	return nil
}

// AdminXPResult contains the before and after totals.
type AdminXPResult struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`

	OldTotalXP     int64 `json:"old_total_xp"`
	NewTotalXP     int64 `json:"new_total_xp"`
	OldLevel       int   `json:"old_level"`
	NewLevel       int   `json:"new_level"`
	CurrentXP      int64 `json:"current_xp"`
	XPForNextLevel int64 `json:"xp_for_next_level"`
}

// AdminXPHandler applies admin XP operations.
type AdminXPHandler struct {
	progress  leveling.ProgressRepository
	publisher shared.EventPublisher
	locks     *keylock.KeyedMutex
	log       *zap.Logger
}

// NewAdminXPHandler creates a new AdminXPHandler.
func NewAdminXPHandler(
	progress leveling.ProgressRepository,
	publisher shared.EventPublisher,
	locks *keylock.KeyedMutex,
	log *zap.Logger,
) *AdminXPHandler {
	if locks == nil {
		locks = keylock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminXPHandler{
		progress:  progress,
		publisher: publisher,
		locks:     locks,
		log:       log.With(logger.Component("admin_xp")),
	}
}

// AddXP adds Amount to the member's total.
func (h *AdminXPHandler) AddXP(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	return h.apply(ctx, OpAddXP, cmd, func(p *leveling.MemberProgress) { p.AddXP(cmd.Amount) })
}

// RemoveXP subtracts Amount, never going below zero.
func (h *AdminXPHandler) RemoveXP(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	return h.apply(ctx, OpRemoveXP, cmd, func(p *leveling.MemberProgress) { p.RemoveXP(cmd.Amount) })
}

// SetXP replaces the member's total with Amount.
func (h *AdminXPHandler) SetXP(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	return h.apply(ctx, OpSetXP, cmd, func(p *leveling.MemberProgress) { p.SetTotalXP(cmd.Amount) })
}

// ResetMember zeroes XP, level and message count. The cooldown clock is kept.
func (h *AdminXPHandler) ResetMember(ctx context.Context, cmd AdminXPCommand) (*AdminXPResult, error) {
	return h.apply(ctx, OpResetMember, cmd, func(p *leveling.MemberProgress) { p.Reset() })
}

func (h *AdminXPHandler) apply(
	ctx context.Context,
	op AdminXPOperation,
	cmd AdminXPCommand,
	mutate func(*leveling.MemberProgress),
) (*AdminXPResult, error) {
	if err := cmd.validate(op); err != nil {
		return nil, err
	}

	unlock := lockMember(h.locks, cmd.GroupID, cmd.MemberID)
	defer unlock()

	p, err := h.progress.GetOrCreate(ctx, cmd.GroupID, cmd.MemberID)
	if err != nil {
		return nil, fmt.Errorf("admin_xp.%s: load progress: %w", op, err)
	}

	oldTotal, oldLevel := p.TotalXP, p.Level
	mutate(p)

	if err := h.progress.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("admin_xp.%s: save progress: %w", op, err)
	}

	h.log.Info("xp adjusted",
		logger.Operation(string(op)),
		logger.GroupID(p.GroupID),
		logger.MemberID(p.MemberID),
		zap.Int64("old_total_xp", oldTotal),
		logger.TotalXP(p.TotalXP),
		logger.Level(p.Level),
	)

	h.publish(ctx, withCorrelation(shared.NewXPChangedEvent(
		p.GroupID, p.MemberID, sourceFor(op), oldTotal, p.TotalXP, oldLevel, p.Level,
	), cmd.CorrelationID))

	return &AdminXPResult{
		GroupID:        p.GroupID,
		MemberID:       p.MemberID,
		OldTotalXP:     oldTotal,
		NewTotalXP:     p.TotalXP,
		OldLevel:       oldLevel,
		NewLevel:       p.Level,
		CurrentXP:      p.CurrentLevelXP,
		XPForNextLevel: p.XPForNextLevel(),
	}, nil
}

// ResetGroup zeroes every member of the group and returns how many were reset.
// It waits for in-flight member writes of the group, so none of them can
// save a pre-reset total over the reset.
func (h *AdminXPHandler) ResetGroup(ctx context.Context, groupID string) (int64, error) {
	if strings.TrimSpace(groupID) == "" {
		return 0, shared.ErrInvalidGroupID
	}

	unlock := h.locks.Lock(groupGateKey(groupID))
	defer unlock()

	n, err := h.progress.ResetGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("admin_xp.reset_group: %w", err)
	}

	h.log.Info("group reset", logger.GroupID(groupID), zap.Int64("members_reset", n))
	h.publish(ctx, shared.NewGroupResetEvent(groupID, n))
	return n, nil
}

func (h *AdminXPHandler) publish(ctx context.Context, event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.log.Warn("failed to publish event",
			zap.String("event_type", string(event.EventType())),
			zap.Error(err),
		)
	}
}

func sourceFor(op AdminXPOperation) shared.XPChangeSource {
	switch op {
	case OpAddXP:
		return shared.SourceAdd
	case OpRemoveXP:
		return shared.SourceRemove
	case OpSetXP:
		return shared.SourceSet
	default:
		return shared.SourceReset
	}
}
