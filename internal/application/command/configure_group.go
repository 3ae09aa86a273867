package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/logger"
	"go.uber.org/zap"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURE GROUP COMMANDS
// Group settings, the role reward table and the ignored channel list.
// Every write is last-writer-wins.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateConfigCommand changes selected fields of a group's config.
// Nil fields are left unchanged.
type UpdateConfigCommand struct {
	GroupID string

	XPRate               *float64
	StackRoles           *bool
	AnnouncementsEnabled *bool

	// AnnouncementChannel set to a pointer to "" clears the channel.
	AnnouncementChannel *string

	AnnouncementTemplate *string
}

// Validate checks every provided field before anything is read.
func (c UpdateConfigCommand) Validate() error {
	if strings.TrimSpace(c.GroupID) == "" {
		return shared.ErrInvalidGroupID
	}
	if c.XPRate != nil {
		if err := leveling.ValidateXPRate(*c.XPRate); err != nil {
			return err
		}
	}
	if c.AnnouncementTemplate != nil && strings.TrimSpace(*c.AnnouncementTemplate) == "" {
		return shared.ErrEmptyTemplate
	}
	return nil
}

// ConfigureGroupHandler handles group settings commands.
type ConfigureGroupHandler struct {
	groups leveling.GroupRepository
	log    *zap.Logger
}

// NewConfigureGroupHandler creates a new ConfigureGroupHandler.
func NewConfigureGroupHandler(groups leveling.GroupRepository, log *zap.Logger) *ConfigureGroupHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfigureGroupHandler{groups: groups, log: log.With(logger.Component("configure_group"))}
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// GetConfig returns the group's config (defaults for a new group).
func (h *ConfigureGroupHandler) GetConfig(ctx context.Context, groupID string) (*leveling.GroupConfig, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, shared.ErrInvalidGroupID
	}
	return h.groups.GetConfig(ctx, groupID)
}

// UpdateConfig applies the provided fields and saves the config.
func (h *ConfigureGroupHandler) UpdateConfig(ctx context.Context, cmd UpdateConfigCommand) (*leveling.GroupConfig, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	cfg, err := h.groups.GetConfig(ctx, cmd.GroupID)
	if err != nil {
		return nil, fmt.Errorf("configure_group: load config: %w", err)
	}

	if cmd.XPRate != nil {
		if err := cfg.SetXPRate(*cmd.XPRate); err != nil {
			return nil, err
		}
	}
	if cmd.StackRoles != nil {
		cfg.StackRoles = *cmd.StackRoles
	}
	if cmd.AnnouncementsEnabled != nil {
		cfg.AnnouncementsEnabled = *cmd.AnnouncementsEnabled
	}
	if cmd.AnnouncementChannel != nil {
		cfg.AnnouncementChannel = strings.TrimSpace(*cmd.AnnouncementChannel)
	}
	if cmd.AnnouncementTemplate != nil {
		if err := cfg.SetTemplate(*cmd.AnnouncementTemplate); err != nil {
			return nil, err
		}
	}

	if err := h.groups.SaveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("configure_group: save config: %w", err)
	}

	h.log.Info("group config updated",
		logger.GroupID(cfg.GroupID),
		zap.Float64("xp_rate", cfg.XPRate),
		zap.Bool("stack_roles", cfg.StackRoles),
		zap.Bool("announcements", cfg.AnnouncementsEnabled),
	)
	return cfg, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Role rewards
// ─────────────────────────────────────────────────────────────────────────────

// SetReward adds or replaces the role granted at a level.
func (h *ConfigureGroupHandler) SetReward(ctx context.Context, reward leveling.RoleReward) error {
	reward.RoleID = strings.TrimSpace(reward.RoleID)
	if err := reward.Validate(); err != nil {
		return err
	}
	if err := h.groups.UpsertReward(ctx, reward); err != nil {
		return fmt.Errorf("configure_group: upsert reward: %w", err)
	}
	h.log.Info("role reward set", logger.GroupID(reward.GroupID), logger.Level(reward.Level), logger.RoleID(reward.RoleID))
	return nil
}

// RemoveReward deletes the reward at a level.
func (h *ConfigureGroupHandler) RemoveReward(ctx context.Context, groupID string, level int) error {
	if strings.TrimSpace(groupID) == "" {
		return shared.ErrInvalidGroupID
	}
	if level < 1 {
		return shared.ErrInvalidRewardLevel
	}
	if err := h.groups.DeleteReward(ctx, groupID, level); err != nil {
		if shared.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("configure_group: delete reward: %w", err)
	}
	h.log.Info("role reward removed", logger.GroupID(groupID), logger.Level(level))
	return nil
}

// ListRewards returns the reward table by ascending level.
func (h *ConfigureGroupHandler) ListRewards(ctx context.Context, groupID string) ([]leveling.RoleReward, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, shared.ErrInvalidGroupID
	}
	rewards, err := h.groups.ListRewards(ctx, groupID)
	if err != nil {
		return nil, err
	}
	leveling.SortRewards(rewards)
	return rewards, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ignored channels
// ─────────────────────────────────────────────────────────────────────────────

func validateChannel(groupID, channelID string) error {
	if strings.TrimSpace(groupID) == "" {
		return shared.ErrInvalidGroupID
	}
	if strings.TrimSpace(channelID) == "" {
		return shared.ErrInvalidChannelID
	}
	return nil
}

// IgnoreChannel stops XP accrual in a channel. Fails if already ignored.
func (h *ConfigureGroupHandler) IgnoreChannel(ctx context.Context, groupID, channelID string) error {
	if err := validateChannel(groupID, channelID); err != nil {
		return err
	}
	added, err := h.groups.AddIgnoredChannel(ctx, groupID, channelID)
	if err != nil {
		return fmt.Errorf("configure_group: ignore channel: %w", err)
	}
	if !added {
		return shared.ErrChannelIgnored
	}
	h.log.Info("channel ignored", logger.GroupID(groupID), logger.ChannelID(channelID))
	return nil
}

// UnignoreChannel resumes XP accrual in a channel. Fails if it was not ignored.
func (h *ConfigureGroupHandler) UnignoreChannel(ctx context.Context, groupID, channelID string) error {
	if err := validateChannel(groupID, channelID); err != nil {
		return err
	}
	removed, err := h.groups.RemoveIgnoredChannel(ctx, groupID, channelID)
	if err != nil {
		return fmt.Errorf("configure_group: unignore channel: %w", err)
	}
	if !removed {
		return shared.ErrChannelNotIgnored
	}
	h.log.Info("channel unignored", logger.GroupID(groupID), logger.ChannelID(channelID))
	return nil
}

// ListIgnoredChannels returns the ignored channels of a group.
func (h *ConfigureGroupHandler) ListIgnoredChannels(ctx context.Context, groupID string) ([]string, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, shared.ErrInvalidGroupID
	}
	return h.groups.ListIgnoredChannels(ctx, groupID)
}
