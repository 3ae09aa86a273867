package postgres

import (
	"context"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GroupRepository implements leveling.GroupRepository for PostgreSQL.
type GroupRepository struct {
	conn *Connection
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(conn *Connection) *GroupRepository {
	return &GroupRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// GetConfig returns the stored config or defaults. Nothing is written for a new group.
func (r *GroupRepository) GetConfig(ctx context.Context, groupID string) (*leveling.GroupConfig, error) {
	cfg := leveling.DefaultGroupConfig(groupID)
	err := r.conn.QueryRow(ctx, `
		SELECT xp_rate, stack_roles, announcements_enabled, announcement_channel, announcement_template
		FROM group_config WHERE group_id = $1
	`, groupID).Scan(
		&cfg.XPRate,
		&cfg.StackRoles,
		&cfg.AnnouncementsEnabled,
		&cfg.AnnouncementChannel,
		&cfg.AnnouncementTemplate,
	)
	if err != nil {
		if IsNoRows(err) {
			return leveling.DefaultGroupConfig(groupID), nil
		}
		return nil, persistErr("group", "get_config", err)
	}
	return cfg, nil
}

// SaveConfig upserts the whole config row.
func (r *GroupRepository) SaveConfig(ctx context.Context, cfg *leveling.GroupConfig) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO group_config (
			group_id, xp_rate, stack_roles, announcements_enabled, announcement_channel, announcement_template
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id) DO UPDATE SET
			xp_rate               = EXCLUDED.xp_rate,
			stack_roles           = EXCLUDED.stack_roles,
			announcements_enabled = EXCLUDED.announcements_enabled,
			announcement_channel  = EXCLUDED.announcement_channel,
			announcement_template = EXCLUDED.announcement_template
	`,
		cfg.GroupID,
		cfg.XPRate,
		cfg.StackRoles,
		cfg.AnnouncementsEnabled,
		cfg.AnnouncementChannel,
		cfg.AnnouncementTemplate,
	)
	if err != nil {
		return persistErr("group", "save_config", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Role rewards
// ─────────────────────────────────────────────────────────────────────────────

// ListRewards returns rewards by ascending level.
func (r *GroupRepository) ListRewards(ctx context.Context, groupID string) ([]leveling.RoleReward, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT level, role_id FROM role_rewards WHERE group_id = $1 ORDER BY level ASC`, groupID)
	if err != nil {
		return nil, persistErr("group", "list_rewards", err)
	}
	defer rows.Close()

	var out []leveling.RoleReward
	for rows.Next() {
		rw := leveling.RoleReward{GroupID: groupID}
		if err := rows.Scan(&rw.Level, &rw.RoleID); err != nil {
			return nil, persistErr("group", "list_rewards", err)
		}
		out = append(out, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("group", "list_rewards", err)
	}
	return out, nil
}

// UpsertReward sets the role for a level, replacing any previous one.
func (r *GroupRepository) UpsertReward(ctx context.Context, reward leveling.RoleReward) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO role_rewards (group_id, level, role_id) VALUES ($1, $2, $3)
		ON CONFLICT (group_id, level) DO UPDATE SET role_id = EXCLUDED.role_id
	`, reward.GroupID, reward.Level, reward.RoleID)
	if err != nil {
		return persistErr("group", "upsert_reward", err)
	}
	return nil
}

// DeleteReward removes the reward for a level.
func (r *GroupRepository) DeleteReward(ctx context.Context, groupID string, level int) error {
	tag, err := r.conn.Exec(ctx,
		`DELETE FROM role_rewards WHERE group_id = $1 AND level = $2`, groupID, level)
	if err != nil {
		return persistErr("group", "delete_reward", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRewardNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ignored channels
// ─────────────────────────────────────────────────────────────────────────────

// ListIgnoredChannels returns ignored channels in insertion order.
func (r *GroupRepository) ListIgnoredChannels(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT channel_id FROM ignored_channels WHERE group_id = $1 ORDER BY created_at, channel_id`, groupID)
	if err != nil {
		return nil, persistErr("group", "list_ignored", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("group", "list_ignored", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("group", "list_ignored", err)
	}
	return out, nil
}

// IsChannelIgnored reports whether the channel is on the ignore list.
func (r *GroupRepository) IsChannelIgnored(ctx context.Context, groupID, channelID string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ignored_channels WHERE group_id = $1 AND channel_id = $2)`,
		groupID, channelID,
	).Scan(&exists)
	if err != nil {
		return false, persistErr("group", "is_ignored", err)
	}
	return exists, nil
}

// AddIgnoredChannel returns false if the channel was already ignored.
func (r *GroupRepository) AddIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO ignored_channels (group_id, channel_id) VALUES ($1, $2)
		ON CONFLICT (group_id, channel_id) DO NOTHING
	`, groupID, channelID)
	if err != nil {
		return false, persistErr("group", "add_ignored", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveIgnoredChannel returns false if the channel was not ignored.
func (r *GroupRepository) RemoveIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error) {
	tag, err := r.conn.Exec(ctx,
		`DELETE FROM ignored_channels WHERE group_id = $1 AND channel_id = $2`, groupID, channelID)
	if err != nil {
		return false, persistErr("group", "remove_ignored", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store bundles both repositories over one pool and implements leveling.Store.
type Store struct {
	*ProgressRepository
	*GroupRepository

	conn *Connection
}

// NewStore creates a Store. The caller keeps ownership of migrations.
func NewStore(conn *Connection) *Store {
	return &Store{
		ProgressRepository: NewProgressRepository(conn),
		GroupRepository:    NewGroupRepository(conn),
		conn:               conn,
	}
}

// Close closes the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

var _ leveling.Store = (*Store)(nil)
