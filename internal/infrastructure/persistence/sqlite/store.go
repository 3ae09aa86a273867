// Package sqlite provides an embedded SQLite progress store.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements leveling.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ leveling.Store = (*Store)(nil)

// Open opens (or creates) the database at path, applies PRAGMAs and migrations.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// single-writer engine
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db, busyTimeout); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, busyTimeout time.Duration) error {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// runMigrations executes the embedded SQL files in name order, one transaction each.
func runMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func persistErr(op string, err error) error {
	return shared.WrapError("sqlite", op, shared.ErrPersistence, "sqlite query failed", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const progressColumns = `group_id, member_id, current_level_xp, level, total_xp, messages, last_message_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgress(row rowScanner) (*leveling.MemberProgress, error) {
	var (
		p    leveling.MemberProgress
		last sql.NullInt64
	)
	if err := row.Scan(&p.GroupID, &p.MemberID, &p.CurrentLevelXP, &p.Level, &p.TotalXP, &p.MessageCount, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		p.LastMessageAt = leveling.LastMessageFromMillis(last.Int64)
	}
	return &p, nil
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() || t.UnixMilli() <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// Get returns a member's progress.
func (s *Store) Get(ctx context.Context, groupID, memberID string) (*leveling.MemberProgress, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM member_progress WHERE group_id = ? AND member_id = ?`,
		groupID, memberID)
	p, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, persistErr("get", err)
	}
	return p, nil
}

// GetOrCreate inserts a zero row on first sight. The autoincrement seq records first appearance.
func (s *Store) GetOrCreate(ctx context.Context, groupID, memberID string) (*leveling.MemberProgress, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO member_progress (group_id, member_id) VALUES (?, ?)
		 ON CONFLICT (group_id, member_id) DO NOTHING`,
		groupID, memberID)
	if err != nil {
		return nil, persistErr("get_or_create", err)
	}
	return s.Get(ctx, groupID, memberID)
}

// Save writes all progress fields in one statement.
func (s *Store) Save(ctx context.Context, p *leveling.MemberProgress) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO member_progress (group_id, member_id, current_level_xp, level, total_xp, messages, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (group_id, member_id) DO UPDATE SET
		   current_level_xp = excluded.current_level_xp,
		   level            = excluded.level,
		   total_xp         = excluded.total_xp,
		   messages         = excluded.messages,
		   last_message_at  = excluded.last_message_at`,
		p.GroupID, p.MemberID, p.CurrentLevelXP, p.Level, p.TotalXP, p.MessageCount, toMillis(p.LastMessageAt))
	if err != nil {
		return persistErr("save", err)
	}
	return nil
}

// ResetGroup zeroes all members of a group, keeping last_message_at.
func (s *Store) ResetGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE member_progress SET current_level_xp = 0, level = 0, total_xp = 0, messages = 0
		 WHERE group_id = ?`, groupID)
	if err != nil {
		return 0, persistErr("reset_group", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("reset_group", err)
	}
	return n, nil
}

// Top returns members by total XP desc, then first appearance.
func (s *Store) Top(ctx context.Context, groupID string, limit, offset int) ([]*leveling.MemberProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+progressColumns+` FROM member_progress
		 WHERE group_id = ?
		 ORDER BY total_xp DESC, seq ASC
		 LIMIT ? OFFSET ?`, groupID, limit, offset)
	if err != nil {
		return nil, persistErr("top", err)
	}
	defer rows.Close()

	var out []*leveling.MemberProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, persistErr("top", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("top", err)
	}
	return out, nil
}

// CountAbove counts members with strictly more total XP.
func (s *Store) CountAbove(ctx context.Context, groupID string, totalXP int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM member_progress WHERE group_id = ? AND total_xp > ?`,
		groupID, totalXP).Scan(&n)
	if err != nil {
		return 0, persistErr("count_above", err)
	}
	return n, nil
}

// Count counts members of a group.
func (s *Store) Count(ctx context.Context, groupID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM member_progress WHERE group_id = ?`, groupID).Scan(&n); err != nil {
		return 0, persistErr("count", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// GetConfig returns the stored config or defaults without writing.
func (s *Store) GetConfig(ctx context.Context, groupID string) (*leveling.GroupConfig, error) {
	cfg := leveling.DefaultGroupConfig(groupID)
	var stack, announce int
	err := s.db.QueryRowContext(ctx,
		`SELECT xp_rate, stack_roles, announcements_enabled, announcement_channel, announcement_template
		 FROM group_config WHERE group_id = ?`, groupID).
		Scan(&cfg.XPRate, &stack, &announce, &cfg.AnnouncementChannel, &cfg.AnnouncementTemplate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leveling.DefaultGroupConfig(groupID), nil
		}
		return nil, persistErr("get_config", err)
	}
	cfg.StackRoles = stack != 0
	cfg.AnnouncementsEnabled = announce != 0
	return cfg, nil
}

// SaveConfig upserts the config row.
func (s *Store) SaveConfig(ctx context.Context, cfg *leveling.GroupConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_config (group_id, xp_rate, stack_roles, announcements_enabled, announcement_channel, announcement_template)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (group_id) DO UPDATE SET
		   xp_rate               = excluded.xp_rate,
		   stack_roles           = excluded.stack_roles,
		   announcements_enabled = excluded.announcements_enabled,
		   announcement_channel  = excluded.announcement_channel,
		   announcement_template = excluded.announcement_template`,
		cfg.GroupID, cfg.XPRate, boolToInt(cfg.StackRoles), boolToInt(cfg.AnnouncementsEnabled),
		cfg.AnnouncementChannel, cfg.AnnouncementTemplate)
	if err != nil {
		return persistErr("save_config", err)
	}
	return nil
}

// ListRewards returns rewards by ascending level.
func (s *Store) ListRewards(ctx context.Context, groupID string) ([]leveling.RoleReward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT level, role_id FROM role_rewards WHERE group_id = ? ORDER BY level ASC`, groupID)
	if err != nil {
		return nil, persistErr("list_rewards", err)
	}
	defer rows.Close()

	var out []leveling.RoleReward
	for rows.Next() {
		rw := leveling.RoleReward{GroupID: groupID}
		if err := rows.Scan(&rw.Level, &rw.RoleID); err != nil {
			return nil, persistErr("list_rewards", err)
		}
		out = append(out, rw)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list_rewards", err)
	}
	return out, nil
}

// UpsertReward sets the role for a level.
func (s *Store) UpsertReward(ctx context.Context, reward leveling.RoleReward) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_rewards (group_id, level, role_id) VALUES (?, ?, ?)
		 ON CONFLICT (group_id, level) DO UPDATE SET role_id = excluded.role_id`,
		reward.GroupID, reward.Level, reward.RoleID)
	if err != nil {
		return persistErr("upsert_reward", err)
	}
	return nil
}

// DeleteReward removes the reward for a level.
func (s *Store) DeleteReward(ctx context.Context, groupID string, level int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM role_rewards WHERE group_id = ? AND level = ?`, groupID, level)
	if err != nil {
		return persistErr("delete_reward", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete_reward", err)
	}
	if n == 0 {
		return shared.ErrRewardNotFound
	}
	return nil
}

// ListIgnoredChannels returns ignored channels in insertion order.
func (s *Store) ListIgnoredChannels(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id FROM ignored_channels WHERE group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, persistErr("list_ignored", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("list_ignored", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list_ignored", err)
	}
	return out, nil
}

// IsChannelIgnored reports whether the channel is ignored.
func (s *Store) IsChannelIgnored(ctx context.Context, groupID, channelID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ignored_channels WHERE group_id = ? AND channel_id = ?`,
		groupID, channelID).Scan(&n)
	if err != nil {
		return false, persistErr("is_ignored", err)
	}
	return n > 0, nil
}

// AddIgnoredChannel returns false if the channel was already ignored.
func (s *Store) AddIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ignored_channels (group_id, channel_id) VALUES (?, ?)
		 ON CONFLICT (group_id, channel_id) DO NOTHING`, groupID, channelID)
	if err != nil {
		return false, persistErr("add_ignored", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("add_ignored", err)
	}
	return n == 1, nil
}

// RemoveIgnoredChannel returns false if the channel was not ignored.
func (s *Store) RemoveIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ignored_channels WHERE group_id = ? AND channel_id = ?`, groupID, channelID)
	if err != nil {
		return false, persistErr("remove_ignored", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("remove_ignored", err)
	}
	return n == 1, nil
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
