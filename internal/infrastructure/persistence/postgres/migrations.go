package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: MEMBER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- seq records first appearance and breaks leaderboard ties
CREATE TABLE IF NOT EXISTS member_progress (
    group_id         TEXT   NOT NULL,
    member_id        TEXT   NOT NULL,
    seq              BIGSERIAL,
    current_level_xp BIGINT NOT NULL DEFAULT 0,
    level            INTEGER NOT NULL DEFAULT 0,
    total_xp         BIGINT NOT NULL DEFAULT 0,
    messages         BIGINT NOT NULL DEFAULT 0,
    last_message_at  BIGINT NULL,

    PRIMARY KEY (group_id, member_id),
    CONSTRAINT valid_total_xp CHECK (total_xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 0)
);

CREATE INDEX IF NOT EXISTS idx_member_progress_rank
    ON member_progress (group_id, total_xp DESC, seq ASC);
`

const migration001Down = `
DROP TABLE IF EXISTS member_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: GROUP SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS group_config (
    group_id              TEXT PRIMARY KEY,
    xp_rate               DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    stack_roles           BOOLEAN NOT NULL DEFAULT TRUE,
    announcements_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    announcement_channel  TEXT NOT NULL DEFAULT '',
    announcement_template TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_xp_rate CHECK (xp_rate >= 0.1 AND xp_rate <= 10)
);

CREATE TABLE IF NOT EXISTS role_rewards (
    group_id TEXT    NOT NULL,
    level    INTEGER NOT NULL,
    role_id  TEXT    NOT NULL,

    PRIMARY KEY (group_id, level),
    CONSTRAINT valid_reward_level CHECK (level >= 1)
);

CREATE TABLE IF NOT EXISTS ignored_channels (
    group_id   TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (group_id, channel_id)
);
`

const migration002Down = `
DROP TABLE IF EXISTS ignored_channels;
DROP TABLE IF EXISTS role_rewards;
DROP TABLE IF EXISTS group_config;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is a single versioned schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// GetMigrations returns all migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_member_progress", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_group_settings", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// Migrator applies migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the built-in migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// Applied returns applied versions with their timestamps.
func (m *Migrator) Applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
// Returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}

		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.Version, mig.Name,
			)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		count++
	}

	return count, nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if _, ok := applied[mig.Version]; !ok {
			continue
		}
		return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version)
			return err
		})
	}

	return nil
}
