package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements leveling.ProgressRepository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `group_id, member_id, current_level_xp, level, total_xp, messages, last_message_at`

// Get returns a member's progress.
func (r *ProgressRepository) Get(ctx context.Context, groupID, memberID string) (*leveling.MemberProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM member_progress WHERE group_id = $1 AND member_id = $2`

	p, err := scanProgress(r.conn.QueryRow(ctx, query, groupID, memberID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, persistErr("progress", "get", err)
	}
	return p, nil
}

// GetOrCreate inserts a zero row on first sight and returns the stored one.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, groupID, memberID string) (*leveling.MemberProgress, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO member_progress (group_id, member_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, member_id) DO NOTHING
	`, groupID, memberID)
	if err != nil {
		return nil, persistErr("progress", "get_or_create", err)
	}
	return r.Get(ctx, groupID, memberID)
}

// Save writes every progress field in a single statement.
func (r *ProgressRepository) Save(ctx context.Context, p *leveling.MemberProgress) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO member_progress (
			group_id, member_id, current_level_xp, level, total_xp, messages, last_message_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (group_id, member_id) DO UPDATE SET
			current_level_xp = EXCLUDED.current_level_xp,
			level            = EXCLUDED.level,
			total_xp         = EXCLUDED.total_xp,
			messages         = EXCLUDED.messages,
			last_message_at  = EXCLUDED.last_message_at
	`,
		p.GroupID,
		p.MemberID,
		p.CurrentLevelXP,
		p.Level,
		p.TotalXP,
		p.MessageCount,
		toMillis(p.LastMessageAt),
	)
	if err != nil {
		return persistErr("progress", "save", err)
	}
	return nil
}

// ResetGroup zeroes every member of the group. last_message_at is kept.
func (r *ProgressRepository) ResetGroup(ctx context.Context, groupID string) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE member_progress
		SET current_level_xp = 0, level = 0, total_xp = 0, messages = 0
		WHERE group_id = $1
	`, groupID)
	if err != nil {
		return 0, persistErr("progress", "reset_group", err)
	}
	return tag.RowsAffected(), nil
}

// Top returns members ordered by total XP, first-seen first on ties.
func (r *ProgressRepository) Top(ctx context.Context, groupID string, limit, offset int) ([]*leveling.MemberProgress, error) {
	query := `
		SELECT ` + progressColumns + `
		FROM member_progress
		WHERE group_id = $1
		ORDER BY total_xp DESC, seq ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.conn.Query(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, persistErr("progress", "top", err)
	}
	defer rows.Close()

	var out []*leveling.MemberProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, persistErr("progress", "top", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("progress", "top", err)
	}
	return out, nil
}

// CountAbove counts members with strictly more total XP.
func (r *ProgressRepository) CountAbove(ctx context.Context, groupID string, totalXP int64) (int64, error) {
	var n int64
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM member_progress WHERE group_id = $1 AND total_xp > $2`,
		groupID, totalXP,
	).Scan(&n)
	if err != nil {
		return 0, persistErr("progress", "count_above", err)
	}
	return n, nil
}

// Count counts members of the group.
func (r *ProgressRepository) Count(ctx context.Context, groupID string) (int64, error) {
	var n int64
	err := r.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM member_progress WHERE group_id = $1`, groupID,
	).Scan(&n)
	if err != nil {
		return 0, persistErr("progress", "count", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanProgress(row pgx.Row) (*leveling.MemberProgress, error) {
	var (
		p    leveling.MemberProgress
		last sql.NullInt64
	)
	err := row.Scan(
		&p.GroupID,
		&p.MemberID,
		&p.CurrentLevelXP,
		&p.Level,
		&p.TotalXP,
		&p.MessageCount,
		&last,
	)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		p.LastMessageAt = leveling.LastMessageFromMillis(last.Int64)
	}
	return &p, nil
}

// toMillis maps the zero time to NULL.
func toMillis(t time.Time) *int64 {
	if t.IsZero() || t.UnixMilli() <= 0 {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
