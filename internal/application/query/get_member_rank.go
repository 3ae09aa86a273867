// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MEMBER RANK QUERY
// Прогресс участника и его позиция в группе.
// Ранг = количество участников со строго большим TotalXP + 1.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardScanLimit - размер выборки лидерборда для процентилей, страниц и сводок.
const LeaderboardScanLimit = 100

// MemberQuery идентифицирует участника группы.
type MemberQuery struct {
	GroupID  string
	MemberID string
}

// Validate проверяет корректность параметров запроса.
func (q MemberQuery) Validate() error {
	_, err := shared.NewProgressKey(q.GroupID, q.MemberID)
	return err
}

// MemberRankDTO - прогресс участника с позицией в рейтинге.
type MemberRankDTO struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`

	// Rank - позиция в группе (1 = лидер).
	Rank int `json:"rank"`

	// TotalMembers - количество участников с прогрессом в группе.
	TotalMembers int64 `json:"total_members"`

	Level           int   `json:"level"`
	TotalXP         int64 `json:"total_xp"`
	CurrentXP       int64 `json:"current_xp"`
	XPForNextLevel  int64 `json:"xp_for_next_level"`
	XPToNextLevel   int64 `json:"xp_to_next_level"`
	ProgressPercent int   `json:"progress_percent"`
	MessageCount    int64 `json:"message_count"`

	// LastMessageAt - время последнего засчитанного сообщения.
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// GetMemberRankHandler обрабатывает запросы позиции участника.
type GetMemberRankHandler struct {
	progress leveling.ProgressRepository
}

// NewGetMemberRankHandler создаёт новый обработчик.
func NewGetMemberRankHandler(progress leveling.ProgressRepository) *GetMemberRankHandler {
	return &GetMemberRankHandler{progress: progress}
}

// Handle выполняет запрос. Участник без записей получает нулевой прогресс;
// чтение ничего не создаёт.
func (h *GetMemberRankHandler) Handle(ctx context.Context, q MemberQuery) (*MemberRankDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p, rank, err := loadWithRank(ctx, h.progress, q.GroupID, q.MemberID)
	if err != nil {
		return nil, err
	}

	total, err := h.progress.Count(ctx, q.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get_member_rank: count members: %w", err)
	}

	return newMemberRankDTO(p, rank, total), nil
}

// loadWithRank читает прогресс (или нулевой) и вычисляет ранг.
func loadWithRank(ctx context.Context, repo leveling.ProgressRepository, groupID, memberID string) (*leveling.MemberProgress, shared.Rank, error) {
	p, err := repo.Get(ctx, groupID, memberID)
	if err != nil {
		if !shared.IsNotFound(err) {
			return nil, shared.Unranked, fmt.Errorf("load progress: %w", err)
		}
		p = leveling.NewMemberProgress(groupID, memberID)
	}

	above, err := repo.CountAbove(ctx, groupID, p.TotalXP)
	if err != nil {
		return nil, shared.Unranked, fmt.Errorf("count members above: %w", err)
	}

	return p, shared.Rank(above + 1), nil
}

func newMemberRankDTO(p *leveling.MemberProgress, rank shared.Rank, total int64) *MemberRankDTO {
	dto := &MemberRankDTO{
		GroupID:         p.GroupID,
		MemberID:        p.MemberID,
		Rank:            rank.Int(),
		TotalMembers:    total,
		Level:           p.Level,
		TotalXP:         p.TotalXP,
		CurrentXP:       p.CurrentLevelXP,
		XPForNextLevel:  p.XPForNextLevel(),
		XPToNextLevel:   p.XPToNextLevel(),
		ProgressPercent: p.ProgressPercent(),
		MessageCount:    p.MessageCount,
	}
	if p.HasLastMessage() {
		at := p.LastMessageAt
		dto.LastMessageAt = &at
	}
	return dto
}
