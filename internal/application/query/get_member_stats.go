package query

import (
	"context"
	"fmt"
	"math"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MEMBER STATS QUERY
// Расширенная статистика: процентиль среди топ-100, средний XP за сообщение
// и оценка количества сообщений до следующего уровня.
// ══════════════════════════════════════════════════════════════════════════════

// MemberStatsDTO - статистика участника.
type MemberStatsDTO struct {
	MemberRankDTO

	// Percentile - "топ N%" среди первых 100 участников лидерборда.
	Percentile int `json:"percentile"`

	// AvgXPPerMessage - средний XP за сообщение (округлённый).
	AvgXPPerMessage int64 `json:"avg_xp_per_message"`

	// MessagesToNextLevel - оценка сообщений до уровня; nil, если сообщений ещё не было.
	MessagesToNextLevel *int64 `json:"messages_to_next_level"`
}

// GetMemberStatsHandler обрабатывает запросы статистики участника.
type GetMemberStatsHandler struct {
	progress leveling.ProgressRepository
}

// NewGetMemberStatsHandler создаёт новый обработчик.
func NewGetMemberStatsHandler(progress leveling.ProgressRepository) *GetMemberStatsHandler {
	return &GetMemberStatsHandler{progress: progress}
}

// Handle выполняет запрос.
func (h *GetMemberStatsHandler) Handle(ctx context.Context, q MemberQuery) (*MemberStatsDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p, rank, err := loadWithRank(ctx, h.progress, q.GroupID, q.MemberID)
	if err != nil {
		return nil, fmt.Errorf("get_member_stats: %w", err)
	}

	total, err := h.progress.Count(ctx, q.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get_member_stats: count members: %w", err)
	}

	top, err := h.progress.Top(ctx, q.GroupID, LeaderboardScanLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("get_member_stats: load leaderboard: %w", err)
	}

	stats := &MemberStatsDTO{
		MemberRankDTO: *newMemberRankDTO(p, rank, total),
		Percentile:    rank.Percentile(len(top)),
	}

	if p.MessageCount > 0 {
		stats.AvgXPPerMessage = int64(math.Round(float64(p.TotalXP) / float64(p.MessageCount)))
	}
	if stats.AvgXPPerMessage > 0 {
		need := p.XPToNextLevel()
		msgs := (need + stats.AvgXPPerMessage - 1) / stats.AvgXPPerMessage
		stats.MessagesToNextLevel = &msgs
	}

	return stats, nil
}
