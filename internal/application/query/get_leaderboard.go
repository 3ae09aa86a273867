package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Постраничный лидерборд группы: страницы по 10 записей поверх топ-100.
// Порядок: TotalXP по убыванию, при равенстве - порядок первого появления.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardPageSize - записей на странице.
const LeaderboardPageSize = 10

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	GroupID string

	// Page - номер страницы, начиная с 1. Ноль означает первую страницу.
	Page int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if strings.TrimSpace(q.GroupID) == "" {
		return shared.ErrInvalidGroupID
	}
	if q.Page < 0 {
		return shared.ErrPageOutOfRange
	}
	if q.Page == 0 {
		q.Page = 1
	}
	return nil
}

// LeaderboardDTO - страница лидерборда.
type LeaderboardDTO struct {
	GroupID    string                      `json:"group_id"`
	Entries    []leveling.LeaderboardEntry `json:"entries"`
	Page       int                         `json:"page"`
	TotalPages int                         `json:"total_pages"`

	// TotalEntries - количество записей в выборке топ-100.
	TotalEntries int `json:"total_entries"`
}

// GetLeaderboardHandler обрабатывает запросы лидерборда.
type GetLeaderboardHandler struct {
	progress leveling.ProgressRepository
}

// NewGetLeaderboardHandler создаёт новый обработчик.
func NewGetLeaderboardHandler(progress leveling.ProgressRepository) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{progress: progress}
}

// Handle выполняет запрос. Пустой лидерборд - не ошибка;
// страница за пределами непустого лидерборда - ошибка валидации.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*LeaderboardDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	entries, err := loadLeaderboard(ctx, h.progress, q.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	totalPages := (len(entries) + LeaderboardPageSize - 1) / LeaderboardPageSize
	if totalPages > 0 && q.Page > totalPages {
		return nil, shared.ErrPageOutOfRange
	}

	page := shared.NewPagination(q.Page, LeaderboardPageSize)
	start := page.Offset()
	end := start + page.Limit()
	if start > len(entries) {
		start = len(entries)
	}
	if end > len(entries) {
		end = len(entries)
	}

	return &LeaderboardDTO{
		GroupID:      q.GroupID,
		Entries:      entries[start:end],
		Page:         q.Page,
		TotalPages:   totalPages,
		TotalEntries: len(entries),
	}, nil
}

// loadLeaderboard читает топ-100 группы и проставляет ранги.
// Участники с равным TotalXP делят ранг (число участников строго выше + 1).
func loadLeaderboard(ctx context.Context, repo leveling.ProgressRepository, groupID string) ([]leveling.LeaderboardEntry, error) {
	top, err := repo.Top(ctx, groupID, LeaderboardScanLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("load top: %w", err)
	}

	entries := make([]leveling.LeaderboardEntry, 0, len(top))
	rank := shared.MinRank
	for i, p := range top {
		if i > 0 && p.TotalXP < top[i-1].TotalXP {
			rank = shared.Rank(i + 1)
		}
		entries = append(entries, leveling.NewLeaderboardEntry(rank, p))
	}
	return entries, nil
}
