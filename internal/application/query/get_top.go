package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TOP QUERY
// Топ участников по категории: xp, level или messages.
// Выборка - топ-100 по XP, пересортированная стабильно по выбранной категории.
// ══════════════════════════════════════════════════════════════════════════════

// TopCategory - критерий сортировки топа.
type TopCategory string

const (
	CategoryXP       TopCategory = "xp"
	CategoryLevel    TopCategory = "level"
	CategoryMessages TopCategory = "messages"
)

// Границы размера топа.
const (
	MinTopAmount     = 5
	MaxTopAmount     = 25
	DefaultTopAmount = 10
)

// ParseTopCategory разбирает категорию; пустая строка означает xp.
func ParseTopCategory(s string) (TopCategory, error) {
	switch c := TopCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CategoryXP, nil
	case CategoryXP, CategoryLevel, CategoryMessages:
		return c, nil
	default:
		return "", shared.ErrInvalidCategory
	}
}

// GetTopQuery содержит параметры запроса.
type GetTopQuery struct {
	GroupID  string
	Category TopCategory

	// Amount - размер топа; 0 = 10, иначе приводится к [5, 25].
	Amount int
}

// Validate проверяет и нормализует параметры.
func (q *GetTopQuery) Validate() error {
	if strings.TrimSpace(q.GroupID) == "" {
		return shared.ErrInvalidGroupID
	}
	c, err := ParseTopCategory(string(q.Category))
	if err != nil {
		return err
	}
	q.Category = c

	switch {
	case q.Amount == 0:
		q.Amount = DefaultTopAmount
	case q.Amount < MinTopAmount:
		q.Amount = MinTopAmount
	case q.Amount > MaxTopAmount:
		q.Amount = MaxTopAmount
	}
	return nil
}

// TopEntryDTO - строка топа.
type TopEntryDTO struct {
	Position int    `json:"position"`
	Medal    string `json:"medal,omitempty"`
	leveling.LeaderboardEntry

	// Value - значение выбранной категории.
	Value int64 `json:"value"`
}

// TopDTO - результат запроса топа.
type TopDTO struct {
	GroupID  string        `json:"group_id"`
	Category TopCategory   `json:"category"`
	Entries  []TopEntryDTO `json:"entries"`

	// Average - среднее значение категории по выборке топ-100 (округлённое).
	Average int64 `json:"average"`
}

// GetTopHandler обрабатывает запросы топа.
type GetTopHandler struct {
	progress leveling.ProgressRepository
}

// NewGetTopHandler создаёт новый обработчик.
func NewGetTopHandler(progress leveling.ProgressRepository) *GetTopHandler {
	return &GetTopHandler{progress: progress}
}

// Handle выполняет запрос.
func (h *GetTopHandler) Handle(ctx context.Context, q GetTopQuery) (*TopDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	entries, err := loadLeaderboard(ctx, h.progress, q.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get_top: %w", err)
	}

	value := categoryValue(q.Category)
	if q.Category != CategoryXP {
		sort.SliceStable(entries, func(i, j int) bool {
			return value(entries[i]) > value(entries[j])
		})
	}

	dto := &TopDTO{
		GroupID:  q.GroupID,
		Category: q.Category,
		Entries:  make([]TopEntryDTO, 0, q.Amount),
	}

	var sum int64
	for _, e := range entries {
		sum += value(e)
	}
	if len(entries) > 0 {
		dto.Average = int64(math.Round(float64(sum) / float64(len(entries))))
	}

	for i, e := range entries {
		if i == q.Amount {
			break
		}
		pos := shared.Rank(i + 1)
		dto.Entries = append(dto.Entries, TopEntryDTO{
			Position:         pos.Int(),
			Medal:            pos.Medal(),
			LeaderboardEntry: e,
			Value:            value(e),
		})
	}

	return dto, nil
}

func categoryValue(c TopCategory) func(leveling.LeaderboardEntry) int64 {
	switch c {
	case CategoryLevel:
		return func(e leveling.LeaderboardEntry) int64 { return int64(e.Level) }
	case CategoryMessages:
		return func(e leveling.LeaderboardEntry) int64 { return e.MessageCount }
	default:
		return func(e leveling.LeaderboardEntry) int64 { return e.TotalXP }
	}
}
