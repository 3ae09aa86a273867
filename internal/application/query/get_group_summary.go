package query

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET GROUP SUMMARY QUERY
// Сводка по группе поверх топ-100: суммы, средние, лидер,
// распределение по ступеням и настройки группы.
// ══════════════════════════════════════════════════════════════════════════════

// Tier - ступень участника по уровню.
type Tier string

const (
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
	TierExpert       Tier = "expert"
)

// TierFor возвращает ступень для уровня.
func TierFor(level int) Tier {
	switch {
	case level >= 50:
		return TierExpert
	case level >= 30:
		return TierAdvanced
	case level >= 10:
		return TierIntermediate
	default:
		return TierBeginner
	}
}

// GroupSummaryDTO - сводка по группе.
type GroupSummaryDTO struct {
	GroupID string `json:"group_id"`

	MemberCount   int   `json:"member_count"`
	TotalXP       int64 `json:"total_xp"`
	TotalMessages int64 `json:"total_messages"`

	// AverageLevel округлён до одного знака.
	AverageLevel float64 `json:"average_level"`
	AverageXP    int64   `json:"average_xp"`

	// TopMember - лидер группы; nil для пустой группы.
	TopMember *leveling.LeaderboardEntry `json:"top_member,omitempty"`

	Tiers map[Tier]int `json:"tiers"`

	RewardCount         int                   `json:"reward_count"`
	IgnoredChannelCount int                   `json:"ignored_channel_count"`
	Config              *leveling.GroupConfig `json:"config"`
}

// GetGroupSummaryHandler обрабатывает запросы сводки.
type GetGroupSummaryHandler struct {
	progress leveling.ProgressRepository
	groups   leveling.GroupRepository
}

// NewGetGroupSummaryHandler создаёт новый обработчик.
func NewGetGroupSummaryHandler(progress leveling.ProgressRepository, groups leveling.GroupRepository) *GetGroupSummaryHandler {
	return &GetGroupSummaryHandler{progress: progress, groups: groups}
}

// Handle выполняет запрос. Источники читаются параллельно.
func (h *GetGroupSummaryHandler) Handle(ctx context.Context, groupID string) (*GroupSummaryDTO, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, shared.ErrInvalidGroupID
	}

	var (
		entries []leveling.LeaderboardEntry
		cfg     *leveling.GroupConfig
		rewards []leveling.RoleReward
		ignored []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = loadLeaderboard(gctx, h.progress, groupID)
		return err
	})
	g.Go(func() error {
		var err error
		cfg, err = h.groups.GetConfig(gctx, groupID)
		return err
	})
	g.Go(func() error {
		var err error
		rewards, err = h.groups.ListRewards(gctx, groupID)
		return err
	})
	g.Go(func() error {
		var err error
		ignored, err = h.groups.ListIgnoredChannels(gctx, groupID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_group_summary: %w", err)
	}

	dto := &GroupSummaryDTO{
		GroupID:             groupID,
		MemberCount:         len(entries),
		Tiers:               map[Tier]int{TierBeginner: 0, TierIntermediate: 0, TierAdvanced: 0, TierExpert: 0},
		RewardCount:         len(rewards),
		IgnoredChannelCount: len(ignored),
		Config:              cfg,
	}

	var levels int64
	for _, e := range entries {
		dto.TotalXP += e.TotalXP
		dto.TotalMessages += e.MessageCount
		levels += int64(e.Level)
		dto.Tiers[TierFor(e.Level)]++
	}

	if n := len(entries); n > 0 {
		top := entries[0]
		dto.TopMember = &top
		dto.AverageLevel = math.Round(float64(levels)/float64(n)*10) / 10
		dto.AverageXP = int64(math.Round(float64(dto.TotalXP) / float64(n)))
	}

	return dto, nil
}
