package query

import (
	"context"
	"fmt"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET MILESTONES QUERY
// Ближайшие цели участника: следующий уровень, три ближайшие награды
// и три ближайших крупных рубежа.
// ══════════════════════════════════════════════════════════════════════════════

// MajorMilestones - крупные рубежи уровней.
var MajorMilestones = []int{10, 25, 50, 75, 100}

// upcomingLimit - сколько наград и рубежей показывать.
const upcomingLimit = 3

// MilestoneDTO - одна цель.
type MilestoneDTO struct {
	Level int `json:"level"`

	// RoleID заполнен только для наград.
	RoleID string `json:"role_id,omitempty"`

	// XPToGo - суммарный XP, которого не хватает до уровня.
	XPToGo int64 `json:"xp_to_go"`

	// LevelsToGo - сколько уровней осталось.
	LevelsToGo int `json:"levels_to_go"`
}

// MilestonesDTO - результат запроса целей.
type MilestonesDTO struct {
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`

	Level   int   `json:"level"`
	TotalXP int64 `json:"total_xp"`

	NextLevel      int   `json:"next_level"`
	CurrentXP      int64 `json:"current_xp"`
	XPForNextLevel int64 `json:"xp_for_next_level"`
	XPToNextLevel  int64 `json:"xp_to_next_level"`

	NextRewards    []MilestoneDTO `json:"next_rewards"`
	NextMilestones []MilestoneDTO `json:"next_milestones"`
}

// GetMilestonesHandler обрабатывает запросы целей.
type GetMilestonesHandler struct {
	progress leveling.ProgressRepository
	groups   leveling.GroupRepository
}

// NewGetMilestonesHandler создаёт новый обработчик.
func NewGetMilestonesHandler(progress leveling.ProgressRepository, groups leveling.GroupRepository) *GetMilestonesHandler {
	return &GetMilestonesHandler{progress: progress, groups: groups}
}

// Handle выполняет запрос.
func (h *GetMilestonesHandler) Handle(ctx context.Context, q MemberQuery) (*MilestonesDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	p, _, err := loadWithRank(ctx, h.progress, q.GroupID, q.MemberID)
	if err != nil {
		return nil, fmt.Errorf("get_milestones: %w", err)
	}

	rewards, err := h.groups.ListRewards(ctx, q.GroupID)
	if err != nil {
		return nil, fmt.Errorf("get_milestones: list rewards: %w", err)
	}

	dto := &MilestonesDTO{
		GroupID:        p.GroupID,
		MemberID:       p.MemberID,
		Level:          p.Level,
		TotalXP:        p.TotalXP,
		NextLevel:      p.Level + 1,
		CurrentXP:      p.CurrentLevelXP,
		XPForNextLevel: p.XPForNextLevel(),
		XPToNextLevel:  p.XPToNextLevel(),
		NextRewards:    []MilestoneDTO{},
		NextMilestones: []MilestoneDTO{},
	}

	for _, r := range leveling.UpcomingRewards(rewards, p.Level, upcomingLimit) {
		m := milestone(p, r.Level)
		m.RoleID = r.RoleID
		dto.NextRewards = append(dto.NextRewards, m)
	}

	for _, level := range MajorMilestones {
		if level <= p.Level {
			continue
		}
		dto.NextMilestones = append(dto.NextMilestones, milestone(p, level))
		if len(dto.NextMilestones) == upcomingLimit {
			break
		}
	}

	return dto, nil
}

func milestone(p *leveling.MemberProgress, level int) MilestoneDTO {
	return MilestoneDTO{
		Level:      level,
		XPToGo:     leveling.CumulativeXPRequiredFor(level) - p.TotalXP,
		LevelsToGo: level - p.Level,
	}
}
