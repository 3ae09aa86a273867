package query

import (
	"context"
	"fmt"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPARE MEMBERS QUERY
// Сравнение двух участников одной группы по уровню, XP, рангу и сообщениям.
// ══════════════════════════════════════════════════════════════════════════════

// CompareWinner - победитель в категории.
type CompareWinner string

const (
	WinnerFirst  CompareWinner = "first"
	WinnerSecond CompareWinner = "second"
	WinnerNone   CompareWinner = "none"
)

// CompareMembersQuery содержит параметры сравнения.
type CompareMembersQuery struct {
	GroupID        string
	FirstMemberID  string
	SecondMemberID string
}

// Validate проверяет параметры. Сравнение участника с самим собой запрещено.
func (q CompareMembersQuery) Validate() error {
	if err := (MemberQuery{GroupID: q.GroupID, MemberID: q.FirstMemberID}).Validate(); err != nil {
		return err
	}
	if err := (MemberQuery{GroupID: q.GroupID, MemberID: q.SecondMemberID}).Validate(); err != nil {
		return err
	}
	if q.FirstMemberID == q.SecondMemberID {
		return shared.ErrSameMember
	}
	return nil
}

// CompareSideDTO - показатели одного участника.
type CompareSideDTO struct {
	MemberID     string `json:"member_id"`
	Level        int    `json:"level"`
	TotalXP      int64  `json:"total_xp"`
	Rank         int    `json:"rank"`
	MessageCount int64  `json:"message_count"`

	// Score - количество выигранных категорий.
	Score int `json:"score"`
}

// CompareDTO - результат сравнения.
type CompareDTO struct {
	GroupID string         `json:"group_id"`
	First   CompareSideDTO `json:"first"`
	Second  CompareSideDTO `json:"second"`

	LevelWinner    CompareWinner `json:"level_winner"`
	XPWinner       CompareWinner `json:"xp_winner"`
	RankWinner     CompareWinner `json:"rank_winner"`
	MessagesWinner CompareWinner `json:"messages_winner"`

	// Overall - участник с большим Score; none при равенстве.
	Overall CompareWinner `json:"overall"`
}

// CompareMembersHandler обрабатывает запросы сравнения.
type CompareMembersHandler struct {
	progress leveling.ProgressRepository
}

// NewCompareMembersHandler создаёт новый обработчик.
func NewCompareMembersHandler(progress leveling.ProgressRepository) *CompareMembersHandler {
	return &CompareMembersHandler{progress: progress}
}

// Handle выполняет запрос.
func (h *CompareMembersHandler) Handle(ctx context.Context, q CompareMembersQuery) (*CompareDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	a, rankA, err := loadWithRank(ctx, h.progress, q.GroupID, q.FirstMemberID)
	if err != nil {
		return nil, fmt.Errorf("compare_members: %w", err)
	}
	b, rankB, err := loadWithRank(ctx, h.progress, q.GroupID, q.SecondMemberID)
	if err != nil {
		return nil, fmt.Errorf("compare_members: %w", err)
	}

	dto := &CompareDTO{
		GroupID: q.GroupID,
		First:   compareSide(a, rankA),
		Second:  compareSide(b, rankB),
	}

	dto.LevelWinner = higher(int64(a.Level), int64(b.Level))
	dto.XPWinner = higher(a.TotalXP, b.TotalXP)
	// Меньший ранг лучше.
	dto.RankWinner = higher(int64(rankB), int64(rankA))
	dto.MessagesWinner = higher(a.MessageCount, b.MessageCount)

	for _, w := range []CompareWinner{dto.LevelWinner, dto.XPWinner, dto.RankWinner, dto.MessagesWinner} {
		switch w {
		case WinnerFirst:
			dto.First.Score++
		case WinnerSecond:
			dto.Second.Score++
		}
	}
	dto.Overall = higher(int64(dto.First.Score), int64(dto.Second.Score))

	return dto, nil
}

func compareSide(p *leveling.MemberProgress, rank shared.Rank) CompareSideDTO {
	return CompareSideDTO{
		MemberID:     p.MemberID,
		Level:        p.Level,
		TotalXP:      p.TotalXP,
		Rank:         rank.Int(),
		MessageCount: p.MessageCount,
	}
}

func higher(first, second int64) CompareWinner {
	switch {
	case first > second:
		return WinnerFirst
	case second > first:
		return WinnerSecond
	default:
		return WinnerNone
	}
}
