package query

import (
	"context"
	"testing"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareMembers(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 1000, 10)
	seed(t, store, "g1", "b", 500, 90)
	h := NewCompareMembersHandler(store)

	dto, err := h.Handle(context.Background(), CompareMembersQuery{GroupID: "g1", FirstMemberID: "a", SecondMemberID: "b"})
	require.NoError(t, err)

	assert.Equal(t, WinnerFirst, dto.LevelWinner)
	assert.Equal(t, WinnerFirst, dto.XPWinner)
	assert.Equal(t, WinnerFirst, dto.RankWinner)
	assert.Equal(t, WinnerSecond, dto.MessagesWinner)
	assert.Equal(t, 3, dto.First.Score)
	assert.Equal(t, 1, dto.Second.Score)
	assert.Equal(t, WinnerFirst, dto.Overall)
	assert.Equal(t, 1, dto.First.Rank)
	assert.Equal(t, 2, dto.Second.Rank)
}

func TestCompareMembers_TiesAndUnknown(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 0, 0)

	dto, err := NewCompareMembersHandler(store).Handle(context.Background(), CompareMembersQuery{
		GroupID: "g1", FirstMemberID: "a", SecondMemberID: "ghost",
	})
	require.NoError(t, err)

	for _, w := range []CompareWinner{dto.LevelWinner, dto.XPWinner, dto.RankWinner, dto.MessagesWinner, dto.Overall} {
		assert.Equal(t, WinnerNone, w)
	}
	assert.Zero(t, dto.First.Score)
	assert.Zero(t, dto.Second.Score)
}

func TestCompareMembers_SameMember(t *testing.T) {
	_, err := NewCompareMembersHandler(memory.New()).Handle(context.Background(), CompareMembersQuery{
		GroupID: "g1", FirstMemberID: "a", SecondMemberID: "a",
	})
	assert.ErrorIs(t, err, shared.ErrSameMember)
	assert.True(t, shared.IsValidation(err))
}

func TestGetGroupSummary(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "g1", "expert", leveling.CumulativeXPRequiredFor(55), 500)
	seed(t, store, "g1", "advanced", leveling.CumulativeXPRequiredFor(30), 300)
	seed(t, store, "g1", "mid", leveling.CumulativeXPRequiredFor(10), 100)
	seed(t, store, "g1", "new", 425, 20)
	seed(t, store, "g2", "other", 99999, 1)

	require.NoError(t, store.UpsertReward(ctx, leveling.RoleReward{GroupID: "g1", Level: 5, RoleID: "r5"}))
	_, err := store.AddIgnoredChannel(ctx, "g1", "spam")
	require.NoError(t, err)

	dto, err := NewGetGroupSummaryHandler(store, store).Handle(ctx, "g1")
	require.NoError(t, err)

	assert.Equal(t, 4, dto.MemberCount)
	assert.Equal(t, int64(920), dto.TotalMessages)
	assert.Equal(t, 24.3, dto.AverageLevel)
	assert.Equal(t, map[Tier]int{TierBeginner: 1, TierIntermediate: 1, TierAdvanced: 1, TierExpert: 1}, dto.Tiers)
	require.NotNil(t, dto.TopMember)
	assert.Equal(t, "expert", dto.TopMember.MemberID)
	assert.Equal(t, 1, dto.RewardCount)
	assert.Equal(t, 1, dto.IgnoredChannelCount)
	assert.Equal(t, leveling.DefaultXPRate, dto.Config.XPRate)
}

func TestGetGroupSummary_Empty(t *testing.T) {
	dto, err := NewGetGroupSummaryHandler(memory.New(), memory.New()).Handle(context.Background(), "g1")
	require.NoError(t, err)
	assert.Zero(t, dto.MemberCount)
	assert.Nil(t, dto.TopMember)
	assert.Zero(t, dto.AverageLevel)

	_, err = NewGetGroupSummaryHandler(memory.New(), memory.New()).Handle(context.Background(), "")
	assert.ErrorIs(t, err, shared.ErrInvalidGroupID)
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierBeginner, TierFor(9))
	assert.Equal(t, TierIntermediate, TierFor(10))
	assert.Equal(t, TierIntermediate, TierFor(29))
	assert.Equal(t, TierAdvanced, TierFor(30))
	assert.Equal(t, TierExpert, TierFor(50))
}
