package query

import (
	"context"
	"testing"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMilestones(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "g1", "m1", 425, 10)

	for level, role := range map[int]string{1: "newbie", 5: "regular", 10: "veteran", 20: "elder", 30: "legend"} {
		require.NoError(t, store.UpsertReward(ctx, leveling.RoleReward{GroupID: "g1", Level: level, RoleID: role}))
	}

	dto, err := NewGetMilestonesHandler(store, store).Handle(ctx, MemberQuery{GroupID: "g1", MemberID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, 3, dto.NextLevel)
	assert.Equal(t, int64(50), dto.XPToNextLevel)

	require.Len(t, dto.NextRewards, 3)
	assert.Equal(t, MilestoneDTO{Level: 5, RoleID: "regular", XPToGo: 1150 - 425, LevelsToGo: 3}, dto.NextRewards[0])
	assert.Equal(t, "veteran", dto.NextRewards[1].RoleID)
	assert.Equal(t, "elder", dto.NextRewards[2].RoleID)

	require.Len(t, dto.NextMilestones, 3)
	assert.Equal(t, 10, dto.NextMilestones[0].Level)
	assert.Equal(t, 25, dto.NextMilestones[1].Level)
	assert.Equal(t, 50, dto.NextMilestones[2].Level)
	assert.Equal(t, leveling.CumulativeXPRequiredFor(10)-425, dto.NextMilestones[0].XPToGo)
	assert.Equal(t, 8, dto.NextMilestones[0].LevelsToGo)
}

func TestGetMilestones_HighLevel(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "g1", "m1", leveling.CumulativeXPRequiredFor(80), 0)

	dto, err := NewGetMilestonesHandler(store, store).Handle(ctx, MemberQuery{GroupID: "g1", MemberID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, 80, dto.Level)
	assert.Empty(t, dto.NextRewards)
	require.Len(t, dto.NextMilestones, 1)
	assert.Equal(t, 100, dto.NextMilestones[0].Level)
}

func TestGetMilestones_UnknownMember(t *testing.T) {
	dto, err := NewGetMilestonesHandler(memory.New(), memory.New()).Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "m1"})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.NextLevel)
	assert.Equal(t, int64(100), dto.XPToNextLevel)
	require.Len(t, dto.NextMilestones, 3)
	assert.Equal(t, 10, dto.NextMilestones[0].Level)
}
