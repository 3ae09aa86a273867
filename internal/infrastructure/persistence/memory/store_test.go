package memory

import (
	"context"
	"testing"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	p, err := s.GetOrCreate(ctx, "g", "m")
	require.NoError(t, err)
	p.SetTotalXP(1000)

	stored, err := s.Get(ctx, "g", "m")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.TotalXP, "mutating a returned value must not leak into the store")
}

func TestStore_TopTiesByFirstSeen(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, id := range []string{"late", "early"} {
		_, err := s.GetOrCreate(ctx, "g", id)
		require.NoError(t, err)
	}
	for _, id := range []string{"early", "late"} {
		p, _ := s.Get(ctx, "g", id)
		p.SetTotalXP(200)
		require.NoError(t, s.Save(ctx, p))
	}

	top, err := s.Top(ctx, "g", 10, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "late", top[0].MemberID)

	empty, err := s.Top(ctx, "g", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_ResetGroup(t *testing.T) {
	ctx := context.Background()
	s := New()

	at := time.UnixMilli(42)
	p, _ := s.GetOrCreate(ctx, "g", "m")
	p.RecordMessage(300, at)
	require.NoError(t, s.Save(ctx, p))

	n, err := s.ResetGroup(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.Get(ctx, "g", "m")
	assert.Equal(t, int64(0), got.TotalXP)
	assert.True(t, got.LastMessageAt.Equal(at))
}

func TestStore_GroupSettings(t *testing.T) {
	ctx := context.Background()
	s := New()

	cfg, err := s.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.True(t, cfg.StackRoles)

	require.NoError(t, s.UpsertReward(ctx, leveling.RoleReward{GroupID: "g", Level: 20, RoleID: "b"}))
	require.NoError(t, s.UpsertReward(ctx, leveling.RoleReward{GroupID: "g", Level: 5, RoleID: "a"}))
	rewards, err := s.ListRewards(ctx, "g")
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, 5, rewards[0].Level)

	assert.ErrorIs(t, s.DeleteReward(ctx, "g", 7), shared.ErrRewardNotFound)

	added, _ := s.AddIgnoredChannel(ctx, "g", "c1")
	assert.True(t, added)
	added, _ = s.AddIgnoredChannel(ctx, "g", "c1")
	assert.False(t, added)
	removed, _ := s.RemoveIgnoredChannel(ctx, "g", "c2")
	assert.False(t, removed)
}
