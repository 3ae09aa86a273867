package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed creates a member with the given total XP and message count.
func seed(t *testing.T, store *memory.Store, groupID, memberID string, total, messages int64) {
	t.Helper()
	ctx := context.Background()

	p, err := store.GetOrCreate(ctx, groupID, memberID)
	require.NoError(t, err)
	p.SetTotalXP(total)
	p.MessageCount = messages
	require.NoError(t, store.Save(ctx, p))
}

func seedMany(t *testing.T, store *memory.Store, groupID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		seed(t, store, groupID, fmt.Sprintf("m%03d", i), int64(10_000-i*10), int64(i))
	}
}

func TestGetMemberRank_KnownMember(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 1000, 40)
	seed(t, store, "g1", "b", 425, 20)
	seed(t, store, "g1", "c", 100, 5)

	ctx := context.Background()
	p, _ := store.Get(ctx, "g1", "b")
	p.LastMessageAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, p))

	dto, err := NewGetMemberRankHandler(store).Handle(ctx, MemberQuery{GroupID: "g1", MemberID: "b"})
	require.NoError(t, err)

	assert.Equal(t, 2, dto.Rank)
	assert.Equal(t, int64(3), dto.TotalMembers)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, int64(170), dto.CurrentXP)
	assert.Equal(t, int64(220), dto.XPForNextLevel)
	assert.Equal(t, int64(50), dto.XPToNextLevel)
	assert.Equal(t, 77, dto.ProgressPercent)
	require.NotNil(t, dto.LastMessageAt)
	assert.True(t, dto.LastMessageAt.Equal(p.LastMessageAt))
}

func TestGetMemberRank_UnknownMemberDoesNotCreate(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 300, 3)
	seed(t, store, "g1", "b", 0, 0)

	dto, err := NewGetMemberRankHandler(store).Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "ghost"})
	require.NoError(t, err)

	assert.Equal(t, 2, dto.Rank, "ranked after everyone with more than zero XP")
	assert.Equal(t, 0, dto.Level)
	assert.Equal(t, int64(0), dto.TotalXP)
	assert.Nil(t, dto.LastMessageAt)
	assert.Equal(t, int64(2), dto.TotalMembers)

	_, err = store.Get(context.Background(), "g1", "ghost")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)
}

func TestGetMemberRank_TiesShareRank(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 500, 1)
	seed(t, store, "g1", "b", 500, 1)
	seed(t, store, "g1", "c", 200, 1)

	h := NewGetMemberRankHandler(store)
	for member, want := range map[string]int{"a": 1, "b": 1, "c": 3} {
		dto, err := h.Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: member})
		require.NoError(t, err)
		assert.Equal(t, want, dto.Rank, member)
	}
}

func TestGetMemberRank_Validation(t *testing.T) {
	h := NewGetMemberRankHandler(memory.New())

	_, err := h.Handle(context.Background(), MemberQuery{MemberID: "a"})
	assert.ErrorIs(t, err, shared.ErrInvalidGroupID)

	_, err = h.Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "  "})
	assert.ErrorIs(t, err, shared.ErrInvalidMemberID)
}

func TestGetMemberStats(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 1000, 40)
	seed(t, store, "g1", "b", 425, 20)
	seed(t, store, "g1", "c", 100, 0)

	h := NewGetMemberStatsHandler(store)

	stats, err := h.Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Rank)
	assert.Equal(t, 67, stats.Percentile)
	assert.Equal(t, int64(21), stats.AvgXPPerMessage)
	require.NotNil(t, stats.MessagesToNextLevel)
	assert.Equal(t, int64(3), *stats.MessagesToNextLevel)

	stats, err = h.Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Percentile)

	stats, err = h.Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "c"})
	require.NoError(t, err)
	assert.Zero(t, stats.AvgXPPerMessage)
	assert.Nil(t, stats.MessagesToNextLevel, "unknown without messages")
}

func TestGetMemberStats_OutsideTopHundred(t *testing.T) {
	store := memory.New()
	seedMany(t, store, "g1", 120)

	stats, err := NewGetMemberStatsHandler(store).Handle(context.Background(), MemberQuery{GroupID: "g1", MemberID: "m110"})
	require.NoError(t, err)
	assert.Equal(t, 111, stats.Rank)
	assert.Equal(t, 0, stats.Percentile)
}
