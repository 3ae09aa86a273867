package query

import (
	"context"
	"testing"

	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLeaderboard_Pages(t *testing.T) {
	store := memory.New()
	seedMany(t, store, "g1", 25)
	h := NewGetLeaderboardHandler(store)

	tests := []struct {
		page      int
		wantLen   int
		wantFirst string
		wantRank  shared.Rank
	}{
		{0, 10, "m000", 1},
		{1, 10, "m000", 1},
		{2, 10, "m010", 11},
		{3, 5, "m020", 21},
	}

	for _, tt := range tests {
		dto, err := h.Handle(context.Background(), GetLeaderboardQuery{GroupID: "g1", Page: tt.page})
		require.NoError(t, err, "page %d", tt.page)
		assert.Equal(t, 3, dto.TotalPages)
		assert.Equal(t, 25, dto.TotalEntries)
		require.Len(t, dto.Entries, tt.wantLen)
		assert.Equal(t, tt.wantFirst, dto.Entries[0].MemberID)
		assert.Equal(t, tt.wantRank, dto.Entries[0].Rank)
	}

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{GroupID: "g1", Page: 4})
	assert.ErrorIs(t, err, shared.ErrPageOutOfRange)
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), GetLeaderboardQuery{GroupID: "g1", Page: -1})
	assert.ErrorIs(t, err, shared.ErrPageOutOfRange)
}

func TestGetLeaderboard_CappedAtHundred(t *testing.T) {
	store := memory.New()
	seedMany(t, store, "g1", 130)

	dto, err := NewGetLeaderboardHandler(store).Handle(context.Background(), GetLeaderboardQuery{GroupID: "g1", Page: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, dto.TotalPages)
	assert.Equal(t, 100, dto.TotalEntries)
	assert.Equal(t, "m099", dto.Entries[9].MemberID)
}

func TestGetLeaderboard_EmptyAndTies(t *testing.T) {
	h := NewGetLeaderboardHandler(memory.New())
	dto, err := h.Handle(context.Background(), GetLeaderboardQuery{GroupID: "g1", Page: 1})
	require.NoError(t, err)
	assert.Empty(t, dto.Entries)
	assert.Zero(t, dto.TotalPages)

	store := memory.New()
	seed(t, store, "g1", "first", 300, 1)
	seed(t, store, "g1", "second", 300, 1)
	seed(t, store, "g1", "third", 50, 1)

	dto, err = NewGetLeaderboardHandler(store).Handle(context.Background(), GetLeaderboardQuery{GroupID: "g1"})
	require.NoError(t, err)
	require.Len(t, dto.Entries, 3)
	assert.Equal(t, "first", dto.Entries[0].MemberID, "ties keep first-seen order")
	assert.Equal(t, shared.Rank(1), dto.Entries[1].Rank)
	assert.Equal(t, shared.Rank(3), dto.Entries[2].Rank)
}

func TestGetTop(t *testing.T) {
	store := memory.New()
	seed(t, store, "g1", "a", 1000, 10)
	seed(t, store, "g1", "b", 500, 80)
	seed(t, store, "g1", "c", 400, 80)
	seed(t, store, "g1", "d", 100, 30)
	h := NewGetTopHandler(store)

	dto, err := h.Handle(context.Background(), GetTopQuery{GroupID: "g1", Category: "messages"})
	require.NoError(t, err)
	require.Len(t, dto.Entries, 4)
	assert.Equal(t, CategoryMessages, dto.Category)
	assert.Equal(t, []string{"b", "c", "d", "a"}, []string{
		dto.Entries[0].MemberID, dto.Entries[1].MemberID, dto.Entries[2].MemberID, dto.Entries[3].MemberID,
	})
	assert.Equal(t, int64(80), dto.Entries[0].Value)
	assert.Equal(t, "🥇", dto.Entries[0].Medal)
	assert.Equal(t, int64(50), dto.Average)

	dto, err = h.Handle(context.Background(), GetTopQuery{GroupID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, CategoryXP, dto.Category)
	assert.Equal(t, "a", dto.Entries[0].MemberID)
	assert.Equal(t, int64(500), dto.Average)

	_, err = h.Handle(context.Background(), GetTopQuery{GroupID: "g1", Category: "karma"})
	assert.ErrorIs(t, err, shared.ErrInvalidCategory)
}

func TestGetTopQuery_AmountBounds(t *testing.T) {
	for amount, want := range map[int]int{0: 10, 1: 5, 5: 5, 17: 17, 25: 25, 99: 25} {
		q := GetTopQuery{GroupID: "g1", Amount: amount}
		require.NoError(t, q.Validate())
		assert.Equal(t, want, q.Amount, "amount %d", amount)
	}

	store := memory.New()
	seedMany(t, store, "g1", 40)
	dto, err := NewGetTopHandler(store).Handle(context.Background(), GetTopQuery{GroupID: "g1", Category: "level", Amount: 30})
	require.NoError(t, err)
	assert.Len(t, dto.Entries, 25)
}
