package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticGate bool

func (g staticGate) IsEnabled(string, string) bool { return bool(g) }

// newTestIndex needs a live server at REDIS_TEST_ADDR.
func newTestIndex(t *testing.T, store *memory.Store, gate FeatureGate) *RankIndex {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewRankIndex(store, NewCacheFromClient(client), gate, nil)
}

func seed(t *testing.T, store *memory.Store, groupID string, totals map[string]int64) {
	t.Helper()
	ctx := context.Background()
	for id, xp := range totals {
		p, err := store.GetOrCreate(ctx, groupID, id)
		require.NoError(t, err)
		p.SetTotalXP(xp)
		require.NoError(t, store.Save(ctx, p))
	}
}

func TestRankIndex_MatchesStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	idx := newTestIndex(t, store, staticGate(true))

	group := "test-" + uuid.NewString()
	seed(t, store, group, map[string]int64{"a": 500, "b": 300, "c": 300, "d": 0})

	for _, total := range []int64{0, 299, 300, 500, 501} {
		want, err := store.CountAbove(ctx, group, total)
		require.NoError(t, err)
		got, err := idx.CountAbove(ctx, group, total)
		require.NoError(t, err)
		assert.Equal(t, want, got, "total %d", total)
	}

	require.NoError(t, idx.HandleXPChanged(ctx, shared.NewXPChangedEvent(group, "d", shared.SourceAdd, 0, 1000, 0, 5)))
	got, err := idx.CountAbove(ctx, group, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	require.NoError(t, idx.HandleGroupReset(ctx, shared.NewGroupResetEvent(group, 4)))
	got, err = idx.CountAbove(ctx, group, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestRankIndex_DisabledUsesStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "g", map[string]int64{"a": 10})

	// A nil client is never touched while the feature is off.
	idx := &RankIndex{ProgressRepository: store, flags: staticGate(false)}
	n, err := idx.CountAbove(ctx, "g", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, idx.HandleXPChanged(ctx, shared.NewXPChangedEvent("g", "a", shared.SourceAdd, 0, 10, 0, 0)))
}

func TestRankIndex_ReconcileRepairsDrift(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	idx := newTestIndex(t, store, staticGate(true))

	group := "test-" + uuid.NewString()
	seed(t, store, group, map[string]int64{"a": 500, "b": 300})

	n, err := idx.CountAbove(ctx, group, 300)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	assert.Contains(t, idx.Groups(), group)

	// A write that bypasses the event stream.
	seed(t, store, group, map[string]int64{"c": 900})

	_, err = idx.Reconcile(ctx)
	require.NoError(t, err)

	n, err = idx.CountAbove(ctx, group, 300)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
