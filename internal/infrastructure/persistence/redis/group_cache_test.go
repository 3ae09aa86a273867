package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapKV stores JSON like Cache does, without a server.
type mapKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMapKV() *mapKV { return &mapKV{data: make(map[string][]byte)} }

func (m *mapKV) Get(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return errors.New("connection refused")
	}
	b, ok := m.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (m *mapKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *mapKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *mapKV) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// countingRepo counts config reads that reach the store.
type countingRepo struct {
	leveling.GroupRepository
	reads atomic.Int32
}

func (c *countingRepo) GetConfig(ctx context.Context, groupID string) (*leveling.GroupConfig, error) {
	c.reads.Add(1)
	return c.GroupRepository.GetConfig(ctx, groupID)
}

func TestGroupCache_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{GroupRepository: memory.New()}
	kv := newMapKV()
	c := NewGroupCache(repo, kv, time.Minute, nil)

	cfg, err := c.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, leveling.DefaultXPRate, cfg.XPRate)
	assert.True(t, kv.has(GroupConfigKey("g")))

	_, err = c.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, int32(1), repo.reads.Load())

	cfg.XPRate = 3
	require.NoError(t, c.SaveConfig(ctx, cfg))
	assert.False(t, kv.has(GroupConfigKey("g")))

	got, err := c.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.XPRate)
	assert.Equal(t, int32(2), repo.reads.Load())
}

func TestGroupCache_ReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	c := NewGroupCache(memory.New(), newMapKV(), time.Minute, nil)

	a, err := c.GetConfig(ctx, "g")
	require.NoError(t, err)
	a.StackRoles = false

	b, err := c.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.True(t, b.StackRoles)
}

func TestGroupCache_RewardsAndIgnoredInvalidateOnWrite(t *testing.T) {
	ctx := context.Background()
	c := NewGroupCache(memory.New(), newMapKV(), time.Minute, nil)

	rewards, err := c.ListRewards(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, rewards)

	require.NoError(t, c.UpsertReward(ctx, leveling.RoleReward{GroupID: "g", Level: 5, RoleID: "r5"}))
	rewards, err = c.ListRewards(ctx, "g")
	require.NoError(t, err)
	require.Len(t, rewards, 1)

	ignored, err := c.IsChannelIgnored(ctx, "g", "spam")
	require.NoError(t, err)
	assert.False(t, ignored)

	added, err := c.AddIgnoredChannel(ctx, "g", "spam")
	require.NoError(t, err)
	assert.True(t, added)

	ignored, err = c.IsChannelIgnored(ctx, "g", "spam")
	require.NoError(t, err)
	assert.True(t, ignored)
}

func TestGroupCache_CacheFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	kv.failGet = true
	c := NewGroupCache(memory.New(), kv, time.Minute, nil)

	cfg, err := c.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "g", cfg.GroupID)
}
