package redis

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KV is the subset of Cache used by GroupCache.
type KV interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// GroupCache is a read-through cache in front of a leveling.GroupRepository.
// Writes go to the repository first and then invalidate the cached key,
// so the next read sees the last writer. Concurrent misses for one key
// are collapsed into a single repository read.
type GroupCache struct {
	leveling.GroupRepository

	kv  KV
	ttl time.Duration
	sf  singleflight.Group
	log *zap.Logger
}

var _ leveling.GroupRepository = (*GroupCache)(nil)

// NewGroupCache wraps repo with a cache.
func NewGroupCache(repo leveling.GroupRepository, kv KV, ttl time.Duration, log *zap.Logger) *GroupCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &GroupCache{
		GroupRepository: repo,
		kv:              kv,
		ttl:             ttl,
		log:             log.With(logger.Component("group_cache")),
	}
}

// readThrough loads key into dest from the cache or from load.
// Cache failures other than a miss are logged and bypassed.
func readThrough[T any](ctx context.Context, c *GroupCache, key string, load func(context.Context) (T, error)) (T, error) {
	var cached T
	err := c.kv.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.kv.Set(ctx, key, val, c.ttl); err != nil {
			c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *GroupCache) invalidate(ctx context.Context, key string) {
	if err := c.kv.Delete(ctx, key); err != nil {
		c.log.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

// GetConfig returns the cached config. The caller receives its own copy.
func (c *GroupCache) GetConfig(ctx context.Context, groupID string) (*leveling.GroupConfig, error) {
	cfg, err := readThrough(ctx, c, GroupConfigKey(groupID), func(ctx context.Context) (*leveling.GroupConfig, error) {
		return c.GroupRepository.GetConfig(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// SaveConfig writes through and invalidates.
func (c *GroupCache) SaveConfig(ctx context.Context, cfg *leveling.GroupConfig) error {
	if err := c.GroupRepository.SaveConfig(ctx, cfg); err != nil {
		return err
	}
	c.invalidate(ctx, GroupConfigKey(cfg.GroupID))
	return nil
}

// ListRewards returns the cached reward table.
func (c *GroupCache) ListRewards(ctx context.Context, groupID string) ([]leveling.RoleReward, error) {
	rewards, err := readThrough(ctx, c, GroupRewardsKey(groupID), func(ctx context.Context) ([]leveling.RoleReward, error) {
		return c.GroupRepository.ListRewards(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(rewards), nil
}

// UpsertReward writes through and invalidates.
func (c *GroupCache) UpsertReward(ctx context.Context, reward leveling.RoleReward) error {
	if err := c.GroupRepository.UpsertReward(ctx, reward); err != nil {
		return err
	}
	c.invalidate(ctx, GroupRewardsKey(reward.GroupID))
	return nil
}

// DeleteReward writes through and invalidates.
func (c *GroupCache) DeleteReward(ctx context.Context, groupID string, level int) error {
	if err := c.GroupRepository.DeleteReward(ctx, groupID, level); err != nil {
		return err
	}
	c.invalidate(ctx, GroupRewardsKey(groupID))
	return nil
}

// ListIgnoredChannels returns the cached ignore list.
func (c *GroupCache) ListIgnoredChannels(ctx context.Context, groupID string) ([]string, error) {
	channels, err := readThrough(ctx, c, GroupIgnoredKey(groupID), func(ctx context.Context) ([]string, error) {
		return c.GroupRepository.ListIgnoredChannels(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(channels), nil
}

// IsChannelIgnored answers from the cached ignore list.
func (c *GroupCache) IsChannelIgnored(ctx context.Context, groupID, channelID string) (bool, error) {
	channels, err := c.ListIgnoredChannels(ctx, groupID)
	if err != nil {
		return false, err
	}
	return slices.Contains(channels, channelID), nil
}

// AddIgnoredChannel writes through and invalidates.
func (c *GroupCache) AddIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error) {
	added, err := c.GroupRepository.AddIgnoredChannel(ctx, groupID, channelID)
	if err != nil {
		return false, err
	}
	c.invalidate(ctx, GroupIgnoredKey(groupID))
	return added, nil
}

// RemoveIgnoredChannel writes through and invalidates.
func (c *GroupCache) RemoveIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error) {
	removed, err := c.GroupRepository.RemoveIgnoredChannel(ctx, groupID, channelID)
	if err != nil {
		return false, err
	}
	c.invalidate(ctx, GroupIgnoredKey(groupID))
	return removed, nil
}
