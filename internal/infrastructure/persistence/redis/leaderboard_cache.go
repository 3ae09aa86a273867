package redis

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/levelhub/chat-leveling/config"
	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rebuildPageSize bounds one Top() read while warming an index.
const rebuildPageSize = 500

// FeatureGate reports whether a feature is on for a group.
type FeatureGate interface {
	IsEnabled(feature, groupID string) bool
}

// RankIndex mirrors member totals into a Redis sorted set per group.
//
// Layout:
//   - ZSET "leaderboard:xp:{group}" member -> total XP
//   - STRING "leaderboard:ready:{group}" set once the ZSET reflects the store
//
// Rank lookups become ZCOUNT (total, +inf] instead of a table scan. The index
// is kept current by XP events; a group without the ready marker is rebuilt
// from the store on first use.
//
// RankIndex wraps a leveling.ProgressRepository and only overrides CountAbove.
type RankIndex struct {
	leveling.ProgressRepository

	client *redis.Client
	flags  FeatureGate
	log    *zap.Logger

	// seen holds groups this process has served, for Reconcile.
	seen sync.Map
}

var _ leveling.ProgressRepository = (*RankIndex)(nil)

// NewRankIndex creates a RankIndex over repo.
func NewRankIndex(repo leveling.ProgressRepository, cache *Cache, flags FeatureGate, log *zap.Logger) *RankIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &RankIndex{
		ProgressRepository: repo,
		client:             cache.Client(),
		flags:              flags,
		log:                log.With(logger.Component("rank_index")),
	}
}

func (r *RankIndex) enabled(groupID string) bool {
	return r.flags == nil || r.flags.IsEnabled(config.FeatureRankMirror, groupID)
}

// CountAbove counts members with strictly more XP using the sorted set.
// Redis failures fall back to the wrapped repository.
func (r *RankIndex) CountAbove(ctx context.Context, groupID string, totalXP int64) (int64, error) {
	if !r.enabled(groupID) {
		return r.ProgressRepository.CountAbove(ctx, groupID, totalXP)
	}

	if err := r.ensureWarm(ctx, groupID); err != nil {
		r.log.Warn("rank index unavailable, using store", logger.GroupID(groupID), zap.Error(err))
		return r.ProgressRepository.CountAbove(ctx, groupID, totalXP)
	}

	n, err := r.client.ZCount(ctx, RankIndexKey(groupID), "("+strconv.FormatInt(totalXP, 10), "+inf").Result()
	if err != nil {
		r.log.Warn("rank index count failed, using store", logger.GroupID(groupID), zap.Error(err))
		return r.ProgressRepository.CountAbove(ctx, groupID, totalXP)
	}
	return n, nil
}

func (r *RankIndex) ensureWarm(ctx context.Context, groupID string) error {
	r.seen.Store(groupID, struct{}{})
	ready, err := r.client.Exists(ctx, rankReadyKey(groupID)).Result()
	if err != nil {
		return err
	}
	if ready > 0 {
		return nil
	}
	return r.Rebuild(ctx, groupID)
}

// Rebuild reloads a group's sorted set from the store.
func (r *RankIndex) Rebuild(ctx context.Context, groupID string) error {
	key := RankIndexKey(groupID)

	var members []redis.Z
	for offset := 0; ; offset += rebuildPageSize {
		page, err := r.ProgressRepository.Top(ctx, groupID, rebuildPageSize, offset)
		if err != nil {
			return err
		}
		for _, p := range page {
			if p.TotalXP > 0 {
				members = append(members, redis.Z{Score: float64(p.TotalXP), Member: p.MemberID})
			}
		}
		if len(page) < rebuildPageSize {
			break
		}
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, key, members...)
		}
		pipe.Set(ctx, rankReadyKey(groupID), "1", 0)
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info("rank index rebuilt", logger.GroupID(groupID), zap.Int("members", len(members)))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// HandleXPChanged applies a member's new total to the index.
func (r *RankIndex) HandleXPChanged(ctx context.Context, event shared.Event) error {
	ev, ok := event.(shared.XPChangedEvent)
	if !ok {
		return errors.New("rank index: unexpected event type")
	}
	if !r.enabled(ev.GroupID) {
		return nil
	}
	r.seen.Store(ev.GroupID, struct{}{})

	// Until the group is warm the rebuild will pick this write up from the store.
	ready, err := r.client.Exists(ctx, rankReadyKey(ev.GroupID)).Result()
	if err != nil || ready == 0 {
		return err
	}

	key := RankIndexKey(ev.GroupID)
	if ev.NewTotalXP <= 0 {
		return r.client.ZRem(ctx, key, ev.MemberID).Err()
	}
	return r.client.ZAdd(ctx, key, redis.Z{Score: float64(ev.NewTotalXP), Member: ev.MemberID}).Err()
}

// HandleGroupReset empties the group's index. All members are at zero,
// so an empty ready index is exact.
func (r *RankIndex) HandleGroupReset(ctx context.Context, event shared.Event) error {
	ev, ok := event.(shared.GroupResetEvent)
	if !ok {
		return errors.New("rank index: unexpected event type")
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, RankIndexKey(ev.GroupID))
		pipe.Set(ctx, rankReadyKey(ev.GroupID), "1", 0)
		return nil
	})
	return err
}

// Register subscribes the index to XP events.
func (r *RankIndex) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventXPChanged, r.HandleXPChanged); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventGroupReset, r.HandleGroupReset)
}

// Groups returns the groups this process has touched, sorted.
func (r *RankIndex) Groups() []string {
	var out []string
	r.seen.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Reconcile rebuilds every touched group, repairing drift from missed events.
// It returns the number of groups rebuilt and the first error.
func (r *RankIndex) Reconcile(ctx context.Context) (int, error) {
	var (
		rebuilt  int
		firstErr error
	)
	for _, groupID := range r.Groups() {
		if ctx.Err() != nil {
			return rebuilt, ctx.Err()
		}
		if !r.enabled(groupID) {
			continue
		}
		if err := r.Rebuild(ctx, groupID); err != nil {
			r.log.Warn("rank index reconcile failed", logger.GroupID(groupID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		rebuilt++
	}
	return rebuilt, firstErr
}
