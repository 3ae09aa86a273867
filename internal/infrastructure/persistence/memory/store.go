// Package memory provides an in-process store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

type record struct {
	seq      int64
	progress *leveling.MemberProgress
}

type group struct {
	config  *leveling.GroupConfig
	rewards map[int]string
	ignored []string
}

// Store implements leveling.Store in memory. Values are copied on the way in and out.
type Store struct {
	mu       sync.RWMutex
	seq      int64
	progress map[shared.ProgressKey]*record
	groups   map[string]*group
}

var _ leveling.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		progress: make(map[shared.ProgressKey]*record),
		groups:   make(map[string]*group),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Get returns a member's progress.
func (s *Store) Get(_ context.Context, groupID, memberID string) (*leveling.MemberProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.progress[shared.ProgressKey{GroupID: groupID, MemberID: memberID}]
	if !ok {
		return nil, shared.ErrProgressNotFound
	}
	return rec.progress.Clone(), nil
}

// GetOrCreate returns the member's progress, creating a zero record on first sight.
func (s *Store) GetOrCreate(_ context.Context, groupID, memberID string) (*leveling.MemberProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getOrCreateLocked(groupID, memberID).progress.Clone(), nil
}

func (s *Store) getOrCreateLocked(groupID, memberID string) *record {
	key := shared.ProgressKey{GroupID: groupID, MemberID: memberID}
	rec, ok := s.progress[key]
	if !ok {
		s.seq++
		rec = &record{seq: s.seq, progress: leveling.NewMemberProgress(groupID, memberID)}
		s.progress[key] = rec
	}
	return rec
}

// Save replaces the stored record.
func (s *Store) Save(_ context.Context, p *leveling.MemberProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.getOrCreateLocked(p.GroupID, p.MemberID)
	rec.progress = p.Clone()
	return nil
}

// ResetGroup zeroes every member of the group.
func (s *Store) ResetGroup(_ context.Context, groupID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.progress {
		if key.GroupID != groupID {
			continue
		}
		rec.progress.Reset()
		n++
	}
	return n, nil
}

// Top returns members by total XP desc, then first appearance.
func (s *Store) Top(_ context.Context, groupID string, limit, offset int) ([]*leveling.MemberProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []*record
	for key, rec := range s.progress {
		if key.GroupID == groupID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].progress.TotalXP != recs[j].progress.TotalXP {
			return recs[i].progress.TotalXP > recs[j].progress.TotalXP
		}
		return recs[i].seq < recs[j].seq
	})

	if offset >= len(recs) {
		return nil, nil
	}
	recs = recs[offset:]
	if limit >= 0 && limit < len(recs) {
		recs = recs[:limit]
	}

	out := make([]*leveling.MemberProgress, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.progress.Clone())
	}
	return out, nil
}

// CountAbove counts members with strictly more total XP.
func (s *Store) CountAbove(_ context.Context, groupID string, totalXP int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for key, rec := range s.progress {
		if key.GroupID == groupID && rec.progress.TotalXP > totalXP {
			n++
		}
	}
	return n, nil
}

// Count counts members of the group.
func (s *Store) Count(_ context.Context, groupID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for key := range s.progress {
		if key.GroupID == groupID {
			n++
		}
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) groupLocked(groupID string) *group {
	g, ok := s.groups[groupID]
	if !ok {
		g = &group{rewards: make(map[int]string)}
		s.groups[groupID] = g
	}
	return g
}

// GetConfig returns the stored config or defaults.
func (s *Store) GetConfig(_ context.Context, groupID string) (*leveling.GroupConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if g, ok := s.groups[groupID]; ok && g.config != nil {
		return g.config.Clone(), nil
	}
	return leveling.DefaultGroupConfig(groupID), nil
}

// SaveConfig stores the config.
func (s *Store) SaveConfig(_ context.Context, cfg *leveling.GroupConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groupLocked(cfg.GroupID).config = cfg.Clone()
	return nil
}

// ListRewards returns rewards by ascending level.
func (s *Store) ListRewards(_ context.Context, groupID string) ([]leveling.RoleReward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	out := make([]leveling.RoleReward, 0, len(g.rewards))
	for level, role := range g.rewards {
		out = append(out, leveling.RoleReward{GroupID: groupID, Level: level, RoleID: role})
	}
	leveling.SortRewards(out)
	return out, nil
}

// UpsertReward sets the role for a level.
func (s *Store) UpsertReward(_ context.Context, reward leveling.RoleReward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groupLocked(reward.GroupID).rewards[reward.Level] = reward.RoleID
	return nil
}

// DeleteReward removes the reward for a level.
func (s *Store) DeleteReward(_ context.Context, groupID string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return shared.ErrRewardNotFound
	}
	if _, ok := g.rewards[level]; !ok {
		return shared.ErrRewardNotFound
	}
	delete(g.rewards, level)
	return nil
}

// ListIgnoredChannels returns ignored channels in insertion order.
func (s *Store) ListIgnoredChannels(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), g.ignored...), nil
}

// IsChannelIgnored reports whether the channel is ignored.
func (s *Store) IsChannelIgnored(_ context.Context, groupID, channelID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return false, nil
	}
	return indexOf(g.ignored, channelID) >= 0, nil
}

// AddIgnoredChannel returns false if the channel was already ignored.
func (s *Store) AddIgnoredChannel(_ context.Context, groupID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.groupLocked(groupID)
	if indexOf(g.ignored, channelID) >= 0 {
		return false, nil
	}
	g.ignored = append(g.ignored, channelID)
	return true, nil
}

// RemoveIgnoredChannel returns false if the channel was not ignored.
func (s *Store) RemoveIgnoredChannel(_ context.Context, groupID, channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return false, nil
	}
	i := indexOf(g.ignored, channelID)
	if i < 0 {
		return false, nil
	}
	g.ignored = append(g.ignored[:i], g.ignored[i+1:]...)
	return true, nil
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
