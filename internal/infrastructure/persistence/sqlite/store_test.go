package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "leveling.sqlite"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ", 0)
	require.Error(t, err)
}

func TestProgress_GetOrCreateAndSave(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Get(ctx, "g1", "m1")
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)

	p, err := s.GetOrCreate(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.TotalXP)
	assert.False(t, p.HasLastMessage())

	at := time.UnixMilli(1_700_000_000_123).UTC()
	p.RecordMessage(425, at)
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(425), got.TotalXP)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, int64(170), got.CurrentLevelXP)
	assert.Equal(t, int64(1), got.MessageCount)
	assert.True(t, got.LastMessageAt.Equal(at))

	again, err := s.GetOrCreate(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(425), again.TotalXP)
}

func TestProgress_StoredZeroLastMessageIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO member_progress (group_id, member_id, current_level_xp, level, total_xp, messages, last_message_at)
		 VALUES ('g1', 'm1', 0, 0, 0, 0, 0)`)
	require.NoError(t, err)

	got, err := s.Get(ctx, "g1", "m1")
	require.NoError(t, err)
	assert.False(t, got.HasLastMessage())
	assert.False(t, got.InCooldown(time.UnixMilli(1_000), time.Minute))
}

func TestProgress_TopOrdersByXPThenFirstSeen(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, m := range []struct {
		id string
		xp int64
	}{{"a", 100}, {"b", 300}, {"c", 100}, {"d", 50}} {
		p, err := s.GetOrCreate(ctx, "g", m.id)
		require.NoError(t, err)
		p.SetTotalXP(m.xp)
		require.NoError(t, s.Save(ctx, p))
	}

	top, err := s.Top(ctx, "g", 10, 0)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, []string{"b", "a", "c", "d"}, []string{top[0].MemberID, top[1].MemberID, top[2].MemberID, top[3].MemberID})

	page, err := s.Top(ctx, "g", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].MemberID)

	above, err := s.CountAbove(ctx, "g", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), above)

	n, err := s.Count(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestProgress_ResetGroupKeepsLastMessage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	at := time.UnixMilli(1_000).UTC()
	for _, id := range []string{"a", "b"} {
		p, err := s.GetOrCreate(ctx, "g", id)
		require.NoError(t, err)
		p.RecordMessage(500, at)
		require.NoError(t, s.Save(ctx, p))
	}
	other, err := s.GetOrCreate(ctx, "other", "a")
	require.NoError(t, err)
	other.SetTotalXP(10)
	require.NoError(t, s.Save(ctx, other))

	n, err := s.ResetGroup(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	a, err := s.Get(ctx, "g", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.TotalXP)
	assert.Equal(t, 0, a.Level)
	assert.Equal(t, int64(0), a.MessageCount)
	assert.True(t, a.LastMessageAt.Equal(at))

	o, err := s.Get(ctx, "other", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), o.TotalXP)
}

func TestGroup_ConfigDefaultsAndSave(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cfg, err := s.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, leveling.DefaultGroupConfig("g"), cfg)

	cfg.XPRate = 2.5
	cfg.StackRoles = false
	cfg.AnnouncementChannel = "levels"
	require.NoError(t, s.SaveConfig(ctx, cfg))

	got, err := s.GetConfig(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.XPRate)
	assert.False(t, got.StackRoles)
	assert.True(t, got.AnnouncementsEnabled)
	assert.Equal(t, "levels", got.AnnouncementChannel)
}

func TestGroup_Rewards(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertReward(ctx, leveling.RoleReward{GroupID: "g", Level: 10, RoleID: "gold"}))
	require.NoError(t, s.UpsertReward(ctx, leveling.RoleReward{GroupID: "g", Level: 5, RoleID: "silver"}))
	require.NoError(t, s.UpsertReward(ctx, leveling.RoleReward{GroupID: "g", Level: 10, RoleID: "platinum"}))

	rewards, err := s.ListRewards(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []leveling.RoleReward{
		{GroupID: "g", Level: 5, RoleID: "silver"},
		{GroupID: "g", Level: 10, RoleID: "platinum"},
	}, rewards)

	require.NoError(t, s.DeleteReward(ctx, "g", 5))
	assert.ErrorIs(t, s.DeleteReward(ctx, "g", 5), shared.ErrRewardNotFound)
}

func TestGroup_IgnoredChannels(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	added, err := s.AddIgnoredChannel(ctx, "g", "spam")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddIgnoredChannel(ctx, "g", "spam")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.AddIgnoredChannel(ctx, "g", "bots")
	require.NoError(t, err)

	ignored, err := s.IsChannelIgnored(ctx, "g", "spam")
	require.NoError(t, err)
	assert.True(t, ignored)

	list, err := s.ListIgnoredChannels(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []string{"spam", "bots"}, list)

	removed, err := s.RemoveIgnoredChannel(ctx, "g", "spam")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveIgnoredChannel(ctx, "g", "spam")
	require.NoError(t, err)
	assert.False(t, removed)
}
