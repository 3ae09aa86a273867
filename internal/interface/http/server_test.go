package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/levelhub/chat-leveling/internal/application/command"
	"github.com/levelhub/chat-leveling/internal/application/query"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/levelhub/chat-leveling/internal/interface/http/handlers"
	"github.com/levelhub/chat-leveling/pkg/keylock"
)

const adminToken = "s3cret"

type testEnv struct {
	store  *memory.Store
	server *Server
}

func newTestEnv(t *testing.T, tokenHash string) *testEnv {
	t.Helper()

	store := memory.New()
	locks := keylock.New()
	fixed := func(min, max int) int { return 20 }

	deps := Dependencies{
		RecordMessage: command.NewRecordMessageHandler(store, store, nil, locks,
			command.DefaultAccrualConfig(), nil, command.WithRandomInt(fixed)),
		AdminXP:        command.NewAdminXPHandler(store, nil, locks, nil),
		ConfigureGroup: command.NewConfigureGroupHandler(store, nil),
		MemberRank:     query.NewGetMemberRankHandler(store),
		MemberStats:    query.NewGetMemberStatsHandler(store),
		Milestones:     query.NewGetMilestonesHandler(store, store),
		Leaderboard:    query.NewGetLeaderboardHandler(store),
		Top:            query.NewGetTopHandler(store),
		Compare:        query.NewCompareMembersHandler(store),
		GroupSummary:   query.NewGetGroupSummaryHandler(store, store),
		Health:         handlers.NewHealthChecker("test"),
	}

	cfg := DefaultConfig()
	cfg.GinMode = gin.TestMode
	cfg.RateLimitPerMinute = 0
	cfg.AdminTokenHash = tokenHash

	return &testEnv{store: store, server: NewServer(cfg, deps)}
}

func testHash(t *testing.T) string {
	t.Helper()
	h, err := handlers.HashToken(adminToken, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error envelope expected: %s", rec.Body.String())
	return e["code"].(string)
}

func message(member string, at time.Time) MessageEventRequest {
	return MessageEventRequest{MemberID: member, GroupID: "g1", ChannelID: "c1", Timestamp: at}
}

// ─────────────────────────────────────────────────────────────────────────────
// Ingest
// ─────────────────────────────────────────────────────────────────────────────

func TestRecordMessage(t *testing.T) {
	env := newTestEnv(t, "")
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec := env.do(t, http.MethodPost, "/api/v1/events/messages", message("m1", t0), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.EqualValues(t, 20, body["xp_gained"])
	assert.EqualValues(t, 20, body["total_xp"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	// Inside the cooldown window the message is accepted but not scored.
	rec = env.do(t, http.MethodPost, "/api/v1/events/messages", message("m1", t0.Add(time.Second)), "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "cooldown", decode(t, rec)["suppressed"])
}

func TestRecordMessage_BadInput(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/messages", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/events/messages", MessageEventRequest{GroupID: "g1"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

func seedMembers(t *testing.T, env *testEnv, totals map[string]int64) {
	t.Helper()
	for member, total := range totals {
		_, err := env.server.deps.AdminXP.SetXP(context.Background(), command.AdminXPCommand{
			GroupID: "g1", MemberID: member, Amount: total,
		})
		require.NoError(t, err)
	}
}

func TestMemberRankAndStats(t *testing.T) {
	env := newTestEnv(t, "")
	seedMembers(t, env, map[string]int64{"a": 1000, "b": 300, "c": 50})

	rec := env.do(t, http.MethodGet, "/api/v1/groups/g1/members/b", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["rank"])
	assert.EqualValues(t, 2, body["level"])

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/members/b/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/members/b/milestones", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	env := newTestEnv(t, "")
	seedMembers(t, env, map[string]int64{"a": 1000, "b": 300})

	rec := env.do(t, http.MethodGet, "/api/v1/groups/g1/leaderboard", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total_entries"])

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/leaderboard?page=9", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/leaderboard?page=x", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTopAndCompare(t *testing.T) {
	env := newTestEnv(t, "")
	seedMembers(t, env, map[string]int64{"a": 1000, "b": 300})

	rec := env.do(t, http.MethodGet, "/api/v1/groups/g1/top?category=level", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "level", decode(t, rec)["category"])

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/top?category=karma", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/compare?first=a&second=b", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first", decode(t, rec)["overall"])

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/compare?first=a&second=a", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/groups/g1/summary", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["member_count"])
}

// ─────────────────────────────────────────────────────────────────────────────
// Admin
// ─────────────────────────────────────────────────────────────────────────────

func TestAdmin_Auth(t *testing.T) {
	disabled := newTestEnv(t, "")
	rec := disabled.do(t, http.MethodGet, "/api/v1/admin/groups/g1/config", nil, adminToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin_disabled", errorCode(t, rec))

	env := newTestEnv(t, testHash(t))
	rec = env.do(t, http.MethodGet, "/api/v1/admin/groups/g1/config", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/groups/g1/config", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/groups/g1/config", nil, adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_XPOperations(t *testing.T) {
	env := newTestEnv(t, testHash(t))
	base := "/api/v1/admin/groups/g1/members/m1"

	rec := env.do(t, http.MethodPost, base+"/xp/add", AdminXPRequest{Amount: 300}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 300, decode(t, rec)["new_total_xp"])

	rec = env.do(t, http.MethodPost, base+"/xp/remove", AdminXPRequest{Amount: 100}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 200, decode(t, rec)["new_total_xp"])

	rec = env.do(t, http.MethodPut, base+"/xp", AdminXPRequest{Amount: 500}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["new_level"])

	rec = env.do(t, http.MethodPost, base+"/xp/add", AdminXPRequest{Amount: -1}, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/xp/add", AdminXPRequest{Amount: 10, IsBot: true}, adminToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/reset", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["new_total_xp"])

	rec = env.do(t, http.MethodPost, "/api/v1/admin/groups/g1/reset", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_SyncRolesWithoutHandler(t *testing.T) {
	env := newTestEnv(t, testHash(t))
	rec := env.do(t, http.MethodPost, "/api/v1/admin/groups/g1/members/m1/roles/sync", nil, adminToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_ConfigRewardsChannels(t *testing.T) {
	env := newTestEnv(t, testHash(t))
	base := "/api/v1/admin/groups/g1"

	rate := 2.0
	rec := env.do(t, http.MethodPatch, base+"/config", UpdateConfigRequest{XPRate: &rate}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2.0, decode(t, rec)["xp_rate"])

	bad := -1.0
	rec = env.do(t, http.MethodPatch, base+"/config", UpdateConfigRequest{XPRate: &bad}, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/rewards/5", SetRewardRequest{RoleID: "r5"}, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPut, base+"/rewards/x", SetRewardRequest{RoleID: "r5"}, adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, base+"/rewards", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["rewards"], 1)

	rec = env.do(t, http.MethodDelete, base+"/rewards/5", nil, adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, base+"/rewards/5", nil, adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/ignored-channels/spam", nil, adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, base+"/ignored-channels", nil, adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"spam"}, decode(t, rec)["channels"])
	rec = env.do(t, http.MethodDelete, base+"/ignored-channels/spam", nil, adminToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// Infrastructure
// ─────────────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.deps.Health.AddCritical("store", func(context.Context) error { return nil })

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["healthy"])
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("ip"))
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))
	assert.True(t, rl.Allow("other"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("ip"))
}
