package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/internal/application/command"
	"github.com/levelhub/chat-leveling/internal/application/query"
	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// ErrorBody is the JSON error shape.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": ErrorBody{Code: code, Message: message}})
}

// respondError maps domain errors to HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case shared.IsValidation(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case shared.IsForbidden(err):
		status, code = http.StatusForbidden, "forbidden"
	case shared.IsAlreadyExists(err):
		status, code = http.StatusConflict, "conflict"
	case shared.IsExternalService(err):
		status, code = http.StatusBadGateway, "upstream_error"
	}

	message := "an unexpected error occurred"
	var de *shared.DomainError
	if status < http.StatusInternalServerError && errors.As(err, &de) {
		message = de.Message
	} else if status < http.StatusInternalServerError {
		message = err.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), s.log).Error("request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	writeError(c, status, code, message)
}

func badRequest(c *gin.Context, message string) {
	writeError(c, http.StatusBadRequest, "invalid_request", message)
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true, "uptime": s.Uptime().Round(time.Second).String()})
		return
	}
	status := s.deps.Health.Check(c.Request.Context())
	if !status.Healthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGE INGEST
// ══════════════════════════════════════════════════════════════════════════════

// MessageEventRequest is the inbound chat message event.
type MessageEventRequest struct {
	MemberID  string    `json:"member_id"`
	GroupID   string    `json:"group_id"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	IsBot     bool      `json:"is_bot"`
}

func (s *Server) handleRecordMessage(c *gin.Context) {
	var req MessageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed message event")
		return
	}

	res, err := s.deps.RecordMessage.Handle(c.Request.Context(), command.RecordMessageCommand{
		GroupID:       req.GroupID,
		MemberID:      req.MemberID,
		ChannelID:     req.ChannelID,
		Timestamp:     req.Timestamp,
		IsBot:         req.IsBot,
		CorrelationID: c.GetString(requestIDKey),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusOK
	if !res.Accrued() {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) memberQuery(c *gin.Context) query.MemberQuery {
	return query.MemberQuery{GroupID: c.Param("group"), MemberID: c.Param("member")}
}

func (s *Server) handleMemberRank(c *gin.Context) {
	dto, err := s.deps.MemberRank.Handle(c.Request.Context(), s.memberQuery(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleMemberStats(c *gin.Context) {
	dto, err := s.deps.MemberStats.Handle(c.Request.Context(), s.memberQuery(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleMilestones(c *gin.Context) {
	dto, err := s.deps.Milestones.Handle(c.Request.Context(), s.memberQuery(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	page, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	dto, err := s.deps.Leaderboard.Handle(c.Request.Context(), query.GetLeaderboardQuery{
		GroupID: c.Param("group"),
		Page:    page,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleTop(c *gin.Context) {
	amount, ok := intQuery(c, "amount", s.config.DefaultTopAmount)
	if !ok {
		return
	}
	dto, err := s.deps.Top.Handle(c.Request.Context(), query.GetTopQuery{
		GroupID:  c.Param("group"),
		Category: query.TopCategory(c.Query("category")),
		Amount:   amount,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleCompare(c *gin.Context) {
	dto, err := s.deps.Compare.Handle(c.Request.Context(), query.CompareMembersQuery{
		GroupID:        c.Param("group"),
		FirstMemberID:  c.Query("first"),
		SecondMemberID: c.Query("second"),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleGroupSummary(c *gin.Context) {
	dto, err := s.deps.GroupSummary.Handle(c.Request.Context(), c.Param("group"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: XP
// ══════════════════════════════════════════════════════════════════════════════

// AdminXPRequest is the body of XP admin operations.
type AdminXPRequest struct {
	Amount int64 `json:"amount"`
	IsBot  bool  `json:"is_bot"`
}

func (s *Server) handleAdminXP(op command.AdminXPOperation) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AdminXPRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "malformed request body")
				return
			}
		}

		cmd := command.AdminXPCommand{
			GroupID:       c.Param("group"),
			MemberID:      c.Param("member"),
			Amount:        req.Amount,
			IsBot:         req.IsBot,
			CorrelationID: c.GetString(requestIDKey),
		}

		var (
			res *command.AdminXPResult
			err error
		)
		ctx := c.Request.Context()
		switch op {
		case command.OpAddXP:
			res, err = s.deps.AdminXP.AddXP(ctx, cmd)
		case command.OpRemoveXP:
			res, err = s.deps.AdminXP.RemoveXP(ctx, cmd)
		case command.OpSetXP:
			res, err = s.deps.AdminXP.SetXP(ctx, cmd)
		case command.OpResetMember:
			res, err = s.deps.AdminXP.ResetMember(ctx, cmd)
		}
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleResetGroup(c *gin.Context) {
	n, err := s.deps.AdminXP.ResetGroup(c.Request.Context(), c.Param("group"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": c.Param("group"), "members_reset": n})
}

func (s *Server) handleSyncRoles(c *gin.Context) {
	if s.deps.LevelUp == nil {
		writeError(c, http.StatusServiceUnavailable, "unavailable", "role sync is not configured")
		return
	}

	rank, err := s.deps.MemberRank.Handle(c.Request.Context(), s.memberQuery(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	out, err := s.deps.LevelUp.SyncMember(c.Request.Context(), rank.GroupID, rank.MemberID, rank.Level)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: CONFIG
// ══════════════════════════════════════════════════════════════════════════════

// UpdateConfigRequest carries only the fields to change.
type UpdateConfigRequest struct {
	XPRate               *float64 `json:"xp_rate"`
	StackRoles           *bool    `json:"stack_roles"`
	AnnouncementsEnabled *bool    `json:"announcements_enabled"`
	AnnouncementChannel  *string  `json:"announcement_channel"`
	AnnouncementTemplate *string  `json:"announcement_template"`
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.deps.ConfigureGroup.GetConfig(c.Request.Context(), c.Param("group"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed request body")
		return
	}
	cfg, err := s.deps.ConfigureGroup.UpdateConfig(c.Request.Context(), command.UpdateConfigCommand{
		GroupID:              c.Param("group"),
		XPRate:               req.XPRate,
		StackRoles:           req.StackRoles,
		AnnouncementsEnabled: req.AnnouncementsEnabled,
		AnnouncementChannel:  req.AnnouncementChannel,
		AnnouncementTemplate: req.AnnouncementTemplate,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// SetRewardRequest is the body of PUT /rewards/:level.
type SetRewardRequest struct {
	RoleID string `json:"role_id"`
}

func (s *Server) handleListRewards(c *gin.Context) {
	rewards, err := s.deps.ConfigureGroup.ListRewards(c.Request.Context(), c.Param("group"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rewards == nil {
		rewards = []leveling.RoleReward{}
	}
	c.JSON(http.StatusOK, gin.H{"rewards": rewards})
}

func (s *Server) handleSetReward(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		badRequest(c, "level must be an integer")
		return
	}
	var req SetRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed request body")
		return
	}

	reward := leveling.RoleReward{GroupID: c.Param("group"), Level: level, RoleID: req.RoleID}
	if err := s.deps.ConfigureGroup.SetReward(c.Request.Context(), reward); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reward)
}

func (s *Server) handleRemoveReward(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		badRequest(c, "level must be an integer")
		return
	}
	if err := s.deps.ConfigureGroup.RemoveReward(c.Request.Context(), c.Param("group"), level); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: IGNORED CHANNELS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListIgnored(c *gin.Context) {
	channels, err := s.deps.ConfigureGroup.ListIgnoredChannels(c.Request.Context(), c.Param("group"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if channels == nil {
		channels = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) handleIgnoreChannel(c *gin.Context) {
	if err := s.deps.ConfigureGroup.IgnoreChannel(c.Request.Context(), c.Param("group"), c.Param("channel")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnignoreChannel(c *gin.Context) {
	if err := s.deps.ConfigureGroup.UnignoreChannel(c.Request.Context(), c.Param("group"), c.Param("channel")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// intQuery reads an integer query parameter, writing a 400 on bad input.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, key+" must be an integer")
		return 0, false
	}
	return v, true
}
