// Package http exposes the leveling engine over REST: message ingest,
// read queries and the admin surface.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/internal/application/command"
	"github.com/levelhub/chat-leveling/internal/application/eventhandler"
	"github.com/levelhub/chat-leveling/internal/application/query"
	"github.com/levelhub/chat-leveling/internal/interface/http/handlers"
	"github.com/levelhub/chat-leveling/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// GinMode is "release", "debug" or "test".
	GinMode string

	// RateLimitPerMinute per client IP on public routes (0 = disabled).
	RateLimitPerMinute int

	// AdminTokenHash is the bcrypt hash of the admin bearer token.
	AdminTokenHash string

	// DefaultTopAmount is used when /top is called without ?amount.
	DefaultTopAmount int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		GinMode:            gin.ReleaseMode,
		RateLimitPerMinute: 600,
		DefaultTopAmount:   query.DefaultTopAmount,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains the application handlers served over HTTP.
type Dependencies struct {
	// Commands
	RecordMessage  *command.RecordMessageHandler
	AdminXP        *command.AdminXPHandler
	ConfigureGroup *command.ConfigureGroupHandler

	// Queries
	MemberRank   *query.GetMemberRankHandler
	MemberStats  *query.GetMemberStatsHandler
	Milestones   *query.GetMilestonesHandler
	Leaderboard  *query.GetLeaderboardHandler
	Top          *query.GetTopHandler
	Compare      *query.CompareMembersHandler
	GroupSummary *query.GetGroupSummaryHandler

	// LevelUp enables manual role re-sync; optional.
	LevelUp *eventhandler.OnLevelUpHandler

	Health *handlers.HealthChecker
	Logger *zap.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger
	admin      *handlers.AdminAuth
	limiter    *rateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates the server and registers routes.
func NewServer(config Config, deps Dependencies) *Server {
	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}
	if config.DefaultTopAmount <= 0 {
		config.DefaultTopAmount = query.DefaultTopAmount
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		log:    log.With(logger.Component("http")),
		admin:  handlers.NewAdminAuth(config.AdminTokenHash),
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.engine.Use(s.requestID(), s.recovery(), s.accessLog())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the root handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	if s.limiter != nil {
		v1.Use(s.rateLimit())
	}

	v1.POST("/events/messages", s.handleRecordMessage)

	groups := v1.Group("/groups/:group")
	groups.GET("/leaderboard", s.handleLeaderboard)
	groups.GET("/top", s.handleTop)
	groups.GET("/summary", s.handleGroupSummary)
	groups.GET("/compare", s.handleCompare)
	groups.GET("/members/:member", s.handleMemberRank)
	groups.GET("/members/:member/stats", s.handleMemberStats)
	groups.GET("/members/:member/milestones", s.handleMilestones)

	admin := s.engine.Group("/api/v1/admin/groups/:group", s.admin.Middleware())
	admin.POST("/members/:member/xp/add", s.handleAdminXP(command.OpAddXP))
	admin.POST("/members/:member/xp/remove", s.handleAdminXP(command.OpRemoveXP))
	admin.PUT("/members/:member/xp", s.handleAdminXP(command.OpSetXP))
	admin.POST("/members/:member/reset", s.handleAdminXP(command.OpResetMember))
	admin.POST("/members/:member/roles/sync", s.handleSyncRoles)
	admin.POST("/reset", s.handleResetGroup)

	admin.GET("/config", s.handleGetConfig)
	admin.PATCH("/config", s.handleUpdateConfig)

	admin.GET("/rewards", s.handleListRewards)
	admin.PUT("/rewards/:level", s.handleSetReward)
	admin.DELETE("/rewards/:level", s.handleRemoveReward)

	admin.GET("/ignored-channels", s.handleListIgnored)
	admin.PUT("/ignored-channels/:channel", s.handleIgnoreChannel)
	admin.DELETE("/ignored-channels/:channel", s.handleUnignoreChannel)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("http server starting", zap.String("addr", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.log.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		ctx := logger.WithContext(c.Request.Context(), s.log.With(logger.RequestID(id)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.RequestID(c.GetString(requestIDKey)),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			s.log.Error("http request", fields...)
		case status >= 400:
			s.log.Warn("http request", fields...)
		default:
			s.log.Debug("http request", fields...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in http handler",
					zap.Any("panic", r),
					zap.Stack("stack"),
					logger.RequestID(c.GetString(requestIDKey)),
				)
				writeError(c, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// rateLimiter is a fixed-window counter per key.
type rateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	size    time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type window struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, size time.Duration) *rateLimiter {
	rl := &rateLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		size:    size,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.size {
		rl.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *rateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) sweep() {
	ticker := time.NewTicker(rl.size)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, w := range rl.windows {
				if now.Sub(w.start) >= rl.size {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}
