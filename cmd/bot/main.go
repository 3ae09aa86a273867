// Package main - точка входа сервиса уровней чата.
//
// Сервис принимает события сообщений (NATS и/или HTTP), начисляет XP,
// пересчитывает уровни, выдаёт роли-награды через шлюз платформы и
// отдаёт рейтинги по REST.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/levelhub/chat-leveling/config"
	"github.com/levelhub/chat-leveling/internal/application/command"
	"github.com/levelhub/chat-leveling/internal/application/eventhandler"
	"github.com/levelhub/chat-leveling/internal/application/query"
	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/internal/infrastructure/external/gateway"
	"github.com/levelhub/chat-leveling/internal/infrastructure/messaging"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/memory"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/postgres"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/redis"
	"github.com/levelhub/chat-leveling/internal/infrastructure/persistence/sqlite"
	"github.com/levelhub/chat-leveling/internal/infrastructure/scheduler"
	"github.com/levelhub/chat-leveling/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/levelhub/chat-leveling/internal/interface/http"
	"github.com/levelhub/chat-leveling/internal/interface/http/handlers"
	"github.com/levelhub/chat-leveling/internal/interface/natsconsumer"
	"github.com/levelhub/chat-leveling/pkg/circuitbreaker"
	"github.com/levelhub/chat-leveling/pkg/keylock"
	"github.com/levelhub/chat-leveling/pkg/logger"
)

const (
	reconcileInterval = 10 * time.Minute
	statsInterval     = time.Minute
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddCaller: !cfg.IsProduction(),
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting chat leveling service",
		zap.String("app", cfg.App.Name),
		zap.String("env", string(cfg.App.Environment)),
		zap.String("version", cfg.App.Version),
		zap.String("storage", string(cfg.Storage.Driver)),
	)

	health := handlers.NewHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, log, health)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing store")
		_ = store.Close()
	}()

	var (
		progress  leveling.ProgressRepository = store
		groups    leveling.GroupRepository    = store
		rankIndex *redis.RankIndex
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(redis.Config{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer func() { _ = cache.Close() }()

			groups = redis.NewGroupCache(store, cache, cfg.Redis.ConfigTTL, log)
			rankIndex = redis.NewRankIndex(store, cache, cfg.Features, log)
			progress = rankIndex
			health.AddOptional("redis", handlers.PingCheck(cache))
			log.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. NATS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = connectNATS(cfg.NATS, log)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()
		health.AddOptional("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var (
		bus        eventBus
		busMetrics *messaging.EventBusMetrics
	)
	if nc != nil {
		natsBus, err := messaging.NewNATSEventBus(messaging.NATSEventBusConfig{
			Conn:           nc,
			Source:         cfg.App.Name,
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		bus, busMetrics = natsBus, natsBus.Metrics()
	} else {
		local := messaging.NewInMemoryEventBus(busConfig)
		bus, busMetrics = local, local.Metrics()
	}
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	if rankIndex != nil {
		if err := rankIndex.Register(bus); err != nil {
			return fmt.Errorf("failed to register rank index: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	locks := keylock.New()

	recordMessage := command.NewRecordMessageHandler(progress, groups, bus, locks, command.AccrualConfig{
		Cooldown:  cfg.Leveling.Cooldown,
		MinXP:     cfg.Leveling.MinXP,
		MaxXP:     cfg.Leveling.MaxXP,
		Serialize: cfg.Leveling.SerializeUpdates,
	}, log)
	adminXP := command.NewAdminXPHandler(progress, bus, locks, log)
	configureGroup := command.NewConfigureGroupHandler(groups, log)

	var (
		roles     leveling.RoleService
		announcer leveling.Announcer
		gw        *gateway.Client
	)
	if nc != nil {
		gw = gateway.NewClient(nc, gateway.Config{
			SubjectPrefix: cfg.NATS.GatewayPrefix,
			Timeout:       cfg.NATS.RequestTimeout,
		}, log)
		roles, announcer = gw, gw
		health.AddOptional("gateway", func(context.Context) error {
			if gw.BreakerState() == circuitbreaker.StateOpen {
				return errors.New("gateway circuit open")
			}
			return nil
		})
	}

	levelUp := eventhandler.NewOnLevelUpHandler(groups, roles, announcer, cfg.Features, eventhandler.LevelUpConfig{
		RoleSyncTimeout: cfg.Leveling.RoleSyncTimeout,
	}, log)
	if err := levelUp.Register(bus); err != nil {
		return fmt.Errorf("failed to register level-up handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ФОНОВЫЕ ЗАДАЧИ
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log})

	stats := jobs.NewReportStatsJob(log)
	stats.Add("event_bus", func() map[string]int64 {
		s := busMetrics.Snapshot()
		return map[string]int64{
			"published":        s.TotalPublished,
			"handler_execs":    s.TotalHandlerExecs,
			"handler_failures": s.HandlerFailures,
		}
	})
	stats.Add("level_up", func() map[string]int64 {
		handled, failed := levelUp.Stats()
		return map[string]int64{"handled": handled, "failed": failed}
	})
	if gw != nil {
		stats.Add("gateway", func() map[string]int64 {
			c := gw.BreakerCounts()
			return map[string]int64{
				"requests":  int64(c.Requests),
				"failures":  int64(c.TotalFailures),
				"rejected":  int64(c.Rejected),
				"successes": int64(c.TotalSuccesses),
			}
		})
	}

	if rankIndex != nil {
		if err := sched.Register(jobs.NewReconcileRankIndexJob(rankIndex, log), scheduler.Every(reconcileInterval)); err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ВХОДЯЩИЕ СООБЩЕНИЯ ИЗ NATS
	// ─────────────────────────────────────────────────────────────────────────
	var consumer *natsconsumer.Consumer
	if nc != nil {
		consumer = natsconsumer.New(nc, recordMessage, natsconsumer.Config{
			Subject:    cfg.NATS.MessageSubject,
			QueueGroup: cfg.NATS.QueueGroup,
		}, log)
		stats.Add("nats_consumer", func() map[string]int64 {
			s := consumer.Stats()
			return map[string]int64{
				"received":   s.Received,
				"accrued":    s.Accrued,
				"suppressed": s.Suppressed,
				"rejected":   s.Rejected,
				"failed":     s.Failed,
			}
		})
	}

	if err := sched.Register(stats, scheduler.Every(statsInterval)); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var server *httpserver.Server
	if cfg.HTTP.Enabled {
		httpConfig := httpserver.DefaultConfig()
		httpConfig.Addr = cfg.HTTP.Addr
		httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
		httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
		httpConfig.GinMode = cfg.HTTP.GinMode
		httpConfig.AdminTokenHash = cfg.Admin.TokenHash
		httpConfig.DefaultTopAmount = cfg.Leveling.LeaderboardLimit

		server = httpserver.NewServer(httpConfig, httpserver.Dependencies{
			RecordMessage:  recordMessage,
			AdminXP:        adminXP,
			ConfigureGroup: configureGroup,
			MemberRank:     query.NewGetMemberRankHandler(progress),
			MemberStats:    query.NewGetMemberStatsHandler(progress),
			Milestones:     query.NewGetMilestonesHandler(progress, groups),
			Leaderboard:    query.NewGetLeaderboardHandler(progress),
			Top:            query.NewGetTopHandler(progress),
			Compare:        query.NewCompareMembersHandler(progress),
			GroupSummary:   query.NewGetGroupSummaryHandler(progress, groups),
			LevelUp:        levelUp,
			Health:         health,
			Logger:         log,
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЗАПУСК
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)

	if consumer != nil {
		if err := consumer.Start(); err != nil {
			return fmt.Errorf("failed to start nats consumer: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	if server != nil {
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
			}
		}()
	}

	log.Info("service started",
		zap.Bool("http", server != nil),
		zap.Bool("nats", nc != nil),
		zap.Bool("redis", rankIndex != nil),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
		log.Error("service error, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.Warn("nats consumer drain failed", zap.Error(err))
		}
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown failed", zap.Error(err))
		}
	}
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		log.Warn("scheduler stop failed", zap.Error(err))
	}

	log.Info("service stopped")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger, health *handlers.HealthChecker) (leveling.Store, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig(cfg.Database.URL)
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
		pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("migrations applied", zap.Int("count", applied))
		}
		health.AddCritical("postgres", handlers.PingCheck(conn))
		return postgres.NewStore(conn), nil

	case config.StorageSQLite:
		st, err := sqlite.Open(ctx, cfg.SQLite.Path, cfg.SQLite.BusyTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		health.AddCritical("sqlite", handlers.PingCheck(st))
		log.Info("sqlite opened", zap.String("path", cfg.SQLite.Path))
		return st, nil

	case config.StorageMemory:
		log.Warn("using in-memory storage, progress is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

func connectNATS(cfg config.NATSConfig, log *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
	)
}
