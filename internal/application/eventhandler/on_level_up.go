// Package eventhandler содержит обработчики доменных событий.
// Обработчики - реактивная часть системы: они запускают побочные эффекты
// (роли, поздравления) после того, как прогресс уже сохранён.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/levelhub/chat-leveling/config"
	"github.com/levelhub/chat-leveling/internal/domain/leveling"
	"github.com/levelhub/chat-leveling/internal/domain/shared"
	"github.com/levelhub/chat-leveling/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEVEL UP HANDLER
// Синхронизирует роли-награды и отправляет поздравление.
//
// Порядок:
//  1. Роли участника → настройки группы + таблица наград → дельта ролей
//  2. Выдача и снятие ролей параллельно; ошибка одной роли не мешает остальным
//  3. Поздравление в настроенный канал или в канал сообщения
// ═══════════════════════════════════════════════════════════════════════════

// ErrNoRoleService возвращается, если синхронизация ролей запрошена без сервиса ролей.
var ErrNoRoleService = errors.New("on_level_up: role service is not configured")

// FeatureGate проверяет включённость фичи для группы.
type FeatureGate interface {
	IsEnabled(feature, groupID string) bool
}

// LevelUpConfig содержит конфигурацию обработчика.
type LevelUpConfig struct {
	// RoleSyncTimeout - общий таймаут синхронизации ролей и поздравления.
	RoleSyncTimeout time.Duration

	// MaxParallelRoleOps - сколько операций с ролями выполнять одновременно.
	MaxParallelRoleOps int
}

// DefaultLevelUpConfig возвращает конфигурацию по умолчанию.
func DefaultLevelUpConfig() LevelUpConfig {
	return LevelUpConfig{
		RoleSyncTimeout:    10 * time.Second,
		MaxParallelRoleOps: 4,
	}
}

// LevelUpOutcome - итог обработки одного повышения уровня.
type LevelUpOutcome struct {
	Delta     leveling.RoleDelta
	Granted   int
	Revoked   int
	Failed    int
	Announced bool
}

// OnLevelUpHandler обрабатывает событие повышения уровня.
type OnLevelUpHandler struct {
	groups    leveling.GroupRepository
	roles     leveling.RoleService
	announcer leveling.Announcer
	flags     FeatureGate
	config    LevelUpConfig
	log       *zap.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

// NewOnLevelUpHandler создаёт обработчик. roles и announcer могут быть nil:
// тогда соответствующий шаг пропускается.
func NewOnLevelUpHandler(
	groups leveling.GroupRepository,
	roles leveling.RoleService,
	announcer leveling.Announcer,
	flags FeatureGate,
	cfg LevelUpConfig,
	log *zap.Logger,
) *OnLevelUpHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RoleSyncTimeout <= 0 {
		cfg.RoleSyncTimeout = DefaultLevelUpConfig().RoleSyncTimeout
	}
	if cfg.MaxParallelRoleOps <= 0 {
		cfg.MaxParallelRoleOps = DefaultLevelUpConfig().MaxParallelRoleOps
	}
	return &OnLevelUpHandler{
		groups:    groups,
		roles:     roles,
		announcer: announcer,
		flags:     flags,
		config:    cfg,
		log:       log.With(logger.Component("on_level_up")),
	}
}

// Register подписывает обработчик на события повышения уровня.
func (h *OnLevelUpHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventLevelUp, h.Handle)
}

// Handle реализует shared.EventHandler.
func (h *OnLevelUpHandler) Handle(ctx context.Context, event shared.Event) error {
	ev, ok := event.(shared.LevelUpEvent)
	if !ok {
		h.log.Warn("received non-LevelUpEvent", zap.String("event_type", string(event.EventType())))
		return nil
	}

	_, err := h.Process(ctx, ev)
	return err
}

// Process выполняет синхронизацию ролей и поздравление для события.
// Ошибки отдельных ролей и поздравления только логируются.
func (h *OnLevelUpHandler) Process(ctx context.Context, ev shared.LevelUpEvent) (*LevelUpOutcome, error) {
	h.handled.Add(1)

	ctx, cancel := context.WithTimeout(ctx, h.config.RoleSyncTimeout)
	defer cancel()

	log := h.log.With(
		logger.GroupID(ev.GroupID),
		logger.MemberID(ev.MemberID),
		logger.Level(ev.NewLevel),
		zap.String("correlation_id", ev.CorrelationID),
	)

	cfg, err := h.groups.GetConfig(ctx, ev.GroupID)
	if err != nil {
		h.failed.Add(1)
		return nil, fmt.Errorf("on_level_up: load config: %w", err)
	}

	out := &LevelUpOutcome{}

	if h.roles != nil && h.enabled(config.FeatureRoleRewards, ev.GroupID) {
		if err := h.syncRoles(ctx, log, ev, cfg, out); err != nil {
			h.failed.Add(1)
			return out, err
		}
	}

	if h.announcer != nil && cfg.AnnouncementsEnabled && h.enabled(config.FeatureAnnouncements, ev.GroupID) {
		a := leveling.Announcement{
			GroupID:   ev.GroupID,
			ChannelID: cfg.AnnouncementTarget(ev.ChannelID),
			MemberID:  ev.MemberID,
			Text:      leveling.FormatAnnouncement(cfg.Template(), ev.MemberID, ev.OldLevel, ev.NewLevel, ev.TotalXP),
			OldLevel:  ev.OldLevel,
			NewLevel:  ev.NewLevel,
			TotalXP:   ev.TotalXP,
		}
		if err := h.announcer.Announce(ctx, a); err != nil {
			log.Warn("failed to announce level up", logger.ChannelID(a.ChannelID), zap.Error(err))
		} else {
			out.Announced = true
		}
	}

	log.Info("level up processed",
		zap.Int("old_level", ev.OldLevel),
		zap.Int("granted", out.Granted),
		zap.Int("revoked", out.Revoked),
		zap.Int("failed", out.Failed),
		zap.Bool("announced", out.Announced),
	)

	return out, nil
}

func (h *OnLevelUpHandler) syncRoles(ctx context.Context, log *zap.Logger, ev shared.LevelUpEvent, cfg *leveling.GroupConfig, out *LevelUpOutcome) error {
	rewards, err := h.groups.ListRewards(ctx, ev.GroupID)
	if err != nil {
		return fmt.Errorf("on_level_up: list rewards: %w", err)
	}
	if len(rewards) == 0 {
		return nil
	}

	current, err := h.roles.ListRoles(ctx, ev.GroupID, ev.MemberID)
	if err != nil {
		return fmt.Errorf("on_level_up: list roles: %w", err)
	}

	delta := leveling.Resolve(ev.NewLevel, rewards, cfg.StackRoles, current)
	delta.ToRevoke = onlyHeld(delta.ToRevoke, current)
	out.Delta = delta
	if delta.IsEmpty() {
		return nil
	}

	var granted, revoked, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.MaxParallelRoleOps)

	apply := func(roleID string, op func(context.Context, string, string, string) error, ok *atomic.Int64, action string) {
		g.Go(func() error {
			if err := op(gctx, ev.GroupID, ev.MemberID, roleID); err != nil {
				failed.Add(1)
				log.Warn("role mutation failed",
					logger.Operation(action),
					logger.RoleID(roleID),
					zap.Error(err),
				)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}

	for _, roleID := range delta.ToGrant {
		apply(roleID, h.roles.Grant, &granted, "grant")
	}
	for _, roleID := range delta.ToRevoke {
		apply(roleID, h.roles.Revoke, &revoked, "revoke")
	}

	// Ошибки ролей не прерывают остальных, поэтому Wait всегда nil.
	_ = g.Wait()

	out.Granted = int(granted.Load())
	out.Revoked = int(revoked.Load())
	out.Failed = int(failed.Load())
	return nil
}

func (h *OnLevelUpHandler) enabled(feature, groupID string) bool {
	return h.flags == nil || h.flags.IsEnabled(feature, groupID)
}

// Stats возвращает количество обработанных и упавших событий.
func (h *OnLevelUpHandler) Stats() (handled, failed int64) {
	return h.handled.Load(), h.failed.Load()
}

func onlyHeld(roles, current []string) []string {
	if len(roles) == 0 {
		return roles
	}
	held := make(map[string]struct{}, len(current))
	for _, id := range current {
		held[id] = struct{}{}
	}
	out := roles[:0]
	for _, id := range roles {
		if _, ok := held[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SyncMember пересчитывает роли участника для уровня без поздравления.
// Используется административным API для ручной синхронизации.
func (h *OnLevelUpHandler) SyncMember(ctx context.Context, groupID, memberID string, level int) (*LevelUpOutcome, error) {
	if h.roles == nil {
		return nil, ErrNoRoleService
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.RoleSyncTimeout)
	defer cancel()

	cfg, err := h.groups.GetConfig(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("on_level_up: load config: %w", err)
	}

	out := &LevelUpOutcome{}
	ev := shared.LevelUpEvent{GroupID: groupID, MemberID: memberID, NewLevel: level}
	log := h.log.With(logger.GroupID(groupID), logger.MemberID(memberID), logger.Level(level))
	if err := h.syncRoles(ctx, log, ev, cfg, out); err != nil {
		return out, err
	}
	return out, nil
}
