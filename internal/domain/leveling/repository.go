package leveling

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository определяет контракт хранения прогресса участников.
// Реализации: PostgreSQL, SQLite, in-memory.
type ProgressRepository interface {
	// Get возвращает прогресс участника или shared.ErrProgressNotFound.
	Get(ctx context.Context, groupID, memberID string) (*MemberProgress, error)

	// GetOrCreate возвращает прогресс участника, создавая нулевую запись при первом обращении.
	// Порядок первого появления фиксируется и используется для разрешения ничьих.
	GetOrCreate(ctx context.Context, groupID, memberID string) (*MemberProgress, error)

	// Save атомарно записывает все поля прогресса одной операцией.
	Save(ctx context.Context, progress *MemberProgress) error

	// ResetGroup обнуляет XP, уровни и счётчики сообщений всех участников группы.
	// Возвращает количество затронутых записей.
	ResetGroup(ctx context.Context, groupID string) (int64, error)

	// Top возвращает участников группы по убыванию TotalXP,
	// при равенстве - в порядке первого появления.
	Top(ctx context.Context, groupID string, limit, offset int) ([]*MemberProgress, error)

	// CountAbove возвращает количество участников группы со строго большим TotalXP.
	// Ранг участника = CountAbove + 1.
	CountAbove(ctx context.Context, groupID string, totalXP int64) (int64, error)

	// Count возвращает количество участников группы.
	Count(ctx context.Context, groupID string) (int64, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// GROUP REPOSITORY INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// GroupRepository определяет контракт хранения настроек группы,
// таблицы наград и списка игнорируемых каналов.
type GroupRepository interface {
	// ──────────────────────────────────────────────────────────────────────────
	// CONFIG
	// ──────────────────────────────────────────────────────────────────────────

	// GetConfig возвращает настройки группы; для новой группы - настройки по умолчанию.
	GetConfig(ctx context.Context, groupID string) (*GroupConfig, error)

	// SaveConfig сохраняет настройки группы целиком (последний писатель побеждает).
	SaveConfig(ctx context.Context, cfg *GroupConfig) error

	// ──────────────────────────────────────────────────────────────────────────
	// ROLE REWARDS
	// ──────────────────────────────────────────────────────────────────────────

	// ListRewards возвращает награды группы по возрастанию уровня.
	ListRewards(ctx context.Context, groupID string) ([]RoleReward, error)

	// UpsertReward добавляет или заменяет награду для уровня.
	UpsertReward(ctx context.Context, reward RoleReward) error

	// DeleteReward удаляет награду уровня или возвращает shared.ErrRewardNotFound.
	DeleteReward(ctx context.Context, groupID string, level int) error

	// ──────────────────────────────────────────────────────────────────────────
	// IGNORED CHANNELS
	// ──────────────────────────────────────────────────────────────────────────

	// ListIgnoredChannels возвращает игнорируемые каналы группы.
	ListIgnoredChannels(ctx context.Context, groupID string) ([]string, error)

	// IsChannelIgnored проверяет, игнорируется ли канал.
	IsChannelIgnored(ctx context.Context, groupID, channelID string) (bool, error)

	// AddIgnoredChannel добавляет канал; false, если он уже был в списке.
	AddIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error)

	// RemoveIgnoredChannel удаляет канал; false, если его не было в списке.
	RemoveIgnoredChannel(ctx context.Context, groupID, channelID string) (bool, error)
}

// Store объединяет оба репозитория одного хранилища.
type Store interface {
	ProgressRepository
	GroupRepository

	// Close освобождает ресурсы хранилища.
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNAL COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// RoleService - возможность читать и менять роли участника на платформе.
type RoleService interface {
	// ListRoles возвращает роли, которые сейчас есть у участника.
	ListRoles(ctx context.Context, groupID, memberID string) ([]string, error)

	// Grant выдаёт роль участнику.
	Grant(ctx context.Context, groupID, memberID, roleID string) error

	// Revoke снимает роль с участника.
	Revoke(ctx context.Context, groupID, memberID, roleID string) error
}

// Announcement - готовое поздравление с новым уровнем.
type Announcement struct {
	GroupID   string `json:"group_id"`
	ChannelID string `json:"channel_id"`
	MemberID  string `json:"member_id"`
	Text      string `json:"text"`
	OldLevel  int    `json:"old_level"`
	NewLevel  int    `json:"new_level"`
	TotalXP   int64  `json:"total_xp"`
}

// Announcer отправляет поздравления в канал группы.
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}
