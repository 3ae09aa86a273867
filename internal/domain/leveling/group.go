package leveling

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GROUP CONFIG
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultXPRate - множитель XP по умолчанию.
	DefaultXPRate = 1.0

	// MinXPRate и MaxXPRate - допустимые границы множителя.
	MinXPRate = 0.1
	MaxXPRate = 10.0

	// XPRateScale - точность множителя: множитель хранится в сотых долях.
	XPRateScale = 100

	// DefaultAnnouncementTemplate - шаблон поздравления по умолчанию.
	DefaultAnnouncementTemplate = "GG {user}, you just advanced to level {level}!"
)

// Плейсхолдеры шаблона поздравления.
const (
	PlaceholderUser     = "{user}"
	PlaceholderLevel    = "{level}"
	PlaceholderOldLevel = "{oldLevel}"
	PlaceholderXP       = "{xp}"
)

// GroupConfig - настройки начисления XP для группы.
type GroupConfig struct {
	// GroupID - идентификатор группы.
	GroupID string `json:"group_id"`

	// XPRate - множитель XP, применяется после случайного целого.
	XPRate float64 `json:"xp_rate"`

	// StackRoles - выдавать все заслуженные роли (true) или только высшую (false).
	StackRoles bool `json:"stack_roles"`

	// AnnouncementsEnabled - отправлять ли поздравления.
	AnnouncementsEnabled bool `json:"announcements_enabled"`

	// AnnouncementChannel - канал для поздравлений (пустой = канал сообщения).
	AnnouncementChannel string `json:"announcement_channel,omitempty"`

	// AnnouncementTemplate - шаблон поздравления.
	AnnouncementTemplate string `json:"announcement_template"`
}

// DefaultGroupConfig возвращает настройки группы по умолчанию.
func DefaultGroupConfig(groupID string) *GroupConfig {
	return &GroupConfig{
		GroupID:              groupID,
		XPRate:               DefaultXPRate,
		StackRoles:           true,
		AnnouncementsEnabled: true,
		AnnouncementTemplate: DefaultAnnouncementTemplate,
	}
}

// ValidateXPRate проверяет множитель XP: границы и шаг 0.01.
func ValidateXPRate(rate float64) error {
	if math.IsNaN(rate) || rate < MinXPRate || rate > MaxXPRate {
		return shared.ErrInvalidXPRate
	}
	scaled := rate * XPRateScale
	if math.Abs(scaled-math.Round(scaled)) > 1e-6 {
		return shared.ErrInvalidXPRate
	}
	return nil
}

// RateHundredths переводит множитель в целое число сотых.
func RateHundredths(rate float64) int64 {
	return int64(math.Round(rate * XPRateScale))
}

// SetXPRate меняет множитель XP.
func (c *GroupConfig) SetXPRate(rate float64) error {
	if err := ValidateXPRate(rate); err != nil {
		return err
	}
	c.XPRate = rate
	return nil
}

// SetTemplate меняет шаблон поздравления.
func (c *GroupConfig) SetTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return shared.ErrEmptyTemplate
	}
	c.AnnouncementTemplate = template
	return nil
}

// Template возвращает шаблон поздравления или шаблон по умолчанию.
func (c *GroupConfig) Template() string {
	if c.AnnouncementTemplate == "" {
		return DefaultAnnouncementTemplate
	}
	return c.AnnouncementTemplate
}

// AnnouncementTarget возвращает канал для поздравления: настроенный,
// иначе канал, в котором было сообщение.
func (c *GroupConfig) AnnouncementTarget(triggerChannel string) string {
	if c.AnnouncementChannel != "" {
		return c.AnnouncementChannel
	}
	return triggerChannel
}

// GainRange возвращает диапазон XP за сообщение с учётом множителя.
func (c *GroupConfig) GainRange(minXP, maxXP int) (int64, int64) {
	return ScaleGain(minXP, c.XPRate), ScaleGain(maxXP, c.XPRate)
}

// ScaleGain применяет множитель к целому значению и отбрасывает дробную часть.
// Умножение идёт в целых сотых, поэтому 25 * 4.6 даёт ровно 115.
func ScaleGain(base int, rate float64) int64 {
	hundredths := RateHundredths(rate)
	if hundredths <= 0 {
		hundredths = RateHundredths(DefaultXPRate)
	}
	return int64(base) * hundredths / XPRateScale
}

// Clone возвращает копию настроек.
func (c *GroupConfig) Clone() *GroupConfig {
	cp := *c
	return &cp
}

// ══════════════════════════════════════════════════════════════════════════════
// ANNOUNCEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Mention форматирует упоминание участника.
func Mention(memberID string) string {
	return "<@" + memberID + ">"
}

// FormatAnnouncement подставляет значения во все вхождения плейсхолдеров шаблона.
func FormatAnnouncement(template, memberID string, oldLevel, newLevel int, totalXP int64) string {
	if template == "" {
		template = DefaultAnnouncementTemplate
	}
	r := strings.NewReplacer(
		PlaceholderUser, Mention(memberID),
		PlaceholderOldLevel, strconv.Itoa(oldLevel),
		PlaceholderLevel, strconv.Itoa(newLevel),
		PlaceholderXP, strconv.FormatInt(totalXP, 10),
	)
	return r.Replace(template)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLE REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// RoleReward - роль, выдаваемая при достижении уровня.
type RoleReward struct {
	GroupID string `json:"group_id"`
	Level   int    `json:"level"`
	RoleID  string `json:"role_id"`
}

// Validate проверяет награду.
func (r RoleReward) Validate() error {
	if r.GroupID == "" {
		return shared.ErrInvalidGroupID
	}
	if r.Level < 1 {
		return shared.ErrInvalidRewardLevel
	}
	if strings.TrimSpace(r.RoleID) == "" {
		return shared.ErrInvalidRoleID
	}
	return nil
}

// SortRewards сортирует награды по возрастанию уровня.
func SortRewards(rewards []RoleReward) {
	sort.SliceStable(rewards, func(i, j int) bool {
		return rewards[i].Level < rewards[j].Level
	})
}

// UpcomingRewards возвращает до limit наград с уровнем выше текущего.
func UpcomingRewards(rewards []RoleReward, level, limit int) []RoleReward {
	sorted := append([]RoleReward(nil), rewards...)
	SortRewards(sorted)

	var out []RoleReward
	for _, r := range sorted {
		if r.Level <= level {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out
}
