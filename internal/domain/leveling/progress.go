package leveling

import (
	"time"

	"github.com/levelhub/chat-leveling/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// MemberProgress - прогресс участника внутри одной группы.
// Производные поля (Level, CurrentLevelXP) всегда пересчитываются из TotalXP
// вместе и никогда не меняются по отдельности.
type MemberProgress struct {
	// GroupID - идентификатор группы.
	GroupID string `json:"group_id"`

	// MemberID - идентификатор участника.
	MemberID string `json:"member_id"`

	// CurrentLevelXP - XP внутри текущего уровня.
	CurrentLevelXP int64 `json:"current_level_xp"`

	// Level - текущий уровень.
	Level int `json:"level"`

	// TotalXP - суммарный XP.
	TotalXP int64 `json:"total_xp"`

	// MessageCount - количество засчитанных сообщений.
	MessageCount int64 `json:"message_count"`

	// LastMessageAt - время последнего засчитанного сообщения (нулевое = не было).
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

// NewMemberProgress создаёт пустой прогресс участника.
func NewMemberProgress(groupID, memberID string) *MemberProgress {
	return &MemberProgress{
		GroupID:  groupID,
		MemberID: memberID,
	}
}

// Key возвращает составной ключ прогресса.
func (p *MemberProgress) Key() shared.ProgressKey {
	return shared.ProgressKey{GroupID: p.GroupID, MemberID: p.MemberID}
}

// SetTotalXP устанавливает суммарный XP (отрицательный зажимается в 0)
// и пересчитывает уровень и XP внутри уровня.
func (p *MemberProgress) SetTotalXP(total int64) {
	if total < 0 {
		total = 0
	}
	p.TotalXP = total
	p.Level = LevelFromTotalXP(total)
	p.CurrentLevelXP = total - CumulativeXPRequiredFor(p.Level)
}

// AddXP прибавляет XP к суммарному значению.
func (p *MemberProgress) AddXP(amount int64) {
	p.SetTotalXP(p.TotalXP + amount)
}

// RemoveXP вычитает XP, не опускаясь ниже нуля.
func (p *MemberProgress) RemoveXP(amount int64) {
	p.SetTotalXP(p.TotalXP - amount)
}

// RecordMessage засчитывает сообщение: прибавляет XP, счётчик сообщений
// и запоминает время.
func (p *MemberProgress) RecordMessage(gain int64, at time.Time) {
	p.AddXP(gain)
	p.MessageCount++
	p.LastMessageAt = at
}

// Reset обнуляет XP, уровень и счётчик сообщений.
// Время последнего сообщения сохраняется, поэтому кулдаун продолжает действовать.
func (p *MemberProgress) Reset() {
	p.SetTotalXP(0)
	p.MessageCount = 0
}

// HasLastMessage сообщает, было ли засчитано хотя бы одно сообщение.
// Нулевое время и начало эпохи (сохранённый 0) означают «не было».
func (p *MemberProgress) HasLastMessage() bool {
	return !p.LastMessageAt.IsZero() && p.LastMessageAt.UnixMilli() != 0
}

// LastMessageFromMillis переводит сохранённые миллисекунды эпохи во время.
// Значение 0 и меньше означает отсутствие сообщения.
func LastMessageFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// InCooldown сообщает, попадает ли сообщение в момент at в окно кулдауна.
func (p *MemberProgress) InCooldown(at time.Time, cooldown time.Duration) bool {
	if !p.HasLastMessage() {
		return false
	}
	return at.Sub(p.LastMessageAt) < cooldown
}

// XPForNextLevel возвращает размер текущего уровня в XP.
func (p *MemberProgress) XPForNextLevel() int64 {
	return XPRequiredForLevel(p.Level)
}

// XPToNextLevel возвращает XP, оставшийся до следующего уровня.
func (p *MemberProgress) XPToNextLevel() int64 {
	return p.XPForNextLevel() - p.CurrentLevelXP
}

// ProgressPercent возвращает прогресс внутри уровня в процентах (округление вниз).
func (p *MemberProgress) ProgressPercent() int {
	need := p.XPForNextLevel()
	if need <= 0 {
		return 0
	}
	return int(p.CurrentLevelXP * 100 / need)
}

// Clone возвращает копию прогресса.
func (p *MemberProgress) Clone() *MemberProgress {
	c := *p
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardEntry - строка лидерборда группы.
type LeaderboardEntry struct {
	Rank         shared.Rank `json:"rank"`
	MemberID     string      `json:"member_id"`
	Level        int         `json:"level"`
	TotalXP      int64       `json:"total_xp"`
	CurrentXP    int64       `json:"current_xp"`
	MessageCount int64       `json:"message_count"`
}

// NewLeaderboardEntry строит строку лидерборда из прогресса.
func NewLeaderboardEntry(rank shared.Rank, p *MemberProgress) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:         rank,
		MemberID:     p.MemberID,
		Level:        p.Level,
		TotalXP:      p.TotalXP,
		CurrentXP:    p.CurrentLevelXP,
		MessageCount: p.MessageCount,
	}
}
