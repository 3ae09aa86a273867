// Package leveling содержит доменную модель системы уровней чата.
//
// Пакет определяет:
//
//   - Кривую опыта: XPRequiredForLevel, CumulativeXPRequiredFor, LevelFromTotalXP
//   - Прогресс участника (MemberProgress) и настройки группы (GroupConfig)
//   - Разрешение наград-ролей (Resolve) в режимах накопления и эксклюзивном
//   - Интерфейсы репозиториев и внешних сервисов (RoleService, Announcer)
//
// Кривая: чтобы пройти уровень l, нужно 5l² + 50l + 100 XP.
//
//	LevelFromTotalXP(0)   == 0
//	LevelFromTotalXP(100) == 1
//	LevelFromTotalXP(425) == 2 // 100 + 155 = 255 <= 425 < 475
//
// Пакет не зависит от инфраструктуры: реализации репозиториев живут
// в internal/infrastructure/persistence.
package leveling
