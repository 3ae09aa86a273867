package leveling

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE
// Квадратичная кривая опыта: порог уровня l равен 5l² + 50l + 100.
// ══════════════════════════════════════════════════════════════════════════════

// XPRequiredForLevel возвращает количество XP, необходимое чтобы пройти уровень l
// и перейти на l+1. Отрицательный уровень трактуется как 0.
func XPRequiredForLevel(level int) int64 {
	if level < 0 {
		level = 0
	}
	l := int64(level)
	return 5*l*l + 50*l + 100
}

// CumulativeXPRequiredFor возвращает суммарный XP, необходимый для достижения
// уровня l с нуля. Для l = 0 результат равен 0.
func CumulativeXPRequiredFor(level int) int64 {
	var total int64
	for i := 0; i < level; i++ {
		total += XPRequiredForLevel(i)
	}
	return total
}

// LevelFromTotalXP возвращает наибольший уровень l, для которого
// CumulativeXPRequiredFor(l) <= totalXP. Отрицательный XP зажимается в 0.
func LevelFromTotalXP(totalXP int64) int {
	if totalXP < 0 {
		totalXP = 0
	}

	level := 0
	var cumulative int64
	for {
		cumulative += XPRequiredForLevel(level)
		if cumulative > totalXP {
			return level
		}
		level++
	}
}

// CurrentLevelXP возвращает XP внутри текущего уровня:
// значение в диапазоне [0, XPRequiredForLevel(level)).
func CurrentLevelXP(totalXP int64) int64 {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP - CumulativeXPRequiredFor(LevelFromTotalXP(totalXP))
}

// XPToNextLevel возвращает, сколько XP осталось до следующего уровня.
func XPToNextLevel(totalXP int64) int64 {
	level := LevelFromTotalXP(totalXP)
	return XPRequiredForLevel(level) - CurrentLevelXP(totalXP)
}
