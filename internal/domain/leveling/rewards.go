package leveling

// ══════════════════════════════════════════════════════════════════════════════
// ROLE REWARD RESOLVER
// Чистая функция: новый уровень + таблица наград + политика + текущие роли
// участника → какие роли выдать и какие снять.
// ══════════════════════════════════════════════════════════════════════════════

// RoleDelta - изменения ролей участника.
type RoleDelta struct {
	// ToGrant - роли к выдаче (в порядке возрастания уровня награды).
	ToGrant []string `json:"to_grant"`

	// ToRevoke - роли к снятию. Вызывающий пропускает роли, которых нет у участника.
	ToRevoke []string `json:"to_revoke"`
}

// IsEmpty сообщает, что изменений нет.
func (d RoleDelta) IsEmpty() bool {
	return len(d.ToGrant) == 0 && len(d.ToRevoke) == 0
}

// EligibleRewards возвращает награды с уровнем <= level по возрастанию уровня.
func EligibleRewards(rewards []RoleReward, level int) []RoleReward {
	sorted := append([]RoleReward(nil), rewards...)
	SortRewards(sorted)

	eligible := sorted[:0]
	for _, r := range sorted {
		if r.Level <= level {
			eligible = append(eligible, r)
		}
	}
	return eligible
}

// Resolve вычисляет изменения ролей.
//
// В режиме накопления выдаются все заслуженные роли, которых нет у участника,
// ничего не снимается. В эксклюзивном режиме выдаётся роль высшей заслуженной
// награды, а все остальные роли из таблицы наград попадают в ToRevoke.
// Пустая таблица или отсутствие заслуженных наград дают пустую дельту.
func Resolve(newLevel int, rewards []RoleReward, stackRoles bool, currentRoles []string) RoleDelta {
	if len(rewards) == 0 {
		return RoleDelta{}
	}

	held := make(map[string]struct{}, len(currentRoles))
	for _, id := range currentRoles {
		held[id] = struct{}{}
	}

	eligible := EligibleRewards(rewards, newLevel)
	if len(eligible) == 0 {
		return RoleDelta{}
	}

	var delta RoleDelta

	if stackRoles {
		seen := make(map[string]struct{}, len(eligible))
		for _, r := range eligible {
			if _, ok := held[r.RoleID]; ok {
				continue
			}
			if _, ok := seen[r.RoleID]; ok {
				continue
			}
			seen[r.RoleID] = struct{}{}
			delta.ToGrant = append(delta.ToGrant, r.RoleID)
		}
		return delta
	}

	target := eligible[len(eligible)-1]
	if _, ok := held[target.RoleID]; !ok {
		delta.ToGrant = []string{target.RoleID}
	}

	sorted := append([]RoleReward(nil), rewards...)
	SortRewards(sorted)

	revoked := make(map[string]struct{}, len(sorted))
	for _, r := range sorted {
		if r.Level == target.Level || r.RoleID == target.RoleID {
			continue
		}
		if _, ok := revoked[r.RoleID]; ok {
			continue
		}
		revoked[r.RoleID] = struct{}{}
		delta.ToRevoke = append(delta.ToRevoke, r.RoleID)
	}

	return delta
}
