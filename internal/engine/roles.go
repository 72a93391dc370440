package engine

import "slices"

// RoleOrder is the canonical precedence used when no preference can be honoured.
var RoleOrder = []Role{
	RoleAdvocateFor,
	RoleAdvocateAgainst,
	RoleAdjudicator,
}

// RolesWithin returns the non-spectator roles a session of the given
// capacity offers, in precedence order. The adjudicator seat is always
// offered; smaller sessions drop advocates from the back.
func RolesWithin(capacity int) []Role {
	if capacity <= 0 || capacity >= len(RoleOrder) {
		return RoleOrder
	}
	roles := slices.Clone(RoleOrder[:capacity-1])
	return append(roles, RoleAdjudicator)
}

// ResolveRole computes the role granted to a joiner given the roles already
// held in the session. Spectator is unbounded and returned once every other
// role is held, or when explicitly preferred.
func ResolveRole(held []Role, preferred *Role) Role {
	return resolve(RoleOrder, held, preferred)
}

// ResolveRoleWithin is ResolveRole restricted to RolesWithin(capacity).
func ResolveRoleWithin(held []Role, preferred *Role, capacity int) Role {
	return resolve(RolesWithin(capacity), held, preferred)
}

func resolve(offered, held []Role, preferred *Role) Role {
	available := make([]Role, 0, len(offered))
	for _, r := range offered {
		if !slices.Contains(held, r) {
			available = append(available, r)
		}
	}

	if preferred != nil {
		if *preferred == RoleSpectator {
			return RoleSpectator
		}
		if slices.Contains(available, *preferred) {
			return *preferred
		}
	}
	if len(available) == 0 {
		return RoleSpectator
	}
	return available[0]
}
