package domain

import "sort"

// Team roles in fixed ascending approval priority. Approval chains always
// evaluate roles in this order, no matter how an administrator picked them.
const (
	RoleMember     = "member"
	RoleTeamLeader = "team_leader"
	RoleSupervisor = "supervisor"
	RoleManager    = "manager"
	RolePartner    = "partner"
)

var rolePriority = map[string]int{
	RoleMember:     0,
	RoleTeamLeader: 1,
	RoleSupervisor: 2,
	RoleManager:    3,
	RolePartner:    4,
}

// RolePriority returns the fixed priority rank for a role, -1 if unknown.
func RolePriority(role string) int {
	p, ok := rolePriority[role]
	if !ok {
		return -1
	}
	return p
}

// ValidRole reports whether role is a known team role.
func ValidRole(role string) bool {
	return RolePriority(role) >= 0
}

// ValidApprovalRole reports whether role may appear in an approval chain.
// Plain members work on tasks but never approve.
func ValidApprovalRole(role string) bool {
	return RolePriority(role) > rolePriority[RoleMember]
}

// SortRoles returns a copy of roles sorted by fixed priority with
// duplicates removed. This is the single comparator shared by the approval
// chain and any display ordering.
func SortRoles(roles []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return RolePriority(out[i]) < RolePriority(out[j])
	})
	return out
}

// RolesSorted reports whether roles are already in strict ascending
// priority order.
func RolesSorted(roles []string) bool {
	for i := 1; i < len(roles); i++ {
		if RolePriority(roles[i-1]) >= RolePriority(roles[i]) {
			return false
		}
	}
	return true
}
