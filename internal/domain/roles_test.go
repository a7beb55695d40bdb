package domain

import "testing"

func TestSortRolesFixedPriority(t *testing.T) {
	// selection order must not matter
	got := SortRoles([]string{RolePartner, RoleTeamLeader, RoleManager, RoleTeamLeader})
	want := []string{RoleTeamLeader, RoleManager, RolePartner}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if !RolesSorted(got) {
		t.Fatalf("SortRoles output must satisfy RolesSorted")
	}
}

func TestRolePriorityOrder(t *testing.T) {
	order := []string{RoleMember, RoleTeamLeader, RoleSupervisor, RoleManager, RolePartner}
	for i := 1; i < len(order); i++ {
		if RolePriority(order[i-1]) >= RolePriority(order[i]) {
			t.Fatalf("%s should rank below %s", order[i-1], order[i])
		}
	}
	if RolePriority("auditor") != -1 {
		t.Fatalf("unknown role must rank -1")
	}
	if ValidApprovalRole(RoleMember) {
		t.Fatalf("member is not an approval role")
	}
}
