package approval

import (
	"testing"

	"auditflow/internal/domain"
)

func TestChainWalksAscendingPriority(t *testing.T) {
	roles := []string{domain.RoleTeamLeader, domain.RoleManager, domain.RolePartner}
	out := Resolve(Input{Roles: roles, ApprovalType: domain.ApprovalAllAttempts})
	if out.Next != domain.RoleTeamLeader {
		t.Fatalf("expected team_leader first, got %s", out.Next)
	}
	out = Resolve(Input{
		Roles:        roles,
		ApprovalType: domain.ApprovalAllAttempts,
		Log:          []LogEntry{{Role: domain.RoleTeamLeader, Decision: domain.DecisionApproved}},
	})
	if out.Next != domain.RoleManager {
		t.Fatalf("expected manager next, got %s", out.Next)
	}
}

func TestChainSatisfied(t *testing.T) {
	roles := []string{domain.RoleTeamLeader, domain.RolePartner}
	out := Resolve(Input{
		Roles:        roles,
		ApprovalType: domain.ApprovalAllAttempts,
		Log: []LogEntry{
			{Role: domain.RoleTeamLeader, Decision: domain.DecisionApproved},
			{Role: domain.RolePartner, Decision: domain.DecisionApproved},
		},
	})
	if !out.Satisfied || out.Next != "" {
		t.Fatalf("expected satisfied chain, got %+v", out)
	}
}

func TestOnceSkipsEverApprovedRoles(t *testing.T) {
	roles := []string{domain.RoleTeamLeader, domain.RoleManager}
	out := NextForNewSubmission(roles, domain.ApprovalOnce, map[string]bool{
		domain.RoleTeamLeader: true,
	})
	if out.Next != domain.RoleManager {
		t.Fatalf("once semantics should skip team_leader, got %s", out.Next)
	}
}

func TestAllAttemptsRequiresEveryRoleAgain(t *testing.T) {
	roles := []string{domain.RoleTeamLeader, domain.RoleManager}
	out := NextForNewSubmission(roles, domain.ApprovalAllAttempts, map[string]bool{
		domain.RoleTeamLeader: true,
		domain.RoleManager:    true,
	})
	if out.Next != domain.RoleTeamLeader {
		t.Fatalf("all_attempts must restart the chain, got %s", out.Next)
	}
}

func TestRejectionClosesSubmissionAndNamesResume(t *testing.T) {
	roles := []string{domain.RoleTeamLeader, domain.RolePartner}
	out := Resolve(Input{
		Roles:        roles,
		ApprovalType: domain.ApprovalOnce,
		Log: []LogEntry{
			{Role: domain.RoleTeamLeader, Decision: domain.DecisionApproved},
			{Role: domain.RolePartner, Decision: domain.DecisionRejected},
		},
	})
	if !out.Rejected || out.ResumeAt != domain.RolePartner {
		t.Fatalf("expected rejection by partner, got %+v", out)
	}
	if out.Satisfied {
		t.Fatalf("rejected submission cannot be satisfied")
	}
	// earlier approval survives into the next submission under Once
	next := NextForNewSubmission(roles, domain.ApprovalOnce, map[string]bool{
		domain.RoleTeamLeader: true,
	})
	if next.Next != domain.RolePartner {
		t.Fatalf("next submission must resume at partner, got %s", next.Next)
	}
}

func TestEmptyChainIsTriviallySatisfied(t *testing.T) {
	out := Resolve(Input{ApprovalType: domain.ApprovalAllAttempts})
	if !out.Satisfied {
		t.Fatalf("no configured roles means nothing to approve")
	}
}

func TestUnsortedRolesPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unsorted roles")
		}
	}()
	Resolve(Input{
		Roles:        []string{domain.RolePartner, domain.RoleTeamLeader},
		ApprovalType: domain.ApprovalOnce,
	})
}

func TestMemberRolePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for non-approval role")
		}
	}()
	Resolve(Input{
		Roles:        []string{domain.RoleMember},
		ApprovalType: domain.ApprovalOnce,
	})
}
