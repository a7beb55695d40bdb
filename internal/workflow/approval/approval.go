// Package approval resolves where a submission stands in its role-ordered
// approval chain. It is pure: the engine loads the inputs and applies the
// outcome.
package approval

import (
	"fmt"

	"auditflow/internal/domain"
)

// LogEntry is one recorded decision on the active submission.
type LogEntry struct {
	Role     string
	Decision string
}

// Input describes a task's chain configuration and the active submission's
// history. Roles must already be in ascending fixed priority; EverApproved
// carries the roles that approved any past submission of the same task and
// is consulted only under Once semantics.
type Input struct {
	Roles        []string
	ApprovalType string
	Log          []LogEntry
	EverApproved map[string]bool
}

// Outcome is the resolver verdict.
type Outcome struct {
	// Next is the lowest-priority role still required, empty when the
	// chain is satisfied.
	Next string
	// Satisfied is true once every configured role has approved.
	Satisfied bool
	// Rejected is true when the active submission was rejected; ResumeAt
	// names the rejecting role, where the next submission's chain picks
	// up under Once semantics.
	Rejected bool
	ResumeAt string
}

// Resolve computes the chain state. Inconsistent inputs are programming
// errors, not user-facing failures, and panic.
func Resolve(in Input) Outcome {
	if !domain.RolesSorted(in.Roles) {
		panic(fmt.Sprintf("approval: roles not in priority order: %v", in.Roles))
	}
	for _, r := range in.Roles {
		if !domain.ValidApprovalRole(r) {
			panic(fmt.Sprintf("approval: %q is not an approval role", r))
		}
	}
	switch in.ApprovalType {
	case domain.ApprovalOnce, domain.ApprovalAllAttempts:
	default:
		panic(fmt.Sprintf("approval: unknown approval type %q", in.ApprovalType))
	}

	satisfied := map[string]bool{}
	if in.ApprovalType == domain.ApprovalOnce {
		for r, ok := range in.EverApproved {
			if ok {
				satisfied[r] = true
			}
		}
	}
	var out Outcome
	for _, entry := range in.Log {
		switch entry.Decision {
		case domain.DecisionApproved:
			satisfied[entry.Role] = true
		case domain.DecisionRejected:
			// A rejection closes the submission; it invalidates only the
			// rejecting role's pending decision.
			out.Rejected = true
			out.ResumeAt = entry.Role
		default:
			panic(fmt.Sprintf("approval: unknown decision %q", entry.Decision))
		}
	}
	for _, r := range in.Roles {
		if !satisfied[r] {
			out.Next = r
			return out
		}
	}
	out.Satisfied = !out.Rejected
	return out
}

// NextForNewSubmission computes the first required role for a brand-new
// submission of the task, given the task-lifetime approvals. Under
// AllAttempts every role is required again; under Once previously approved
// roles are skipped permanently.
func NextForNewSubmission(roles []string, approvalType string, everApproved map[string]bool) Outcome {
	return Resolve(Input{
		Roles:        roles,
		ApprovalType: approvalType,
		EverApproved: everApproved,
	})
}
