package gate

import (
	"testing"

	"auditflow/internal/domain"
)

func step(id string, tasks ...TaskState) StepInput {
	return StepInput{ID: id, Tasks: tasks}
}

func req(status string) TaskState { return TaskState{Required: true, Completion: status} }
func opt(status string) TaskState { return TaskState{Required: false, Completion: status} }

func TestFirstStepNeverLocked(t *testing.T) {
	states := Compute([]StepInput{step("s1", req(domain.CompletionPending))})
	if states[0].Locked {
		t.Fatalf("first step must not be locked")
	}
	if !states[0].CanAccess {
		t.Fatalf("first step must be accessible")
	}
}

func TestSuccessorLockedUntilRequiredComplete(t *testing.T) {
	steps := []StepInput{
		step("s1", req(domain.CompletionCompleted), req(domain.CompletionInProgress)),
		step("s2", req(domain.CompletionPending)),
	}
	states := Compute(steps)
	if !states[1].Locked {
		t.Fatalf("s2 should be locked while s1 has incomplete required tasks")
	}
	if states[1].Progress.Total != 2 || states[1].Progress.Completed != 1 {
		t.Fatalf("unexpected progress: %+v", states[1].Progress)
	}
	if states[1].Progress.Percentage != 50 {
		t.Fatalf("expected 50%%, got %d", states[1].Progress.Percentage)
	}

	// completing the second required task unlocks s2
	steps[0].Tasks[1].Completion = domain.CompletionCompleted
	states = Compute(steps)
	if states[1].Locked {
		t.Fatalf("s2 should unlock once s1 required tasks complete")
	}

	// flipping one back re-locks immediately
	steps[0].Tasks[0].Completion = domain.CompletionInProgress
	states = Compute(steps)
	if !states[1].Locked {
		t.Fatalf("s2 should re-lock when a required task leaves completed")
	}
}

func TestOptionalTasksIgnored(t *testing.T) {
	steps := []StepInput{
		step("s1", opt(domain.CompletionPending), req(domain.CompletionCompleted)),
		step("s2"),
	}
	states := Compute(steps)
	if states[1].Locked {
		t.Fatalf("optional tasks must not gate the successor")
	}
	if states[1].Progress.Total != 1 {
		t.Fatalf("optional task counted as required: %+v", states[1].Progress)
	}
}

func TestZeroRequiredUnlocksTrivially(t *testing.T) {
	steps := []StepInput{
		step("s1", opt(domain.CompletionPending)),
		step("s2", req(domain.CompletionPending)),
		step("s3"),
	}
	states := Compute(steps)
	if states[1].Locked {
		t.Fatalf("step after zero-required predecessor should be unlocked")
	}
	if states[1].Progress.Percentage != 100 {
		t.Fatalf("zero-required progress should read 100%%: %+v", states[1].Progress)
	}
	if !states[2].Locked {
		t.Fatalf("s3 gated only by s2, which is incomplete")
	}
}

func TestGateIsSinglePredecessor(t *testing.T) {
	// s1 incomplete must not matter for s3; only s2 does.
	steps := []StepInput{
		step("s1", req(domain.CompletionPending)),
		step("s2", req(domain.CompletionCompleted)),
		step("s3"),
	}
	states := Compute(steps)
	if states[2].Locked {
		t.Fatalf("s3 gates only on its immediate predecessor")
	}
}

func TestInvalidCompletionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on invalid completion status")
		}
	}()
	Compute([]StepInput{step("s1", req("half-done")), step("s2")})
}
