package ordering

import (
	"errors"
	"testing"

	"auditflow/internal/domain"
)

func TestPlanStepsDense(t *testing.T) {
	current := []Item{{ID: "a", Position: 1}, {ID: "b", Position: 2}, {ID: "c", Position: 3}}
	// client sends gaps and reversed order
	submitted := []Item{{ID: "c", Position: 10}, {ID: "a", Position: 40}, {ID: "b", Position: 25}}
	plan, err := PlanSteps(current, submitted)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	want := []Item{{ID: "c", Position: 1}, {ID: "b", Position: 2}, {ID: "a", Position: 3}}
	for i, w := range want {
		if plan[i] != w {
			t.Fatalf("plan[%d] = %+v, want %+v", i, plan[i], w)
		}
	}
}

func TestPlanStepsIdempotent(t *testing.T) {
	current := []Item{{ID: "a", Position: 1}, {ID: "b", Position: 2}}
	submitted := []Item{{ID: "b", Position: 1}, {ID: "a", Position: 2}}
	first, err := PlanSteps(current, submitted)
	if err != nil {
		t.Fatal(err)
	}
	second, err := PlanSteps(first, submitted)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("resubmission changed plan: %+v vs %+v", first[i], second[i])
		}
	}
	if len(DiffSteps(first, second)) != 0 {
		t.Fatalf("expected empty diff on resubmission")
	}
}

func TestPlanStepsRejectsUnknownID(t *testing.T) {
	current := []Item{{ID: "a", Position: 1}}
	_, err := PlanSteps(current, []Item{{ID: "ghost", Position: 1}})
	var rie domain.ReferentialIntegrityError
	if !errors.As(err, &rie) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
}

func TestPlanStepsRejectsEmptyDesync(t *testing.T) {
	current := []Item{{ID: "a", Position: 1}}
	_, err := PlanSteps(current, nil)
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// truly empty collection is fine
	if _, err := PlanSteps(nil, nil); err != nil {
		t.Fatalf("empty/empty should pass: %v", err)
	}
}

func TestPlanStepsRejectsPartialSnapshot(t *testing.T) {
	current := []Item{{ID: "a", Position: 1}, {ID: "b", Position: 2}}
	_, err := PlanSteps(current, []Item{{ID: "a", Position: 1}})
	var ve domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPlanTasksCrossStepMove(t *testing.T) {
	// Step A holds t1,t2,t3; step B holds t4,t5. Move t2 to the front of B.
	steps := map[string]bool{"A": true, "B": true}
	current := []TaskItem{
		{ID: "t1", Position: 1, StepID: "A"},
		{ID: "t2", Position: 2, StepID: "A"},
		{ID: "t3", Position: 3, StepID: "A"},
		{ID: "t4", Position: 1, StepID: "B"},
		{ID: "t5", Position: 2, StepID: "B"},
	}
	submitted := []TaskItem{
		{ID: "t1", Position: 1, StepID: "A"},
		{ID: "t3", Position: 2, StepID: "A"},
		{ID: "t2", Position: 1, StepID: "B"},
		{ID: "t4", Position: 2, StepID: "B"},
		{ID: "t5", Position: 3, StepID: "B"},
	}
	plan, err := PlanTasks(current, submitted, steps)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	got := map[string]TaskItem{}
	for _, p := range plan {
		got[p.ID] = p
	}
	checks := []TaskItem{
		{ID: "t1", Position: 1, StepID: "A"},
		{ID: "t3", Position: 2, StepID: "A"},
		{ID: "t2", Position: 1, StepID: "B"},
		{ID: "t4", Position: 2, StepID: "B"},
		{ID: "t5", Position: 3, StepID: "B"},
	}
	for _, w := range checks {
		if got[w.ID] != w {
			t.Fatalf("task %s = %+v, want %+v", w.ID, got[w.ID], w)
		}
	}
	diff := Diff(current, plan)
	// t1 is untouched; t2 moved, t3..t5 renumbered
	if len(diff) != 4 {
		t.Fatalf("expected 4 changed tasks, got %d: %+v", len(diff), diff)
	}
}

func TestPlanTasksRejectsForeignStep(t *testing.T) {
	steps := map[string]bool{"A": true}
	current := []TaskItem{{ID: "t1", Position: 1, StepID: "A"}}
	_, err := PlanTasks(current, []TaskItem{{ID: "t1", Position: 1, StepID: "other-project-step"}}, steps)
	var rie domain.ReferentialIntegrityError
	if !errors.As(err, &rie) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
}

func TestPlanTasksDuplicateRejected(t *testing.T) {
	steps := map[string]bool{"A": true}
	current := []TaskItem{{ID: "t1", Position: 1, StepID: "A"}, {ID: "t2", Position: 2, StepID: "A"}}
	submitted := []TaskItem{
		{ID: "t1", Position: 1, StepID: "A"},
		{ID: "t1", Position: 2, StepID: "A"},
	}
	if _, err := PlanTasks(current, submitted, steps); err == nil {
		t.Fatalf("expected duplicate rejection")
	}
}

func TestCompactAfterDelete(t *testing.T) {
	remaining := []Item{{ID: "a", Position: 1}, {ID: "c", Position: 3}, {ID: "d", Position: 4}}
	out := Compact(remaining)
	for i, it := range out {
		if it.Position != i+1 {
			t.Fatalf("position %d not dense: %+v", i, out)
		}
	}
}
