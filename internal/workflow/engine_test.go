package workflow_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"auditflow/internal/config"
	"auditflow/internal/db"
	"auditflow/internal/domain"
	"auditflow/internal/migrate"
	"auditflow/internal/ordering"
	"auditflow/internal/storage"
	"auditflow/internal/workflow"
)

type testEnv struct {
	Engine workflow.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	cfg := config.Default("eng-1")
	eng := workflow.New(conn, cfg, store)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		base = base.Add(time.Second)
		return base
	}
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "eng-1", "FY25 audit", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func start(t *testing.T, env testEnv) {
	t.Helper()
	if _, err := env.Engine.SetProjectStatus(env.Ctx, "eng-1", domain.ProjectInProgress, "tester"); err != nil {
		t.Fatalf("start project: %v", err)
	}
}

func mkStep(t *testing.T, env testEnv, name string) domain.Step {
	t.Helper()
	s, err := env.Engine.CreateStep(env.Ctx, "eng-1", name, "tester")
	if err != nil {
		t.Fatalf("create step %s: %v", name, err)
	}
	return s
}

func mkTask(t *testing.T, env testEnv, stepID, name string, required bool) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, workflow.TaskCreateOptions{
		StepID:        stepID,
		Name:          name,
		IsRequired:    required,
		ApprovalRoles: []string{"team_leader"},
		ApprovalType:  domain.ApprovalOnce,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", name, err)
	}
	return task
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.Repo.GetProject(env.Ctx, "eng-1")
	if err != nil || p.Status != domain.ProjectDraft {
		t.Fatalf("expected draft project, got %+v err=%v", p, err)
	}
	if _, err := env.Engine.SetProjectStatus(env.Ctx, "eng-1", domain.ProjectCompleted, "tester"); err == nil {
		t.Fatalf("draft to completed should be rejected")
	}
	start(t, env)
	if _, err := env.Engine.SetProjectStatus(env.Ctx, "eng-1", domain.ProjectDraft, "tester"); err == nil {
		t.Fatalf("backward transition should be rejected")
	}
	if _, err := env.Engine.SetProjectStatus(env.Ctx, "eng-1", domain.ProjectCompleted, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestStepAppendOrder(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	b := mkStep(t, env, "Fieldwork")
	c := mkStep(t, env, "Reporting")
	if a.Position != 1 || b.Position != 2 || c.Position != 3 {
		t.Fatalf("expected dense append positions, got %d %d %d", a.Position, b.Position, c.Position)
	}
}

func TestReorderStepsPersistsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	b := mkStep(t, env, "Fieldwork")
	c := mkStep(t, env, "Reporting")

	snapshot := []ordering.Item{
		{ID: c.ID, Position: 10},
		{ID: a.ID, Position: 20},
		{ID: b.ID, Position: 30},
	}
	steps, err := env.Engine.ReorderSteps(env.Ctx, "eng-1", snapshot, "tester")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := []string{c.ID, a.ID, b.ID}
	for i, s := range steps {
		if s.ID != want[i] || s.Position != i+1 {
			t.Fatalf("step %d: got %s@%d, want %s@%d", i, s.ID, s.Position, want[i], i+1)
		}
	}
	// same snapshot again is a no-op
	again, err := env.Engine.ReorderSteps(env.Ctx, "eng-1", snapshot, "tester")
	if err != nil {
		t.Fatalf("reorder again: %v", err)
	}
	for i := range steps {
		if again[i].ID != steps[i].ID || again[i].Position != steps[i].Position {
			t.Fatalf("reorder not idempotent at %d", i)
		}
	}
}

func TestReorderRejectsPartialSnapshot(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	mkStep(t, env, "Fieldwork")

	_, err := env.Engine.ReorderSteps(env.Ctx, "eng-1", []ordering.Item{{ID: a.ID, Position: 1}}, "tester")
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReorderTasksAcrossSteps(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	b := mkStep(t, env, "Fieldwork")
	t1 := mkTask(t, env, a.ID, "t1", true)
	t2 := mkTask(t, env, a.ID, "t2", true)
	t3 := mkTask(t, env, b.ID, "t3", true)

	// move t2 to the front of Fieldwork
	err := env.Engine.ReorderTasks(env.Ctx, "eng-1", []ordering.TaskItem{
		{ID: t1.ID, Position: 1, StepID: a.ID},
		{ID: t2.ID, Position: 1, StepID: b.ID},
		{ID: t3.ID, Position: 2, StepID: b.ID},
	}, "tester")
	if err != nil {
		t.Fatalf("reorder tasks: %v", err)
	}
	inB, err := env.Engine.Repo.ListTasksByStep(env.Ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(inB) != 2 || inB[0].ID != t2.ID || inB[0].Position != 1 || inB[1].ID != t3.ID || inB[1].Position != 2 {
		t.Fatalf("unexpected Fieldwork order: %+v", inB)
	}
	inA, err := env.Engine.Repo.ListTasksByStep(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(inA) != 1 || inA[0].ID != t1.ID || inA[0].Position != 1 {
		t.Fatalf("unexpected Planning order: %+v", inA)
	}
}

func TestReorderTasksRejectsForeignTask(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	t1 := mkTask(t, env, a.ID, "t1", true)

	err := env.Engine.ReorderTasks(env.Ctx, "eng-1", []ordering.TaskItem{
		{ID: t1.ID, Position: 1, StepID: a.ID},
		{ID: "ghost", Position: 2, StepID: a.ID},
	}, "tester")
	var rerr domain.ReferentialIntegrityError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
}

func TestDeleteTaskRenumbers(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	t1 := mkTask(t, env, a.ID, "t1", true)
	t2 := mkTask(t, env, a.ID, "t2", true)
	t3 := mkTask(t, env, a.ID, "t3", true)

	if err := env.Engine.DeleteTask(env.Ctx, t2.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	left, err := env.Engine.Repo.ListTasksByStep(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 || left[0].ID != t1.ID || left[0].Position != 1 || left[1].Position != 2 || left[1].ID != t3.ID {
		t.Fatalf("expected dense renumbering, got %+v", left)
	}
}

func TestApprovalSettingsFrozenAfterSubmission(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	task := mkTask(t, env, a.ID, "t1", true)
	start(t, env)

	if _, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:    task.ID,
		ActorID:   "prep",
		Documents: []workflow.FileUpload{{Name: "wp.pdf", Data: []byte("x")}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	at := domain.ApprovalAllAttempts
	_, err := env.Engine.UpdateTask(env.Ctx, workflow.TaskUpdateOptions{
		TaskID:       task.ID,
		ApprovalType: &at,
		ActorID:      "tester",
	})
	var serr domain.StateConflictError
	if !errors.As(err, &serr) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	// non-chain edits stay allowed
	name := "renamed"
	if _, err := env.Engine.UpdateTask(env.Ctx, workflow.TaskUpdateOptions{TaskID: task.ID, Name: &name, ActorID: "tester"}); err != nil {
		t.Fatalf("rename after submission: %v", err)
	}
}

func TestStructuralEditsRejectedOnCompletedProject(t *testing.T) {
	env := newTestEnv(t)
	mkStep(t, env, "Planning")
	start(t, env)
	if _, err := env.Engine.SetProjectStatus(env.Ctx, "eng-1", domain.ProjectCompleted, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateStep(env.Ctx, "eng-1", "Late", "tester"); err == nil {
		t.Fatalf("expected rejection on completed project")
	}
}

func TestAssignWorkersValidatesMembership(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	task := mkTask(t, env, a.ID, "t1", true)
	m, err := env.Engine.AddTeamMember(env.Ctx, "eng-1", "alice", "member", "tester")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := env.Engine.AssignWorkers(env.Ctx, task.ID, []string{m.ID}, "tester"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	err = env.Engine.AssignWorkers(env.Ctx, task.ID, []string{"nobody"}, "tester")
	var rerr domain.ReferentialIntegrityError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected referential integrity error, got %v", err)
	}
}

func TestDuplicateMemberRejected(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddTeamMember(env.Ctx, "eng-1", "alice", "manager", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddTeamMember(env.Ctx, "eng-1", "alice", "partner", "tester"); err == nil {
		t.Fatalf("expected duplicate user_ref rejection")
	}
}
