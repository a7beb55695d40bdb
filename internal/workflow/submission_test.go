package workflow_test

import (
	"errors"
	"testing"

	"auditflow/internal/domain"
	"auditflow/internal/workflow"
)

func mkChainTask(t *testing.T, env testEnv, stepID, name string, roles []string, approvalType string, interact string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, workflow.TaskCreateOptions{
		StepID:         stepID,
		Name:           name,
		IsRequired:     true,
		ClientInteract: interact,
		ApprovalRoles:  roles,
		ApprovalType:   approvalType,
		ActorID:        "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", name, err)
	}
	return task
}

func submit(t *testing.T, env testEnv, taskID string) domain.Submission {
	t.Helper()
	sub, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:    taskID,
		ActorID:   "prep",
		Documents: []workflow.FileUpload{{Name: "wp.pdf", Data: []byte("workpaper")}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sub
}

func status(t *testing.T, env testEnv, taskID string) workflow.TaskDetail {
	t.Helper()
	d, err := env.Engine.GetTaskDetail(env.Ctx, taskID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	return d
}

func TestSubmitRequiresActiveProject(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	task := mkTask(t, env, a.ID, "t1", true)

	_, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:    task.ID,
		ActorID:   "prep",
		Documents: []workflow.FileUpload{{Name: "wp.pdf", Data: []byte("x")}},
	})
	var perr domain.ProjectInactiveError
	if !errors.As(err, &perr) {
		t.Fatalf("expected project inactive error, got %v", err)
	}
}

func TestSubmitRequiresSubstance(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	task := mkTask(t, env, a.ID, "t1", true)
	start(t, env)

	_, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{TaskID: task.ID, ActorID: "prep"})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSingleFileTaskRejectsMultipleUploads(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	task := mkTask(t, env, a.ID, "t1", true)
	start(t, env)

	_, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:  task.ID,
		ActorID: "prep",
		Documents: []workflow.FileUpload{
			{Name: "a.pdf", Data: []byte("a")},
			{Name: "b.pdf", Data: []byte("b")},
		},
	})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// Full review round for an all_attempts chain: submit, first approval,
// rejection by the higher role, resubmission re-requiring every role.
func TestAllAttemptsRejectionRestartsChain(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Fieldwork")
	task := mkChainTask(t, env, a.ID, "cash testing",
		[]string{"partner", "team_leader"}, domain.ApprovalAllAttempts, "")
	start(t, env)

	submit(t, env, task.ID)
	d := status(t, env, task.ID)
	if d.Status != workflow.StatusSubmitted || d.PendingRole != "team_leader" {
		t.Fatalf("after submit: %s pending=%s", d.Status, d.PendingRole)
	}

	// partner cannot cut the line
	err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "partner", ActorID: "pat"})
	var serr domain.StateConflictError
	if !errors.As(err, &serr) {
		t.Fatalf("expected state conflict for out-of-order role, got %v", err)
	}

	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"}); err != nil {
		t.Fatalf("team_leader approve: %v", err)
	}
	d = status(t, env, task.ID)
	if d.Status != workflow.StatusUnderReview || d.PendingRole != "partner" {
		t.Fatalf("after first approval: %s pending=%s", d.Status, d.PendingRole)
	}

	if err := env.Engine.Reject(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "partner", ActorID: "pat", Comment: "sample too small"}); err != nil {
		t.Fatalf("partner reject: %v", err)
	}
	d = status(t, env, task.ID)
	if d.Status != workflow.StatusReturned {
		t.Fatalf("after rejection: %s", d.Status)
	}
	if got := d.Submissions[len(d.Submissions)-1].OutcomeComment; got != "sample too small" {
		t.Fatalf("outcome comment = %q", got)
	}

	// resubmission starts a new round at the bottom of the chain
	sub := submit(t, env, task.ID)
	if sub.Seq != 2 {
		t.Fatalf("resubmission seq = %d", sub.Seq)
	}
	d = status(t, env, task.ID)
	if d.PendingRole != "team_leader" {
		t.Fatalf("all_attempts must re-require team_leader, pending=%s", d.PendingRole)
	}

	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "partner", ActorID: "pat"}); err != nil {
		t.Fatal(err)
	}
	d = status(t, env, task.ID)
	if d.Status != workflow.StatusApproved {
		t.Fatalf("after full chain: %s", d.Status)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil || got.CompletionStatus != domain.CompletionCompleted {
		t.Fatalf("expected completed task, got %+v err=%v", got, err)
	}
}

// Under once semantics a role that approved any earlier round stays
// satisfied, so the resubmission resumes at the rejecting role.
func TestOnceSkipsEverApprovedRoles(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Fieldwork")
	task := mkChainTask(t, env, a.ID, "revenue walkthrough",
		[]string{"team_leader", "manager"}, domain.ApprovalOnce, "")
	start(t, env)

	submit(t, env, task.ID)
	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Reject(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "manager", ActorID: "mo", Comment: "missing tie-out"}); err != nil {
		t.Fatal(err)
	}

	submit(t, env, task.ID)
	d := status(t, env, task.ID)
	if d.PendingRole != "manager" {
		t.Fatalf("once must skip team_leader, pending=%s", d.PendingRole)
	}
	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "manager", ActorID: "mo"}); err != nil {
		t.Fatal(err)
	}
	if d = status(t, env, task.ID); d.Status != workflow.StatusApproved {
		t.Fatalf("after manager approval: %s", d.Status)
	}
}

func TestRejectRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Fieldwork")
	task := mkTask(t, env, a.ID, "t1", true)
	start(t, env)
	submit(t, env, task.ID)

	err := env.Engine.Reject(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestResubmitOnlyAfterReturn(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Fieldwork")
	task := mkTask(t, env, a.ID, "t1", true)
	start(t, env)
	submit(t, env, task.ID)

	_, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:    task.ID,
		ActorID:   "prep",
		Documents: []workflow.FileUpload{{Name: "v2.pdf", Data: []byte("y")}},
	})
	var serr domain.StateConflictError
	if !errors.As(err, &serr) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

// Client hand-off: internal chain clears, the task goes to the client, the
// client uploads every requested document, the team accepts.
func TestClientUploadFlow(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Confirmations")
	task := mkChainTask(t, env, a.ID, "bank confirmation",
		[]string{"team_leader"}, domain.ApprovalOnce, domain.InteractUpload)
	start(t, env)

	if _, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:         task.ID,
		ActorID:        "prep",
		ClientRequests: []string{"signed bank letter", "statement of accounts"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"}); err != nil {
		t.Fatal(err)
	}
	d := status(t, env, task.ID)
	if d.Status != workflow.StatusSubmittedToClient {
		t.Fatalf("after chain: %s", d.Status)
	}
	reqs := d.Submissions[len(d.Submissions)-1].ClientDocs
	if len(reqs) != 2 {
		t.Fatalf("expected 2 client requests, got %d", len(reqs))
	}

	if err := env.Engine.AttachClientUpload(env.Ctx, workflow.ClientUploadOptions{
		ClientDocID: reqs[0].ID, Data: []byte("letter"), ActorID: "client",
	}); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	// one request still open
	if d = status(t, env, task.ID); d.Status != workflow.StatusSubmittedToClient {
		t.Fatalf("after partial upload: %s", d.Status)
	}
	if err := env.Engine.AttachClientUpload(env.Ctx, workflow.ClientUploadOptions{
		ClientDocID: reqs[1].ID, Data: []byte("statement"), ActorID: "client", Comment: "all attached",
	}); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	d = status(t, env, task.ID)
	if d.Status != workflow.StatusClientReply {
		t.Fatalf("after full reply: %s", d.Status)
	}
	if got := d.Submissions[len(d.Submissions)-1].ClientComment; got != "all attached" {
		t.Fatalf("client comment = %q", got)
	}

	if err := env.Engine.AcceptClientDocuments(env.Ctx, task.ID, "lee", "looks complete"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	d = status(t, env, task.ID)
	if d.Status != workflow.StatusApproved {
		t.Fatalf("after accept: %s", d.Status)
	}
	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil || got.CompletionStatus != domain.CompletionCompleted {
		t.Fatalf("expected completed task, got %+v err=%v", got, err)
	}
}

func TestRequestReuploadOpensFreshRound(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Confirmations")
	task := mkChainTask(t, env, a.ID, "bank confirmation",
		[]string{"team_leader"}, domain.ApprovalOnce, domain.InteractUpload)
	start(t, env)

	if _, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{
		TaskID:         task.ID,
		ActorID:        "prep",
		ClientRequests: []string{"signed bank letter"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"}); err != nil {
		t.Fatal(err)
	}
	d := status(t, env, task.ID)
	req := d.Submissions[len(d.Submissions)-1].ClientDocs[0]
	if err := env.Engine.AttachClientUpload(env.Ctx, workflow.ClientUploadOptions{
		ClientDocID: req.ID, Data: []byte("blurry scan"), ActorID: "client",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.RequestReupload(env.Ctx, task.ID, "lee", ""); err == nil {
		t.Fatalf("reupload without reason should be rejected")
	}
	sub, err := env.Engine.RequestReupload(env.Ctx, task.ID, "lee", "scan unreadable")
	if err != nil {
		t.Fatalf("request reupload: %v", err)
	}
	if sub.Seq != 2 || sub.Stage != domain.StageAwaitingClient || sub.OutcomeComment != "scan unreadable" {
		t.Fatalf("unexpected reupload round: %+v", sub)
	}
	d = status(t, env, task.ID)
	if d.Status != workflow.StatusSubmittedToClient {
		t.Fatalf("after reupload request: %s", d.Status)
	}
	fresh := d.Submissions[len(d.Submissions)-1].ClientDocs
	if len(fresh) != 1 || fresh[0].FileRef != nil || fresh[0].Description != "signed bank letter" {
		t.Fatalf("expected cloned unfilled request, got %+v", fresh)
	}
}

// Completing every required task of a step unlocks the next one and the
// transition lands in the event log.
func TestStepUnlockOnCompletion(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Planning")
	b := mkStep(t, env, "Fieldwork")
	task := mkTask(t, env, a.ID, "engagement letter", true)
	mkTask(t, env, a.ID, "optional memo", false)
	mkTask(t, env, b.ID, "cash testing", true)
	start(t, env)

	gates, err := env.Engine.StepGate(env.Ctx, "eng-1")
	if err != nil {
		t.Fatal(err)
	}
	if gates[0].Locked || !gates[1].Locked {
		t.Fatalf("expected only second step locked, got %+v", gates)
	}

	submit(t, env, task.ID)
	if err := env.Engine.Approve(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee"}); err != nil {
		t.Fatal(err)
	}

	gates, err = env.Engine.StepGate(env.Ctx, "eng-1")
	if err != nil {
		t.Fatal(err)
	}
	if gates[1].Locked {
		t.Fatalf("second step should be unlocked: %+v", gates[1])
	}
	if gates[1].Progress.Completed != 1 || gates[1].Progress.Total != 1 || gates[1].Progress.Percentage != 100 {
		t.Fatalf("unexpected progress: %+v", gates[1].Progress)
	}

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, "eng-1", "step.unlocked", "", "")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range evts {
		if e.EntityID == b.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected step.unlocked for %s, got %+v", b.ID, evts)
	}
}

func TestResubmitKeepsPriorDocumentsAsSubstance(t *testing.T) {
	env := newTestEnv(t)
	a := mkStep(t, env, "Fieldwork")
	task := mkTask(t, env, a.ID, "t1", true)
	start(t, env)
	submit(t, env, task.ID)
	if err := env.Engine.Reject(env.Ctx, workflow.DecisionOptions{TaskID: task.ID, Role: "team_leader", ActorID: "lee", Comment: "redo narrative"}); err != nil {
		t.Fatal(err)
	}
	// resubmission with no new files rides on round-one documents
	sub, err := env.Engine.SubmitWork(env.Ctx, workflow.SubmitOptions{TaskID: task.ID, ActorID: "prep", Notes: "narrative reworked"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if sub.Seq != 2 {
		t.Fatalf("seq = %d", sub.Seq)
	}
}
