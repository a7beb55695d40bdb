package workflow

import (
	"context"

	"auditflow/internal/domain"
	"auditflow/internal/gate"
	"auditflow/internal/workflow/approval"
)

// Task status labels derived from the latest submission's stage. They are
// presentation only; the persisted state lives on the submission.
const (
	StatusDraft             = "draft"
	StatusSubmitted         = "submitted"
	StatusUnderReview       = "under_review"
	StatusReturned          = "returned"
	StatusApproved          = "approved"
	StatusSubmittedToClient = "submitted_to_client"
	StatusClientReply       = "client_reply"
)

// TaskView is a task with its derived review status. PendingRole names the
// role whose decision is awaited while under review.
type TaskView struct {
	domain.Task
	Status      string `json:"status"`
	PendingRole string `json:"pending_role,omitempty"`
}

// TaskDetail is a task view with its full submission history.
type TaskDetail struct {
	TaskView
	Submissions []domain.Submission `json:"submissions,omitempty"`
}

// StepOverview is one step with its gate verdict and tasks.
type StepOverview struct {
	domain.Step
	Locked    bool          `json:"locked"`
	CanAccess bool          `json:"can_access"`
	Progress  gate.Progress `json:"required_progress"`
	Tasks     []TaskView    `json:"tasks"`
}

// Overview is the whole project read model.
type Overview struct {
	Project domain.Project `json:"project"`
	Steps   []StepOverview `json:"steps"`
}

// statusOf derives a task's status label from its submission history.
func statusOf(t domain.Task, subs []domain.Submission) (string, string) {
	if len(subs) == 0 {
		return StatusDraft, ""
	}
	latest := subs[len(subs)-1]
	switch latest.Stage {
	case domain.StageReturned:
		return StatusReturned, ""
	case domain.StageApproved, domain.StageAccepted:
		return StatusApproved, ""
	case domain.StageAwaitingClient:
		return StatusSubmittedToClient, ""
	case domain.StageClientReplied:
		return StatusClientReply, ""
	}
	// In review. A fresh submission with no decisions yet reads as
	// submitted; otherwise the pending role is surfaced.
	ever := map[string]bool{}
	for _, s := range subs[:len(subs)-1] {
		for _, a := range s.Approvals {
			if a.Decision == domain.DecisionApproved {
				ever[a.Role] = true
			}
		}
	}
	out := approval.Resolve(approval.Input{
		Roles:        t.ApprovalRoles,
		ApprovalType: t.ApprovalType,
		Log:          approvalLog(latest.Approvals),
		EverApproved: ever,
	})
	if len(latest.Approvals) == 0 {
		return StatusSubmitted, out.Next
	}
	return StatusUnderReview, out.Next
}

// GetTaskDetail returns the task, its derived status and the hydrated
// submission history, oldest first.
func (e Engine) GetTaskDetail(ctx context.Context, taskID string) (TaskDetail, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return TaskDetail{}, err
	}
	subs, err := e.Repo.ListSubmissions(ctx, taskID)
	if err != nil {
		return TaskDetail{}, err
	}
	status, pending := statusOf(t, subs)
	return TaskDetail{
		TaskView:    TaskView{Task: t, Status: status, PendingRole: pending},
		Submissions: subs,
	}, nil
}

// ProjectOverview assembles the project's steps in order with gate state
// and per-task status.
func (e Engine) ProjectOverview(ctx context.Context, projectID string) (Overview, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return Overview{}, err
	}
	steps, err := e.Repo.ListSteps(ctx, projectID)
	if err != nil {
		return Overview{}, err
	}
	tasks, err := e.Repo.ListProjectTasks(ctx, projectID)
	if err != nil {
		return Overview{}, err
	}
	byStep := map[string][]domain.Task{}
	for _, t := range tasks {
		byStep[t.StepID] = append(byStep[t.StepID], t)
	}
	in := make([]gate.StepInput, 0, len(steps))
	for _, s := range steps {
		states := make([]gate.TaskState, 0, len(byStep[s.ID]))
		for _, t := range byStep[s.ID] {
			states = append(states, gate.TaskState{Required: t.IsRequired, Completion: t.CompletionStatus})
		}
		in = append(in, gate.StepInput{ID: s.ID, Tasks: states})
	}
	verdicts := gate.Compute(in)

	out := Overview{Project: p, Steps: make([]StepOverview, 0, len(steps))}
	for i, s := range steps {
		so := StepOverview{
			Step:      s,
			Locked:    verdicts[i].Locked,
			CanAccess: verdicts[i].CanAccess,
			Progress:  verdicts[i].Progress,
			Tasks:     []TaskView{},
		}
		for _, t := range byStep[s.ID] {
			subs, err := e.Repo.ListSubmissions(ctx, t.ID)
			if err != nil {
				return Overview{}, err
			}
			status, pending := statusOf(t, subs)
			so.Tasks = append(so.Tasks, TaskView{Task: t, Status: status, PendingRole: pending})
		}
		out.Steps = append(out.Steps, so)
	}
	return out, nil
}

// StepGate returns just the gate verdicts for the project's steps.
func (e Engine) StepGate(ctx context.Context, projectID string) ([]gate.StepState, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return e.gateStatesTx(ctx, tx, projectID)
}
