// Package workflow is the transactional engine behind every mutating
// operation. Each operation runs as one transaction: state writes and the
// events describing them commit together or not at all.
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"auditflow/internal/config"
	"auditflow/internal/domain"
	"auditflow/internal/events"
	"auditflow/internal/gate"
	"auditflow/internal/ordering"
	"auditflow/internal/repo"
	"auditflow/internal/storage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Store  *storage.Store
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, store *storage.Store) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Store:  store,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ensureActive rejects workflow mutations unless the project is in
// progress. Structural edits use ensureEditable instead.
func ensureActive(p domain.Project) error {
	if p.Status != domain.ProjectInProgress {
		return domain.ProjectInactiveError{Status: p.Status}
	}
	return nil
}

// ensureEditable allows structure changes while the project is drafted or
// running, but never after completion.
func ensureEditable(p domain.Project) error {
	if p.Status == domain.ProjectCompleted {
		return domain.StateConflictError{Expected: "draft or in_progress project", Actual: p.Status}
	}
	return nil
}

// InitProject creates a project in draft and seeds its per-project config.
func (e Engine) InitProject(ctx context.Context, projectID, name, actorID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, domain.ValidationError{Msg: "project id is required"}
	}
	if name == "" {
		name = projectID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:        projectID,
		Name:      name,
		Status:    domain.ProjectDraft,
		CreatedAt: e.ts(),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SetProjectStatus advances the project lifecycle. Only forward moves are
// allowed: draft to in_progress, in_progress to completed.
func (e Engine) SetProjectStatus(ctx context.Context, projectID, status, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	allowed := p.Status == domain.ProjectDraft && status == domain.ProjectInProgress ||
		p.Status == domain.ProjectInProgress && status == domain.ProjectCompleted
	if !allowed {
		return domain.Project{}, domain.StateConflictError{Expected: "forward status transition from " + p.Status, Actual: status}
	}
	if err := e.Repo.UpdateProjectStatusTx(ctx, tx, projectID, status); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectStatusChanged, projectID, "project", projectID, actorID,
		events.EventPayload{"from": p.Status, "to": status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Status = status
	return p, nil
}

// AddTeamMember registers a user on the project with a fixed role.
func (e Engine) AddTeamMember(ctx context.Context, projectID, userRef, role, actorID string) (domain.TeamMember, error) {
	if !domain.ValidRole(role) {
		return domain.TeamMember{}, domain.ValidationError{Msg: "invalid role: " + role}
	}
	if userRef == "" {
		return domain.TeamMember{}, domain.ValidationError{Msg: "user_ref is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TeamMember{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if err := ensureEditable(p); err != nil {
		return domain.TeamMember{}, err
	}
	if _, err := e.Repo.GetTeamMemberByUser(ctx, projectID, userRef); err == nil {
		return domain.TeamMember{}, domain.ValidationError{Msg: "user already on project: " + userRef}
	} else if err != repo.ErrNotFound {
		return domain.TeamMember{}, err
	}
	m := domain.TeamMember{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserRef:   userRef,
		Role:      role,
		CreatedAt: e.ts(),
	}
	if err := e.Repo.InsertTeamMemberTx(ctx, tx, m); err != nil {
		return domain.TeamMember{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeMemberAdded, projectID, "member", m.ID, actorID,
		events.EventPayload{"user_ref": userRef, "role": role}); err != nil {
		return domain.TeamMember{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TeamMember{}, err
	}
	return m, nil
}

// CreateStep appends a step at the end of the project order.
func (e Engine) CreateStep(ctx context.Context, projectID, name, actorID string) (domain.Step, error) {
	if name == "" {
		return domain.Step{}, domain.ValidationError{Msg: "step name is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Step{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Step{}, err
	}
	if err := ensureEditable(p); err != nil {
		return domain.Step{}, err
	}
	max, err := e.Repo.MaxStepPositionTx(ctx, tx, projectID)
	if err != nil {
		return domain.Step{}, err
	}
	s := domain.Step{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Position:  max + 1,
		CreatedAt: e.ts(),
	}
	if err := e.Repo.InsertStepTx(ctx, tx, s); err != nil {
		return domain.Step{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeStepCreated, projectID, "step", s.ID, actorID,
		events.EventPayload{"name": name, "position": s.Position}); err != nil {
		return domain.Step{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Step{}, err
	}
	return s, nil
}

func (e Engine) RenameStep(ctx context.Context, stepID, name, actorID string) (domain.Step, error) {
	if name == "" {
		return domain.Step{}, domain.ValidationError{Msg: "step name is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Step{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStepTx(ctx, tx, stepID)
	if err != nil {
		return domain.Step{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return domain.Step{}, err
	}
	if err := ensureEditable(p); err != nil {
		return domain.Step{}, err
	}
	if err := e.Repo.RenameStepTx(ctx, tx, stepID, name); err != nil {
		return domain.Step{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeStepRenamed, s.ProjectID, "step", stepID, actorID,
		events.EventPayload{"from": s.Name, "to": name}); err != nil {
		return domain.Step{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Step{}, err
	}
	s.Name = name
	return s, nil
}

// DeleteStep removes a step and everything under it, then renumbers the
// remaining steps densely. Deleting a completed predecessor can unlock its
// successor; any transitions are recorded.
func (e Engine) DeleteStep(ctx context.Context, stepID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStepTx(ctx, tx, stepID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	if err := ensureEditable(p); err != nil {
		return err
	}
	before, err := e.gateStatesTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteStepTx(ctx, tx, stepID); err != nil {
		return err
	}
	remaining, err := e.Repo.ListStepsTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	items := make([]ordering.Item, 0, len(remaining))
	for _, r := range remaining {
		items = append(items, ordering.Item{ID: r.ID, Position: r.Position})
	}
	for _, it := range ordering.Compact(items) {
		if err := e.Repo.UpdateStepPositionTx(ctx, tx, it.ID, it.Position); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeStepDeleted, s.ProjectID, "step", stepID, actorID,
		events.EventPayload{"name": s.Name}); err != nil {
		return err
	}
	if err := e.emitUnlocksTx(ctx, tx, s.ProjectID, before, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderSteps applies a full snapshot of the project's step order.
// Applying the same snapshot twice is a no-op.
func (e Engine) ReorderSteps(ctx context.Context, projectID string, submitted []ordering.Item, actorID string) ([]domain.Step, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if err := ensureEditable(p); err != nil {
		return nil, err
	}
	before, err := e.gateStatesTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	steps, err := e.Repo.ListStepsTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	current := make([]ordering.Item, 0, len(steps))
	for _, s := range steps {
		current = append(current, ordering.Item{ID: s.ID, Position: s.Position})
	}
	plan, err := ordering.PlanSteps(current, submitted)
	if err != nil {
		return nil, err
	}
	diff := ordering.DiffSteps(current, plan)
	for _, it := range diff {
		if err := e.Repo.UpdateStepPositionTx(ctx, tx, it.ID, it.Position); err != nil {
			return nil, err
		}
	}
	if len(diff) > 0 {
		if err := e.Events.Append(ctx, tx, events.TypeStepsReordered, projectID, "project", projectID, actorID,
			events.EventPayload{"moved": len(diff)}); err != nil {
			return nil, err
		}
		if err := e.emitUnlocksTx(ctx, tx, projectID, before, actorID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListSteps(ctx, projectID)
}

// TaskCreateOptions are parameters for creating a task. When ApprovalRoles
// is empty the chain comes from the named Preset, or from the config
// default for the task's client interaction mode.
type TaskCreateOptions struct {
	StepID         string
	Name           string
	IsRequired     bool
	ClientInteract string
	MultipleFiles  bool
	Preset         string
	ApprovalRoles  []string
	ApprovalType   string
	ActorID        string
}

func validInteract(v string) bool {
	switch v {
	case domain.InteractReadOnly, domain.InteractRestricted, domain.InteractUpload, domain.InteractApproval:
		return true
	}
	return false
}

func (e Engine) resolveChain(opts TaskCreateOptions) ([]string, string, error) {
	roles := opts.ApprovalRoles
	approvalType := opts.ApprovalType
	if len(roles) == 0 {
		preset := config.ApprovalPreset{}
		switch {
		case opts.Preset != "":
			var ok bool
			preset, ok = e.Config.Approvals.Presets[opts.Preset]
			if !ok {
				return nil, "", domain.ValidationError{Msg: "unknown approval preset: " + opts.Preset}
			}
		default:
			preset = e.Config.PresetFor(opts.ClientInteract)
		}
		roles = preset.Roles
		if approvalType == "" {
			approvalType = preset.Type
		}
	}
	if approvalType == "" {
		approvalType = domain.ApprovalOnce
	}
	if approvalType != domain.ApprovalOnce && approvalType != domain.ApprovalAllAttempts {
		return nil, "", domain.ValidationError{Msg: "invalid approval type: " + approvalType}
	}
	for _, r := range roles {
		if !domain.ValidApprovalRole(r) {
			return nil, "", domain.ValidationError{Msg: "invalid approval role: " + r}
		}
	}
	return domain.SortRoles(roles), approvalType, nil
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, domain.ValidationError{Msg: "task name is required"}
	}
	if opts.ClientInteract == "" {
		opts.ClientInteract = domain.InteractReadOnly
	}
	if !validInteract(opts.ClientInteract) {
		return domain.Task{}, domain.ValidationError{Msg: "invalid client interaction mode: " + opts.ClientInteract}
	}
	roles, approvalType, err := e.resolveChain(opts)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStepTx(ctx, tx, opts.StepID)
	if err != nil {
		return domain.Task{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureEditable(p); err != nil {
		return domain.Task{}, err
	}
	max, err := e.Repo.MaxTaskPositionTx(ctx, tx, opts.StepID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.ts()
	t := domain.Task{
		ID:               uuid.NewString(),
		StepID:           opts.StepID,
		Name:             opts.Name,
		Position:         max + 1,
		IsRequired:       opts.IsRequired,
		ClientInteract:   opts.ClientInteract,
		MultipleFiles:    opts.MultipleFiles,
		ApprovalRoles:    roles,
		ApprovalType:     approvalType,
		CompletionStatus: domain.CompletionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCreated, s.ProjectID, "task", t.ID, opts.ActorID,
		events.EventPayload{"name": t.Name, "step_id": t.StepID, "position": t.Position}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions carries the mutable task fields. Nil pointers leave the
// field unchanged.
type TaskUpdateOptions struct {
	TaskID         string
	Name           *string
	IsRequired     *bool
	ClientInteract *string
	MultipleFiles  *bool
	ApprovalRoles  []string
	ApprovalType   *string
	ActorID        string
}

// UpdateTask edits a task. The approval chain and type are frozen once the
// task has received its first submission.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	s, err := e.Repo.GetStepTx(ctx, tx, t.StepID)
	if err != nil {
		return domain.Task{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureEditable(p); err != nil {
		return domain.Task{}, err
	}

	changesChain := len(opts.ApprovalRoles) > 0 || opts.ApprovalType != nil
	if changesChain {
		if _, err := e.Repo.LatestSubmissionTx(ctx, tx, t.ID); err == nil {
			return domain.Task{}, domain.StateConflictError{Expected: "task with no submissions", Actual: "approval settings are frozen after first submission"}
		} else if err != repo.ErrNotFound {
			return domain.Task{}, err
		}
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.Task{}, domain.ValidationError{Msg: "task name is required"}
		}
		t.Name = *opts.Name
	}
	if opts.IsRequired != nil {
		t.IsRequired = *opts.IsRequired
	}
	if opts.ClientInteract != nil {
		if !validInteract(*opts.ClientInteract) {
			return domain.Task{}, domain.ValidationError{Msg: "invalid client interaction mode: " + *opts.ClientInteract}
		}
		t.ClientInteract = *opts.ClientInteract
	}
	if opts.MultipleFiles != nil {
		t.MultipleFiles = *opts.MultipleFiles
	}
	if len(opts.ApprovalRoles) > 0 {
		for _, r := range opts.ApprovalRoles {
			if !domain.ValidApprovalRole(r) {
				return domain.Task{}, domain.ValidationError{Msg: "invalid approval role: " + r}
			}
		}
		t.ApprovalRoles = domain.SortRoles(opts.ApprovalRoles)
	}
	if opts.ApprovalType != nil {
		if *opts.ApprovalType != domain.ApprovalOnce && *opts.ApprovalType != domain.ApprovalAllAttempts {
			return domain.Task{}, domain.ValidationError{Msg: "invalid approval type: " + *opts.ApprovalType}
		}
		t.ApprovalType = *opts.ApprovalType
	}
	t.UpdatedAt = e.ts()
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskUpdated, s.ProjectID, "task", t.ID, opts.ActorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task and renumbers its step's remaining tasks.
// Removing an incomplete required task can unlock the next step.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetStepTx(ctx, tx, t.StepID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	if err := ensureEditable(p); err != nil {
		return err
	}
	before, err := e.gateStatesTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	remaining, err := e.Repo.ListProjectTasksTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	items := []ordering.Item{}
	for _, r := range remaining {
		if r.StepID == t.StepID {
			items = append(items, ordering.Item{ID: r.ID, Position: r.Position})
		}
	}
	for _, it := range ordering.Compact(items) {
		if err := e.Repo.UpdateTaskPlacementTx(ctx, tx, it.ID, t.StepID, it.Position); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskDeleted, s.ProjectID, "task", taskID, actorID,
		events.EventPayload{"name": t.Name}); err != nil {
		return err
	}
	if err := e.emitUnlocksTx(ctx, tx, s.ProjectID, before, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

// AssignWorkers replaces the set of members working the task.
func (e Engine) AssignWorkers(ctx context.Context, taskID string, memberIDs []string, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetStepTx(ctx, tx, t.StepID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	if err := ensureEditable(p); err != nil {
		return err
	}
	for _, m := range memberIDs {
		ok, err := e.Repo.MemberExistsTx(ctx, tx, s.ProjectID, m)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ReferentialIntegrityError{Entity: "member", ID: m}
		}
	}
	if err := e.Repo.SetTaskWorkersTx(ctx, tx, taskID, memberIDs); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskUpdated, s.ProjectID, "task", taskID, actorID,
		events.EventPayload{"workers": len(memberIDs)}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReorderTasks applies a full snapshot of the project's task placement,
// covering every task and allowing cross-step moves.
func (e Engine) ReorderTasks(ctx context.Context, projectID string, submitted []ordering.TaskItem, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	if err := ensureEditable(p); err != nil {
		return err
	}
	before, err := e.gateStatesTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	steps, err := e.Repo.ListStepsTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	stepSet := make(map[string]bool, len(steps))
	for _, s := range steps {
		stepSet[s.ID] = true
	}
	tasks, err := e.Repo.ListProjectTasksTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	current := make([]ordering.TaskItem, 0, len(tasks))
	for _, t := range tasks {
		current = append(current, ordering.TaskItem{ID: t.ID, Position: t.Position, StepID: t.StepID})
	}
	plan, err := ordering.PlanTasks(current, submitted, stepSet)
	if err != nil {
		return err
	}
	diff := ordering.Diff(current, plan)
	for _, it := range diff {
		if err := e.Repo.UpdateTaskPlacementTx(ctx, tx, it.ID, it.StepID, it.Position); err != nil {
			return err
		}
	}
	if len(diff) > 0 {
		if err := e.Events.Append(ctx, tx, events.TypeTasksReordered, projectID, "project", projectID, actorID,
			events.EventPayload{"moved": len(diff)}); err != nil {
			return err
		}
		if err := e.emitUnlocksTx(ctx, tx, projectID, before, actorID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// gateStatesTx loads the project's step gate inside the transaction.
func (e Engine) gateStatesTx(ctx context.Context, tx *sql.Tx, projectID string) ([]gate.StepState, error) {
	steps, err := e.Repo.ListStepsTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := e.Repo.ListProjectTasksTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	byStep := map[string][]gate.TaskState{}
	for _, t := range tasks {
		byStep[t.StepID] = append(byStep[t.StepID], gate.TaskState{Required: t.IsRequired, Completion: t.CompletionStatus})
	}
	in := make([]gate.StepInput, 0, len(steps))
	for _, s := range steps {
		in = append(in, gate.StepInput{ID: s.ID, Tasks: byStep[s.ID]})
	}
	return gate.Compute(in), nil
}

// emitUnlocksTx records a step.unlocked event for every step that was
// locked before the mutation and is open after it.
func (e Engine) emitUnlocksTx(ctx context.Context, tx *sql.Tx, projectID string, before []gate.StepState, actorID string) error {
	after, err := e.gateStatesTx(ctx, tx, projectID)
	if err != nil {
		return err
	}
	wasLocked := make(map[string]bool, len(before))
	for _, s := range before {
		wasLocked[s.ID] = s.Locked
	}
	for _, s := range after {
		if !s.Locked && wasLocked[s.ID] {
			if err := e.Events.Append(ctx, tx, events.TypeStepUnlocked, projectID, "step", s.ID, actorID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
