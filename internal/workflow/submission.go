package workflow

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"auditflow/internal/domain"
	"auditflow/internal/events"
	"auditflow/internal/gate"
	"auditflow/internal/repo"
	"auditflow/internal/workflow/approval"
)

// FileUpload is an in-memory file attached to a submission.
type FileUpload struct {
	Name string
	Data []byte
}

// SubmitOptions are parameters for submitting work on a task.
type SubmitOptions struct {
	TaskID    string
	ActorID   string
	Notes     string
	Documents []FileUpload
	// ClientRequests names documents the external client must provide.
	ClientRequests []string
}

// taskScope loads a task with its step and project inside the transaction.
func (e Engine) taskScope(ctx context.Context, tx *sql.Tx, taskID string) (domain.Task, domain.Step, domain.Project, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, domain.Step{}, domain.Project{}, err
	}
	s, err := e.Repo.GetStepTx(ctx, tx, t.StepID)
	if err != nil {
		return domain.Task{}, domain.Step{}, domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, s.ProjectID)
	if err != nil {
		return domain.Task{}, domain.Step{}, domain.Project{}, err
	}
	return t, s, p, nil
}

// SubmitWork opens a new submission on the task. Allowed only when the task
// has no submission yet or its latest one was returned. The submission must
// carry substance: attached documents, client document requests, or
// documents surviving from an earlier round.
func (e Engine) SubmitWork(ctx context.Context, opts SubmitOptions) (domain.Submission, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	t, s, p, err := e.taskScope(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := ensureActive(p); err != nil {
		return domain.Submission{}, err
	}

	seq := 1
	latest, err := e.Repo.LatestSubmissionTx(ctx, tx, t.ID)
	switch {
	case err == repo.ErrNotFound:
	case err != nil:
		return domain.Submission{}, err
	case latest.Stage == domain.StageReturned:
		seq = latest.Seq + 1
	default:
		return domain.Submission{}, domain.StateConflictError{Expected: "no submission or a returned one", Actual: latest.Stage}
	}

	if !t.MultipleFiles && len(opts.Documents) > 1 {
		return domain.Submission{}, domain.ValidationError{Msg: "task accepts a single file"}
	}
	if len(opts.Documents) == 0 && len(opts.ClientRequests) == 0 {
		has, err := e.Repo.TaskHasDocumentsTx(ctx, tx, t.ID)
		if err != nil {
			return domain.Submission{}, err
		}
		if !has {
			return domain.Submission{}, domain.ValidationError{Msg: "submission needs documents or client document requests"}
		}
	}

	before, err := e.gateStatesTx(ctx, tx, s.ProjectID)
	if err != nil {
		return domain.Submission{}, err
	}
	now := e.ts()
	sub := domain.Submission{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		Seq:       seq,
		Stage:     domain.StageInReview,
		Notes:     opts.Notes,
		CreatedAt: now,
	}
	if err := e.Repo.InsertSubmissionTx(ctx, tx, sub); err != nil {
		return domain.Submission{}, err
	}
	for _, f := range opts.Documents {
		ref, err := e.Store.Save(f.Data)
		if err != nil {
			return domain.Submission{}, err
		}
		d := domain.Document{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			Name:         f.Name,
			FileRef:      ref,
			UploadedBy:   opts.ActorID,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
			return domain.Submission{}, err
		}
	}
	for _, desc := range opts.ClientRequests {
		if desc == "" {
			return domain.Submission{}, domain.ValidationError{Msg: "client document request needs a description"}
		}
		cd := domain.ClientDocument{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			Description:  desc,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertClientDocumentTx(ctx, tx, cd); err != nil {
			return domain.Submission{}, err
		}
	}
	if err := e.Repo.UpdateTaskCompletionTx(ctx, tx, t.ID, domain.CompletionInProgress, now); err != nil {
		return domain.Submission{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskSubmitted, s.ProjectID, "task", t.ID, opts.ActorID,
		events.EventPayload{"submission_id": sub.ID, "seq": seq}); err != nil {
		return domain.Submission{}, err
	}

	ever, err := e.Repo.RolesEverApprovedTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	out := approval.NextForNewSubmission(t.ApprovalRoles, t.ApprovalType, ever)
	if out.Satisfied {
		sub.Stage, err = e.finishChainTx(ctx, tx, t, sub, s.ProjectID, opts.ActorID, before)
		if err != nil {
			return domain.Submission{}, err
		}
	} else {
		if err := e.Events.Append(ctx, tx, events.TypeApprovalRequired, s.ProjectID, "task", t.ID, opts.ActorID,
			events.EventPayload{"submission_id": sub.ID, "role": out.Next}); err != nil {
			return domain.Submission{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// finishChainTx closes an approval chain that is fully satisfied. Tasks
// with a client hand-off and open document requests move to the client;
// everything else is approved and completed.
func (e Engine) finishChainTx(ctx context.Context, tx *sql.Tx, t domain.Task, sub domain.Submission, projectID, actorID string, before []gate.StepState) (string, error) {
	clientBound := t.ClientInteract == domain.InteractUpload || t.ClientInteract == domain.InteractApproval
	if clientBound {
		docs, err := e.Repo.ListClientDocumentsTx(ctx, tx, sub.ID)
		if err != nil {
			return "", err
		}
		pending := false
		for _, d := range docs {
			if d.FileRef == nil {
				pending = true
				break
			}
		}
		if pending {
			if err := e.Repo.UpdateSubmissionStageTx(ctx, tx, sub.ID, domain.StageAwaitingClient); err != nil {
				return "", err
			}
			if err := e.Events.Append(ctx, tx, events.TypeSentToClient, projectID, "task", t.ID, actorID,
				events.EventPayload{"submission_id": sub.ID}); err != nil {
				return "", err
			}
			return domain.StageAwaitingClient, nil
		}
	}
	if err := e.Repo.UpdateSubmissionStageTx(ctx, tx, sub.ID, domain.StageApproved); err != nil {
		return "", err
	}
	if err := e.Repo.UpdateTaskCompletionTx(ctx, tx, t.ID, domain.CompletionCompleted, e.ts()); err != nil {
		return "", err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCompleted, projectID, "task", t.ID, actorID,
		events.EventPayload{"submission_id": sub.ID}); err != nil {
		return "", err
	}
	if err := e.emitUnlocksTx(ctx, tx, projectID, before, actorID); err != nil {
		return "", err
	}
	return domain.StageApproved, nil
}

// DecisionOptions are parameters for an approval-chain decision.
type DecisionOptions struct {
	TaskID  string
	Role    string
	ActorID string
	Comment string
}

func approvalLog(list []domain.Approval) []approval.LogEntry {
	log := make([]approval.LogEntry, 0, len(list))
	for _, a := range list {
		log = append(log, approval.LogEntry{Role: a.Role, Decision: a.Decision})
	}
	return log
}

// resolveActive loads the task's active in-review submission and its chain
// state under the transaction.
func (e Engine) resolveActive(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Submission, approval.Outcome, error) {
	sub, err := e.Repo.LatestSubmissionTx(ctx, tx, t.ID)
	if err == repo.ErrNotFound {
		return domain.Submission{}, approval.Outcome{}, domain.StateConflictError{Expected: "submission under review", Actual: "no submission"}
	}
	if err != nil {
		return domain.Submission{}, approval.Outcome{}, err
	}
	if sub.Stage != domain.StageInReview {
		return domain.Submission{}, approval.Outcome{}, domain.StateConflictError{Expected: "submission under review", Actual: sub.Stage}
	}
	list, err := e.Repo.ListApprovalsTx(ctx, tx, sub.ID)
	if err != nil {
		return domain.Submission{}, approval.Outcome{}, err
	}
	ever, err := e.Repo.RolesEverApprovedTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Submission{}, approval.Outcome{}, err
	}
	out := approval.Resolve(approval.Input{
		Roles:        t.ApprovalRoles,
		ApprovalType: t.ApprovalType,
		Log:          approvalLog(list),
		EverApproved: ever,
	})
	return sub, out, nil
}

// Approve records the pending role's approval on the active submission and
// advances the chain, closing it when the last role signs.
func (e Engine) Approve(ctx context.Context, opts DecisionOptions) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, s, p, err := e.taskScope(ctx, tx, opts.TaskID)
	if err != nil {
		return err
	}
	if err := ensureActive(p); err != nil {
		return err
	}
	sub, out, err := e.resolveActive(ctx, tx, t)
	if err != nil {
		return err
	}
	if opts.Role != out.Next {
		return domain.StateConflictError{Expected: "decision by " + out.Next, Actual: opts.Role}
	}
	before, err := e.gateStatesTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	a := domain.Approval{
		SubmissionID: sub.ID,
		Role:         opts.Role,
		ActorID:      opts.ActorID,
		Decision:     domain.DecisionApproved,
		Comment:      opts.Comment,
		CreatedAt:    e.ts(),
	}
	if _, err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeApprovalRecorded, s.ProjectID, "task", t.ID, opts.ActorID,
		events.EventPayload{"submission_id": sub.ID, "role": opts.Role, "decision": domain.DecisionApproved}); err != nil {
		return err
	}
	list, err := e.Repo.ListApprovalsTx(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	ever, err := e.Repo.RolesEverApprovedTx(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	next := approval.Resolve(approval.Input{
		Roles:        t.ApprovalRoles,
		ApprovalType: t.ApprovalType,
		Log:          approvalLog(list),
		EverApproved: ever,
	})
	if next.Satisfied {
		if _, err := e.finishChainTx(ctx, tx, t, sub, s.ProjectID, opts.ActorID, before); err != nil {
			return err
		}
	} else {
		if err := e.Events.Append(ctx, tx, events.TypeApprovalRequired, s.ProjectID, "task", t.ID, opts.ActorID,
			events.EventPayload{"submission_id": sub.ID, "role": next.Next}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Reject returns the active submission to the preparer. A rejection needs a
// comment so the preparer knows what to fix.
func (e Engine) Reject(ctx context.Context, opts DecisionOptions) error {
	if opts.Comment == "" {
		return domain.ValidationError{Msg: "rejection requires a comment"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, s, p, err := e.taskScope(ctx, tx, opts.TaskID)
	if err != nil {
		return err
	}
	if err := ensureActive(p); err != nil {
		return err
	}
	sub, out, err := e.resolveActive(ctx, tx, t)
	if err != nil {
		return err
	}
	if opts.Role != out.Next {
		return domain.StateConflictError{Expected: "decision by " + out.Next, Actual: opts.Role}
	}
	a := domain.Approval{
		SubmissionID: sub.ID,
		Role:         opts.Role,
		ActorID:      opts.ActorID,
		Decision:     domain.DecisionRejected,
		Comment:      opts.Comment,
		CreatedAt:    e.ts(),
	}
	if _, err := e.Repo.InsertApprovalTx(ctx, tx, a); err != nil {
		return err
	}
	if err := e.Repo.SetSubmissionOutcomeTx(ctx, tx, sub.ID, domain.StageReturned, opts.Comment); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskReturned, s.ProjectID, "task", t.ID, opts.ActorID,
		events.EventPayload{"submission_id": sub.ID, "role": opts.Role, "comment": opts.Comment}); err != nil {
		return err
	}
	return tx.Commit()
}

// ClientUploadOptions attach a client's file to one requested document.
type ClientUploadOptions struct {
	ClientDocID string
	Data        []byte
	Comment     string
	ActorID     string
}

// AttachClientUpload stores the client's file against the requested
// document. When the last open request is filled, the submission moves to
// client_replied. Re-uploading an already filled request while the
// submission still awaits the client replaces the file.
func (e Engine) AttachClientUpload(ctx context.Context, opts ClientUploadOptions) error {
	if len(opts.Data) == 0 {
		return domain.ValidationError{Msg: "upload is empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cd, err := e.Repo.GetClientDocumentTx(ctx, tx, opts.ClientDocID)
	if err != nil {
		return err
	}
	sub, err := e.Repo.GetSubmissionTx(ctx, tx, cd.SubmissionID)
	if err != nil {
		return err
	}
	t, s, p, err := e.taskScope(ctx, tx, sub.TaskID)
	if err != nil {
		return err
	}
	if err := ensureActive(p); err != nil {
		return err
	}
	if sub.Stage != domain.StageAwaitingClient {
		return domain.StateConflictError{Expected: "submission awaiting client", Actual: sub.Stage}
	}
	ref, err := e.Store.Save(opts.Data)
	if err != nil {
		return err
	}
	if err := e.Repo.SetClientDocumentFileTx(ctx, tx, cd.ID, ref, e.ts()); err != nil {
		return err
	}
	if opts.Comment != "" {
		if err := e.Repo.SetSubmissionClientCommentTx(ctx, tx, sub.ID, opts.Comment); err != nil {
			return err
		}
	}
	docs, err := e.Repo.ListClientDocumentsTx(ctx, tx, sub.ID)
	if err != nil {
		return err
	}
	complete := true
	for _, d := range docs {
		if d.FileRef == nil {
			complete = false
			break
		}
	}
	if complete {
		if err := e.Repo.UpdateSubmissionStageTx(ctx, tx, sub.ID, domain.StageClientReplied); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TypeClientReply, s.ProjectID, "task", t.ID, opts.ActorID,
			events.EventPayload{"submission_id": sub.ID}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AcceptClientDocuments accepts the client's reply and completes the task.
func (e Engine) AcceptClientDocuments(ctx context.Context, taskID, actorID, comment string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, s, p, err := e.taskScope(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if err := ensureActive(p); err != nil {
		return err
	}
	sub, err := e.Repo.LatestSubmissionTx(ctx, tx, t.ID)
	if err == repo.ErrNotFound {
		return domain.StateConflictError{Expected: "client reply", Actual: "no submission"}
	}
	if err != nil {
		return err
	}
	if sub.Stage != domain.StageClientReplied {
		return domain.StateConflictError{Expected: "client reply", Actual: sub.Stage}
	}
	before, err := e.gateStatesTx(ctx, tx, s.ProjectID)
	if err != nil {
		return err
	}
	if err := e.Repo.SetSubmissionOutcomeTx(ctx, tx, sub.ID, domain.StageAccepted, comment); err != nil {
		return err
	}
	if err := e.Repo.UpdateTaskCompletionTx(ctx, tx, t.ID, domain.CompletionCompleted, e.ts()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskCompleted, s.ProjectID, "task", t.ID, actorID,
		events.EventPayload{"submission_id": sub.ID}); err != nil {
		return err
	}
	if err := e.emitUnlocksTx(ctx, tx, s.ProjectID, before, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

// RequestReupload rejects the client's reply and opens a fresh round with
// the same document requests, unfilled. The reason travels on the new
// submission so the client sees what to redo.
func (e Engine) RequestReupload(ctx context.Context, taskID, actorID, reason string) (domain.Submission, error) {
	if reason == "" {
		return domain.Submission{}, domain.ValidationError{Msg: "reupload request requires a reason"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	t, s, p, err := e.taskScope(ctx, tx, taskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := ensureActive(p); err != nil {
		return domain.Submission{}, err
	}
	prev, err := e.Repo.LatestSubmissionTx(ctx, tx, t.ID)
	if err == repo.ErrNotFound {
		return domain.Submission{}, domain.StateConflictError{Expected: "client reply", Actual: "no submission"}
	}
	if err != nil {
		return domain.Submission{}, err
	}
	if prev.Stage != domain.StageClientReplied {
		return domain.Submission{}, domain.StateConflictError{Expected: "client reply", Actual: prev.Stage}
	}
	now := e.ts()
	sub := domain.Submission{
		ID:             uuid.NewString(),
		TaskID:         t.ID,
		Seq:            prev.Seq + 1,
		Stage:          domain.StageAwaitingClient,
		OutcomeComment: reason,
		CreatedAt:      now,
	}
	if err := e.Repo.InsertSubmissionTx(ctx, tx, sub); err != nil {
		return domain.Submission{}, err
	}
	requests, err := e.Repo.ListClientDocumentsTx(ctx, tx, prev.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	for _, r := range requests {
		cd := domain.ClientDocument{
			ID:           uuid.NewString(),
			SubmissionID: sub.ID,
			Description:  r.Description,
			CreatedAt:    now,
		}
		if err := e.Repo.InsertClientDocumentTx(ctx, tx, cd); err != nil {
			return domain.Submission{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeReuploadRequested, s.ProjectID, "task", t.ID, actorID,
		events.EventPayload{"submission_id": sub.ID, "reason": reason}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}
