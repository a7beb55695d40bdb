package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Semantic event types emitted by the workflow engine. External delivery
// (webhooks, polling clients) fans these out; the engine only records them.
const (
	TypeProjectCreated       = "project.created"
	TypeProjectStatusChanged = "project.status_changed"
	TypeMemberAdded          = "member.added"
	TypeStepCreated          = "step.created"
	TypeStepRenamed          = "step.renamed"
	TypeStepDeleted          = "step.deleted"
	TypeStepsReordered       = "steps.reordered"
	TypeStepUnlocked         = "step.unlocked"
	TypeTaskCreated          = "task.created"
	TypeTaskUpdated          = "task.updated"
	TypeTaskDeleted          = "task.deleted"
	TypeTasksReordered       = "tasks.reordered"
	TypeTaskSubmitted        = "task.submitted"
	TypeApprovalRequired     = "approval.required"
	TypeApprovalRecorded     = "approval.recorded"
	TypeTaskReturned         = "task.returned"
	TypeTaskCompleted        = "task.completed"
	TypeSentToClient         = "task.sent_to_client"
	TypeClientReply          = "client.reply_received"
	TypeReuploadRequested    = "client.reupload_requested"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so the event log
// commits atomically with the state change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
