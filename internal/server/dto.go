package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"auditflow/internal/domain"
	"auditflow/internal/gate"
	"auditflow/internal/repo"
	"auditflow/internal/workflow"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AddMemberRequest struct {
	UserRef string `json:"user_ref"`
	Role    string `json:"role" enum:"member,team_leader,supervisor,manager,partner"`
}

type CreateStepRequest struct {
	Name string `json:"name"`
}

type StepOrderItem struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

type ReorderStepsRequest struct {
	Steps []StepOrderItem `json:"steps"`
}

type TaskOrderItem struct {
	ID       string `json:"id"`
	StepID   string `json:"step_id"`
	Position int    `json:"position"`
}

type ReorderTasksRequest struct {
	Tasks []TaskOrderItem `json:"tasks"`
}

type CreateTaskRequest struct {
	Name           string   `json:"name"`
	IsRequired     bool     `json:"is_required,omitempty"`
	ClientInteract string   `json:"client_interact,omitempty" enum:"read_only,restricted,upload,approval,"`
	MultipleFiles  bool     `json:"multiple_files,omitempty"`
	Preset         string   `json:"preset,omitempty"`
	ApprovalRoles  []string `json:"approval_roles,omitempty"`
	ApprovalType   string   `json:"approval_type,omitempty" enum:"once,all_attempts,"`
}

type UpdateTaskRequest struct {
	Name           *string  `json:"name,omitempty"`
	IsRequired     *bool    `json:"is_required,omitempty"`
	ClientInteract *string  `json:"client_interact,omitempty" enum:"read_only,restricted,upload,approval"`
	MultipleFiles  *bool    `json:"multiple_files,omitempty"`
	ApprovalRoles  []string `json:"approval_roles,omitempty"`
	ApprovalType   *string  `json:"approval_type,omitempty" enum:"once,all_attempts"`
}

type DocumentUpload struct {
	Name    string `json:"name"`
	Content string `json:"content" format:"byte"`
}

type SubmitRequest struct {
	Notes          string           `json:"notes,omitempty"`
	Documents      []DocumentUpload `json:"documents,omitempty"`
	ClientRequests []string         `json:"client_requests,omitempty"`
}

type DecisionRequest struct {
	Role    string `json:"role" enum:"member,team_leader,supervisor,manager,partner"`
	Comment string `json:"comment,omitempty"`
}

type ClientUploadRequest struct {
	Content string `json:"content" format:"byte"`
	Comment string `json:"comment,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"draft,in_progress,completed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MemberResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserRef   string `json:"user_ref"`
	Role      string `json:"role" enum:"member,team_leader,supervisor,manager,partner"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type StepResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID               string   `json:"id"`
	StepID           string   `json:"step_id"`
	Name             string   `json:"name"`
	Position         int      `json:"position"`
	IsRequired       bool     `json:"is_required"`
	ClientInteract   string   `json:"client_interact" enum:"read_only,restricted,upload,approval"`
	MultipleFiles    bool     `json:"multiple_files"`
	ApprovalRoles    []string `json:"approval_roles"`
	ApprovalType     string   `json:"approval_type" enum:"once,all_attempts"`
	CompletionStatus string   `json:"completion_status" enum:"pending,in_progress,completed"`
	Workers          []string `json:"workers"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

type SubmissionResponse struct {
	ID             string                  `json:"id"`
	TaskID         string                  `json:"task_id"`
	Seq            int                     `json:"seq"`
	Stage          string                  `json:"stage" enum:"in_review,returned,approved,awaiting_client,client_replied,accepted"`
	Notes          string                  `json:"notes,omitempty"`
	OutcomeComment string                  `json:"outcome_comment,omitempty"`
	ClientComment  string                  `json:"client_comment,omitempty"`
	Documents      []domain.Document       `json:"documents"`
	ClientDocs     []domain.ClientDocument `json:"client_documents"`
	Approvals      []domain.Approval       `json:"approvals"`
	CreatedAt      string                  `json:"created_at" format:"date-time"`
}

type GateResponse struct {
	Steps []gate.StepState `json:"steps"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// APIKeyCreatedResponse carries the plaintext key; it is shown once and only
// the hash is stored.
type APIKeyCreatedResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func memberResponse(m domain.TeamMember) MemberResponse {
	return MemberResponse(m)
}

func mapMembers(items []domain.TeamMember) []MemberResponse {
	res := make([]MemberResponse, 0, len(items))
	for _, m := range items {
		res = append(res, memberResponse(m))
	}
	return res
}

func stepResponse(s domain.Step) StepResponse {
	return StepResponse(s)
}

func mapSteps(items []domain.Step) []StepResponse {
	res := make([]StepResponse, 0, len(items))
	for _, s := range items {
		res = append(res, stepResponse(s))
	}
	return res
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		StepID:           t.StepID,
		Name:             t.Name,
		Position:         t.Position,
		IsRequired:       t.IsRequired,
		ClientInteract:   t.ClientInteract,
		MultipleFiles:    t.MultipleFiles,
		ApprovalRoles:    nonNilSlice(t.ApprovalRoles),
		ApprovalType:     t.ApprovalType,
		CompletionStatus: t.CompletionStatus,
		Workers:          nonNilSlice(t.Workers),
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func submissionResponse(s domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:             s.ID,
		TaskID:         s.TaskID,
		Seq:            s.Seq,
		Stage:          s.Stage,
		Notes:          s.Notes,
		OutcomeComment: s.OutcomeComment,
		ClientComment:  s.ClientComment,
		Documents:      nonNilSlice(s.Documents),
		ClientDocs:     nonNilSlice(s.ClientDocs),
		Approvals:      nonNilSlice(s.Approvals),
		CreatedAt:      s.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

// MintAPIKey mints a key, stores its hash, and returns the plaintext once.
func MintAPIKey(ctx context.Context, e workflow.Engine, actorID, name string) (string, domain.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.APIKey{}, err
	}
	key := "afk_" + hex.EncodeToString(raw)
	rec := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
		return "", domain.APIKey{}, err
	}
	return key, rec, nil
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
