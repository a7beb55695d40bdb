package domain

type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"draft,in_progress,completed"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Project lifecycle statuses. New submissions are accepted only while the
// project is in progress.
const (
	ProjectDraft      = "draft"
	ProjectInProgress = "in_progress"
	ProjectCompleted  = "completed"
)

type Step struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Client interaction modes for a task.
const (
	InteractReadOnly   = "read_only"
	InteractRestricted = "restricted"
	InteractUpload     = "upload"
	InteractApproval   = "approval"
)

// Approval types. Once keeps a role satisfied across submissions after its
// first approval; AllAttempts re-requires every role on each submission.
const (
	ApprovalOnce        = "once"
	ApprovalAllAttempts = "all_attempts"
)

// Task completion statuses.
const (
	CompletionPending    = "pending"
	CompletionInProgress = "in_progress"
	CompletionCompleted  = "completed"
)

type Task struct {
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
	Workers          []string `json:"workers,omitempty"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	UpdatedAt        string   `json:"updated_at" format:"date-time"`
}

// Submission stages are the persisted nodes of the task state machine. The
// user-facing status label is derived from the stage plus the pending
// approval role.
const (
	StageInReview       = "in_review"
	StageReturned       = "returned"
	StageApproved       = "approved"
	StageAwaitingClient = "awaiting_client"
	StageClientReplied  = "client_replied"
	StageAccepted       = "accepted"
)

type Submission struct {
	ID             string           `json:"id"`
	TaskID         string           `json:"task_id"`
	Seq            int              `json:"seq"`
	Stage          string           `json:"stage" enum:"in_review,returned,approved,awaiting_client,client_replied,accepted"`
	Notes          string           `json:"notes,omitempty"`
	OutcomeComment string           `json:"outcome_comment,omitempty"`
	ClientComment  string           `json:"client_comment,omitempty"`
	Documents      []Document       `json:"documents,omitempty"`
	ClientDocs     []ClientDocument `json:"client_documents,omitempty"`
	Approvals      []Approval       `json:"approvals,omitempty"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
}

type Document struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	Name         string `json:"name"`
	FileRef      string `json:"file_ref"`
	UploadedBy   string `json:"uploaded_by"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// ClientDocument is a request for the external client to upload a file.
// FileRef and UploadedAt stay empty until the client responds.
type ClientDocument struct {
	ID           string  `json:"id"`
	SubmissionID string  `json:"submission_id"`
	Description  string  `json:"description"`
	FileRef      *string `json:"file_ref,omitempty"`
	UploadedAt   *string `json:"uploaded_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Approval decisions.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

type Approval struct {
	ID           int64  `json:"id"`
	SubmissionID string `json:"submission_id"`
	Role         string `json:"role"`
	ActorID      string `json:"actor_id"`
	Decision     string `json:"decision" enum:"approved,rejected"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type TeamMember struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserRef   string `json:"user_ref"`
	Role      string `json:"role" enum:"member,team_leader,supervisor,manager,partner"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
