package auditflowsdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Auditflow HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no key or token is set. Only
	// works against servers that allow the legacy header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API engagement model.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Step represents an ordered phase of the engagement.
type Step struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
}

// Task represents the API task model (partial).
type Task struct {
	ID               string   `json:"id"`
	StepID           string   `json:"step_id"`
	Name             string   `json:"name"`
	IsRequired       bool     `json:"is_required"`
	CompletionStatus string   `json:"completion_status"`
	ApprovalRoles    []string `json:"approval_roles"`
	ApprovalType     string   `json:"approval_type"`
}

// Submission represents one review round (partial).
type Submission struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"task_id"`
	Seq        int         `json:"seq"`
	Stage      string      `json:"stage"`
	Notes      string      `json:"notes,omitempty"`
	ClientDocs []ClientDoc `json:"client_documents,omitempty"`
}

// ClientDoc is a document requested from the external client.
type ClientDoc struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	FileRef     *string `json:"file_ref,omitempty"`
}

// TaskDetail is a task with its derived review status and history.
type TaskDetail struct {
	Task
	Status      string       `json:"status"`
	PendingRole string       `json:"pending_role,omitempty"`
	Submissions []Submission `json:"submissions,omitempty"`
}

// Document attaches a named file to a submission.
type Document struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// StepState is one step's gate verdict.
type StepState struct {
	ID        string `json:"id"`
	Locked    bool   `json:"locked"`
	CanAccess bool   `json:"can_access"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateStep creates a step at the end of the sequence.
func (c *Client) CreateStep(ctx context.Context, name string) (Step, error) {
	var resp Step
	err := c.do(ctx, http.MethodPost, c.projectPath("steps"), map[string]any{"name": name}, &resp)
	return resp, err
}

// CreateTask creates a task on a step. Roles form the approval chain in
// order; approvalType is "once" or "all_attempts". Leave both empty to use
// the server's preset for the task kind.
func (c *Client) CreateTask(ctx context.Context, stepID, name string, required bool, roles []string, approvalType string) (Task, error) {
	body := map[string]any{
		"name":        name,
		"is_required": required,
	}
	if len(roles) > 0 {
		body["approval_roles"] = roles
	}
	if approvalType != "" {
		body["approval_type"] = approvalType
	}
	var resp Task
	endpoint := c.projectPath(fmt.Sprintf("steps/%s/tasks", url.PathEscape(stepID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetTask fetches a task with its submission history.
func (c *Client) GetTask(ctx context.Context, taskID string) (TaskDetail, error) {
	var resp TaskDetail
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Submit opens a review round with documents and optional client document
// requests. File contents are sent base64 encoded.
func (c *Client) Submit(ctx context.Context, taskID, notes string, docs []Document, clientRequests []string) (Submission, error) {
	uploads := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		uploads = append(uploads, map[string]any{
			"name":    d.Name,
			"content": base64.StdEncoding.EncodeToString(d.Content),
		})
	}
	body := map[string]any{"notes": notes}
	if len(uploads) > 0 {
		body["documents"] = uploads
	}
	if len(clientRequests) > 0 {
		body["client_requests"] = clientRequests
	}
	var resp Submission
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/submit", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Approve records an approval for the given chain role.
func (c *Client) Approve(ctx context.Context, taskID, role, comment string) (TaskDetail, error) {
	return c.decide(ctx, taskID, "approve", role, comment)
}

// Reject returns the work to the preparer. Comment is required.
func (c *Client) Reject(ctx context.Context, taskID, role, comment string) (TaskDetail, error) {
	return c.decide(ctx, taskID, "reject", role, comment)
}

func (c *Client) decide(ctx context.Context, taskID, verb, role, comment string) (TaskDetail, error) {
	body := map[string]any{"role": role}
	if comment != "" {
		body["comment"] = comment
	}
	var resp TaskDetail
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), verb))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UploadClientDocument attaches the client's file to a requested document.
func (c *Client) UploadClientDocument(ctx context.Context, clientDocID string, content []byte, comment string) error {
	body := map[string]any{
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if comment != "" {
		body["comment"] = comment
	}
	endpoint := c.projectPath(fmt.Sprintf("client-documents/%s/upload", url.PathEscape(clientDocID)))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// AcceptClientReply accepts the client's uploads and completes the task.
func (c *Client) AcceptClientReply(ctx context.Context, taskID, comment string) (TaskDetail, error) {
	body := map[string]any{}
	if comment != "" {
		body["comment"] = comment
	}
	var resp TaskDetail
	endpoint := c.projectPath(fmt.Sprintf("tasks/%s/client-accept", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Gate returns each step's lock verdict.
func (c *Client) Gate(ctx context.Context) ([]StepState, error) {
	var resp struct {
		Steps []StepState `json:"steps"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("gate"), nil, &resp)
	return resp.Steps, err
}

// Events returns recent events, newest first. A zero limit uses the
// server default.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EventsAfter returns events with id greater than the cursor, oldest
// first, for polling.
func (c *Client) EventsAfter(ctx context.Context, after int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("%s?after=%d", c.projectPath("events"), after)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
