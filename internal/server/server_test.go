package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"

	"auditflow/internal/config"
	"auditflow/internal/db"
	"auditflow/internal/domain"
	"auditflow/internal/migrate"
	"auditflow/internal/storage"
	"auditflow/internal/workflow"
)

type testServer struct {
	URL    string
	Engine workflow.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
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
	e := workflow.New(conn, cfg, store)
	ctx := context.Background()
	if _, err := e.InitProject(ctx, "eng-1", "FY25 audit", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	if _, err := e.AddTeamMember(ctx, "eng-1", "boss", domain.RoleManager, "tester"); err != nil {
		t.Fatalf("add manager: %v", err)
	}
	if _, err := e.AddTeamMember(ctx, "eng-1", "lead", domain.RoleTeamLeader, "tester"); err != nil {
		t.Fatalf("add team leader: %v", err)
	}
	if _, err := e.SetProjectStatus(ctx, "eng-1", domain.ProjectInProgress, "tester"); err != nil {
		t.Fatalf("start project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}
}

func TestSubmitAndApproveOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps", map[string]any{
		"name": "Planning",
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create step: %d %s", res.StatusCode, string(data))
	}
	var step StepResponse
	if err := json.Unmarshal(data, &step); err != nil {
		t.Fatalf("unmarshal step: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps/"+step.ID+"/tasks", map[string]any{
		"name":           "Engagement letter",
		"is_required":    true,
		"approval_roles": []string{domain.RoleTeamLeader},
		"approval_type":  domain.ApprovalOnce,
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/tasks/"+task.ID+"/submit", map[string]any{
		"notes": "signed letter attached",
		"documents": []map[string]string{
			{"name": "letter.pdf", "content": base64.StdEncoding.EncodeToString([]byte("signed"))},
		},
	}, asActor("worker"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var sub SubmissionResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if sub.Stage != domain.StageInReview {
		t.Fatalf("expected in_review, got %s", sub.Stage)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/tasks/"+task.ID+"/approve", map[string]any{
		"role": domain.RoleTeamLeader,
	}, asActor("lead"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var detail workflow.TaskDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.Status != workflow.StatusApproved {
		t.Fatalf("expected approved status, got %s", detail.Status)
	}
	if detail.CompletionStatus != domain.CompletionCompleted {
		t.Fatalf("expected completed, got %s", detail.CompletionStatus)
	}
}

func TestApproveWithoutRoleIsForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps", map[string]any{
		"name": "Fieldwork",
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create step: %d %s", res.StatusCode, string(data))
	}
	var step StepResponse
	_ = json.Unmarshal(data, &step)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps/"+step.ID+"/tasks", map[string]any{
		"name":           "Inventory count",
		"approval_roles": []string{domain.RoleTeamLeader},
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/tasks/"+task.ID+"/submit", map[string]any{
		"documents": []map[string]string{
			{"name": "count.xlsx", "content": base64.StdEncoding.EncodeToString([]byte("rows"))},
		},
	}, asActor("worker"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	// "stranger" is not a team member, so the role check fails.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/tasks/"+task.ID+"/approve", map[string]any{
		"role": domain.RoleTeamLeader,
	}, asActor("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", envelope.Error.Code)
	}
}

func TestRejectWithoutCommentFails(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps", map[string]any{
		"name": "Review",
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create step: %d %s", res.StatusCode, string(data))
	}
	var step StepResponse
	_ = json.Unmarshal(data, &step)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps/"+step.ID+"/tasks", map[string]any{
		"name":           "Working papers",
		"approval_roles": []string{domain.RoleTeamLeader},
	}, asActor("boss"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	_ = json.Unmarshal(data, &task)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/tasks/"+task.ID+"/submit", map[string]any{
		"documents": []map[string]string{
			{"name": "wp.pdf", "content": base64.StdEncoding.EncodeToString([]byte("draft"))},
		},
	}, asActor("worker"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/tasks/"+task.ID+"/reject", map[string]any{
		"role": domain.RoleTeamLeader,
	}, asActor("lead"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %q", envelope.Error.Code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	ctx := context.Background()

	key, _, err := MintAPIKey(ctx, srv.Engine, "robot", "ci")
	if err != nil {
		t.Fatalf("mint api key: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"X-Api-Key": key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list projects with api key: %d %s", res.StatusCode, string(data))
	}
	var projects []ProjectResponse
	if err := json.Unmarshal(data, &projects); err != nil {
		t.Fatalf("unmarshal projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "eng-1" {
		t.Fatalf("unexpected projects: %+v", projects)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects", nil, map[string]string{"X-Api-Key": "afk_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d: %s", res.StatusCode, string(data))
	}
}

func TestProjectOverviewGate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, name := range []string{"Planning", "Fieldwork"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/eng-1/steps", map[string]any{
			"name": name,
		}, asActor("boss"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create step %s: %d %s", name, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/eng-1/overview", nil, asActor("boss"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overview: %d %s", res.StatusCode, string(data))
	}
	var ov workflow.Overview
	if err := json.Unmarshal(data, &ov); err != nil {
		t.Fatalf("unmarshal overview: %v", err)
	}
	if len(ov.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(ov.Steps))
	}
	if ov.Steps[0].Locked {
		t.Fatalf("first step must never be locked")
	}
	// Second step is unlocked too since Planning has no required tasks.
	if ov.Steps[1].Locked {
		t.Fatalf("step after empty predecessor should be unlocked")
	}
}
