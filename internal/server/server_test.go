package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"go.uber.org/zap"

	"strategist/internal/config"
	"strategist/internal/db"
	"strategist/internal/domain"
	"strategist/internal/migrate"
	"strategist/internal/strategist"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("u-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	orch := strategist.New(conn, cfg, zap.NewNop())
	handler, err := New(Config{Orch: orch, BasePath: "/v0"})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
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

func TestDirectiveLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	issueRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/directives", map[string]any{
		"type":     "pause_applications",
		"title":    "Pause and regroup",
		"priority": "critical",
		"target":   "application-manager",
	})
	if issueRes.StatusCode != http.StatusCreated {
		t.Fatalf("issue status %d: %s", issueRes.StatusCode, string(data))
	}
	var issued domain.Directive
	if err := json.Unmarshal(data, &issued); err != nil {
		t.Fatalf("unmarshal directive: %v", err)
	}
	if issued.Status != domain.DirectivePending {
		t.Fatalf("expected pending, got %s", issued.Status)
	}
	if issued.UserID != "u-test" {
		t.Fatalf("expected default user, got %s", issued.UserID)
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/directives/"+issued.ID+"/executions", map[string]any{
		"executed_by": "application-manager",
	})
	if startRes.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d: %s", startRes.StatusCode, string(startBody))
	}
	var log domain.ExecutionLog
	if err := json.Unmarshal(startBody, &log); err != nil {
		t.Fatalf("unmarshal execution: %v", err)
	}

	// A second attempt while the first is still running conflicts.
	dupRes, dupBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/directives/"+issued.ID+"/executions", map[string]any{
		"executed_by": "application-manager",
	})
	if dupRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", dupRes.StatusCode, string(dupBody))
	}

	doneRes, doneBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/directives/"+issued.ID+"/executions/"+log.ID+"/complete", map[string]any{
		"success": true,
		"result":  "applications paused for one week",
	})
	if doneRes.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", doneRes.StatusCode, string(doneBody))
	}
	var done domain.Directive
	if err := json.Unmarshal(doneBody, &done); err != nil {
		t.Fatalf("unmarshal done: %v", err)
	}
	if done.Status != domain.DirectiveCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}

	// Completed is terminal.
	againRes, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/directives/"+issued.ID+"/executions", map[string]any{
		"executed_by": "application-manager",
	})
	if againRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on terminal restart, got %d: %s", againRes.StatusCode, string(againBody))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(againBody, &envelope)
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition code, got %q: %s", envelope.Error.Code, string(againBody))
	}
}

func TestIssueValidationAndNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/directives", map[string]any{
		"type":  "not_a_type",
		"title": "bogus",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/directives/missing", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", envelope.Error.Code)
	}
}

func TestActivityIngestionAndRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	appRes, appBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/activity/applications", map[string]any{
		"company": "Acme",
		"role":    "Backend Engineer",
		"status":  "rejected",
	})
	if appRes.StatusCode != http.StatusCreated {
		t.Fatalf("add application status %d: %s", appRes.StatusCode, string(appBody))
	}
	var app domain.Application
	if err := json.Unmarshal(appBody, &app); err != nil {
		t.Fatalf("unmarshal application: %v", err)
	}
	if app.ID == "" || app.AppliedAt == "" {
		t.Fatalf("expected generated id and applied_at, got %+v", app)
	}

	vRes, vBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/activity/verifications", map[string]any{
		"skill": "sql",
	})
	if vRes.StatusCode != http.StatusCreated {
		t.Fatalf("add verification status %d: %s", vRes.StatusCode, string(vBody))
	}
	var v domain.SkillVerification
	_ = json.Unmarshal(vBody, &v)
	if v.Status != domain.VerificationStatusVerified || v.VerifiedAt == nil {
		t.Fatalf("expected verified default, got %+v", v)
	}

	runRes, runBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs", map[string]any{})
	if runRes.StatusCode != http.StatusCreated {
		t.Fatalf("run status %d: %s", runRes.StatusCode, string(runBody))
	}
	var result strategist.RunResult
	if err := json.Unmarshal(runBody, &result); err != nil {
		t.Fatalf("unmarshal run result: %v", err)
	}
	if result.Run.Status != strategist.RunCompleted {
		t.Fatalf("expected completed run, got %s", result.Run.Status)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs?limit=10", nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list runs status %d: %s", listRes.StatusCode, string(listBody))
	}
	var runs struct {
		Runs []domain.Run `json:"runs"`
	}
	if err := json.Unmarshal(listBody, &runs); err != nil {
		t.Fatalf("unmarshal runs: %v", err)
	}
	if len(runs.Runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs.Runs))
	}
}

func TestReportsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/velocity", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("velocity status %d: %s", res.StatusCode, string(body))
	}
	var velocity struct {
		Report domain.VelocityReport `json:"report"`
		Stall  domain.StallCheck     `json:"stall"`
	}
	if err := json.Unmarshal(body, &velocity); err != nil {
		t.Fatalf("unmarshal velocity: %v", err)
	}
	if velocity.Stall.Stalled {
		t.Fatalf("empty history should not read as stalled")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/narrative", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("narrative status %d: %s", res.StatusCode, string(body))
	}
	var n struct {
		Source string `json:"source"`
	}
	_ = json.Unmarshal(body, &n)
	if n.Source != "rules" {
		t.Fatalf("expected rule-based narrative without a model, got %q", n.Source)
	}
}
