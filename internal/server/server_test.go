package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
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
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("studio"))
	e.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, a := range []domain.Actor{
		{ID: "boss", Role: "administrator"},
		{ID: "dee", Role: "designer", Department: "design"},
		{ID: "carl", Role: "client"},
		{ID: "paul", Role: "php_developer", Department: "build_php"},
	} {
		if _, err := e.RegisterActor(ctx, a); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
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

func asBoss(extra map[string]string) map[string]string {
	headers := map[string]string{"X-Actor-Id": "boss"}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

func TestProjectMoveAndStatusOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":       "shop",
		"name":     "webshop relaunch",
		"category": "php",
	}, asBoss(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var created CreateProjectResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if created.Project.CurrentDepartment != "intake" {
		t.Fatalf("expected intake, got %s", created.Project.CurrentDepartment)
	}

	for _, status := range []string{"in_progress", "completed"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/shop/status", map[string]any{
			"status": status,
		}, asBoss(nil))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status %s: %d: %s", status, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/shop/move", map[string]any{
		"to": "design",
	}, asBoss(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	var moved ProjectResponse
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal moved: %v", err)
	}
	if moved.CurrentDepartment != "design" {
		t.Fatalf("expected design, got %s", moved.CurrentDepartment)
	}
	if moved.ProjectCode != "I" {
		t.Fatalf("expected project code I, got %q", moved.ProjectCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/shop/workflow", nil, asBoss(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("workflow status %d: %s", res.StatusCode, string(data))
	}
	var ws WorkflowStatusResponse
	if err := json.Unmarshal(data, &ws); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if ws.CurrentDepartment != "design" || ws.WorkStatus != "not_started" {
		t.Fatalf("unexpected workflow status: %+v", ws)
	}
}

func TestMoveBlockedReturnsGateDetails(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":   "shop",
		"name": "webshop relaunch",
	}, asBoss(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}

	// Work in intake not completed yet.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/shop/move", map[string]any{
		"to": "design",
	}, asBoss(nil))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "gate_not_satisfied" {
		t.Fatalf("expected gate_not_satisfied, got %q", envelope.Error.Code)
	}

	// An edge missing from the rule table is a conflict, not a gate failure.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/shop/move", map[string]any{
		"to": "qa",
	}, asBoss(nil))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
}

func TestForbiddenActorGets403(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":   "shop",
		"name": "webshop relaunch",
	}, asBoss(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/shop/status", map[string]any{
		"status": "in_progress",
	}, map[string]string{"X-Actor-Id": "carl"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for health, got %d", res.StatusCode)
	}
}

func TestDevLoginAndJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "boss",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected a token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with jwt status %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "boss",
		"name":     "ci",
	}, asBoss(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("issue key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatal("expected plaintext key in response")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list with api key status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects", nil, map[string]string{
		"X-Api-Key": "slk_bogus",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus key, got %d", res.StatusCode)
	}
}

func TestActorRegistrationRequiresManagement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/actors", map[string]any{
		"id":   "rita",
		"role": "react_developer",
	}, map[string]string{"X-Actor-Id": "dee"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/actors", map[string]any{
		"id":         "rita",
		"role":       "react_developer",
		"department": "build_react",
	}, asBoss(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var actor ActorResponse
	if err := json.Unmarshal(data, &actor); err != nil {
		t.Fatalf("unmarshal actor: %v", err)
	}
	if actor.Role != "react_developer" {
		t.Fatalf("unexpected role %q", actor.Role)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"id":   "shop",
		"name": "webshop relaunch",
	}, asBoss(nil))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	for _, status := range []string{"in_progress", "completed"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/shop/status", map[string]any{
			"status": status,
		}, asBoss(nil))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status %s: %d: %s", status, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/shop/events?limit=2", nil, asBoss(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 events, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/shop/events?limit=2&cursor="+page.NextCursor, nil, asBoss(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var page2 paginatedEvents
	if err := json.Unmarshal(data, &page2); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page2.Items) == 0 {
		t.Fatal("expected remaining events")
	}
	for _, evt := range page2.Items {
		if evt.ID >= page.Items[len(page.Items)-1].ID {
			t.Fatalf("cursor did not advance: %d", evt.ID)
		}
	}
}
