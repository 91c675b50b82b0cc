package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"
)

type fakeRunner struct{}

func (f fakeRunner) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	return RunMeta{
		RunID:      "run_fake_admin",
		Status:     "queued",
		CreatorSub: principal.Subject,
		Request:    request,
		CreatedAt:  nowRFC3339(),
	}, nil
}

func (f fakeRunner) CreateQuickCheck(request QuickCheckRequest, ipHash, uaHash string) (RunMeta, error) {
	return RunMeta{
		RunID:     "run_fake_user",
		Status:    "queued",
		Request:   RunRequest{GatewayURL: request.GatewayURL},
		CreatedAt: nowRFC3339(),
	}, nil
}

func (f fakeRunner) Catalog() []probe.ProbeSpec {
	return probe.DefaultCatalog()
}

func newTestAPI(t *testing.T) (*httptest.Server, Store) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	api := NewAPI(auth, store, fakeRunner{}, nil)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return server, store
}

func TestRouterHealthz(t *testing.T) {
	server, _ := newTestAPI(t)

	response, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestRouterCatalog(t *testing.T) {
	server, _ := newTestAPI(t)

	response, err := http.Get(server.URL + "/api/v1/catalog")
	if err != nil {
		t.Fatalf("GET /api/v1/catalog failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	var body struct {
		Servers []map[string]any `json:"servers"`
		Total   int              `json:"total"`
	}
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if body.Total != 15 {
		t.Fatalf("expected 15 servers, got %d", body.Total)
	}
	if body.Servers[0]["name"] != "fetch" {
		t.Fatalf("expected fetch first, got %v", body.Servers[0]["name"])
	}
	if body.Servers[0]["auth_required"] != false {
		t.Fatalf("fetch should not require auth")
	}
}

func TestRouterAdminAuthAndRun(t *testing.T) {
	server, _ := newTestAPI(t)

	body := map[string]any{
		"gateway_url": "http://localhost:8811",
		"classes":     []string{"independent"},
	}
	rawBody, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("admin create without auth failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Admin-Token", "secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin create with token failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp2.StatusCode)
	}
}

func TestRouterQuickCheck(t *testing.T) {
	server, _ := newTestAPI(t)

	body := map[string]any{
		"scenario_id": "no-auth-smoke",
	}
	rawBody, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/user/quick-check", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("quick check request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.RunID != "run_fake_user" {
		t.Fatalf("expected run_fake_user, got %s", created.RunID)
	}
}

func TestRouterUserQuickCheckView(t *testing.T) {
	server, store := newTestAPI(t)

	report := probe.BuildReport([]probe.ProbeResult{
		{Server: "fetch", Outcome: probe.OutcomeSuccess, Detail: "Fetched apple.com homepage (4200 bytes)", Timestamp: nowRFC3339()},
		{Server: "github", Outcome: probe.OutcomeOAuthRequired, AuthRequired: true, Error: "OAuth authentication required - run oauth flow first", Timestamp: nowRFC3339()},
	})
	meta := RunMeta{
		RunID:       "run_view_1",
		Status:      "fail",
		CreatorType: "user",
		Source:      "user.quick_check",
		CreatedAt:   nowRFC3339(),
		Report:      &report,
		Tally:       tallyFromSummary(report.Summary),
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/user/quick-check/run_view_1")
	if err != nil {
		t.Fatalf("GET quick check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view struct {
		RunID   string         `json:"run_id"`
		Tally   map[string]any `json:"tally"`
		Summary struct {
			TotalErrors int              `json:"total_errors"`
			Highlights  []map[string]any `json:"highlights"`
		} `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.RunID != "run_view_1" {
		t.Fatalf("expected run_view_1, got %s", view.RunID)
	}
	if view.Tally["total_servers"] != float64(2) {
		t.Fatalf("expected 2 total servers, got %v", view.Tally["total_servers"])
	}
	if view.Summary.TotalErrors != 1 {
		t.Fatalf("expected 1 total error, got %d", view.Summary.TotalErrors)
	}
	if len(view.Summary.Highlights) != 1 || view.Summary.Highlights[0]["server"] != "github" {
		t.Fatalf("expected github highlight, got %v", view.Summary.Highlights)
	}
}
