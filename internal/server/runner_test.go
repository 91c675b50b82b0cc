package server

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"
	"github.com/Haniehz1/mcp-server-test-script/internal/registry"
)

type stubRegistry struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (s *stubRegistry) HasConfiguration(ctx context.Context, server string) bool {
	return true
}

func (s *stubRegistry) CallTool(ctx context.Context, server, tool string, args map[string]any) (*registry.ToolResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &registry.ToolResult{
		Content: []registry.ContentBlock{{Type: "text", Text: s.text}},
	}, nil
}

func (s *stubRegistry) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitForRun(t *testing.T, store Store, runID string) RunMeta {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		meta, ok := store.GetRun(runID)
		if ok && meta.Status != "queued" && meta.Status != "running" {
			return meta
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish in time", runID)
	return RunMeta{}
}

func newTestManager(t *testing.T, cfg ServerConfig, reg registry.Registry) (*RunManager, Store) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	manager, err := NewRunManager(cfg, store, nil)
	if err != nil {
		t.Fatalf("NewRunManager: %v", err)
	}
	manager.newRegistry = func(GatewayConfig) registry.Registry { return reg }
	t.Cleanup(manager.Shutdown)
	return manager, store
}

func TestScenarioToRunRequest(t *testing.T) {
	cfg := DefaultServerConfig()
	request, err := scenarioToRunRequest(QuickCheckRequest{
		ScenarioID: "credentialed-audit",
	}, cfg)
	if err != nil {
		t.Fatalf("scenarioToRunRequest returned error: %v", err)
	}
	if request.GatewayURL != cfg.Gateway.BaseURL {
		t.Fatalf("expected default gateway, got %s", request.GatewayURL)
	}
	if len(request.Classes) != 2 || request.Classes[0] != "api_key" || request.Classes[1] != "oauth" {
		t.Fatalf("expected credentialed classes, got %v", request.Classes)
	}
	if !request.Strict {
		t.Fatalf("expected credentialed audit to be strict")
	}
}

func TestScenarioToRunRequestGatewayOverride(t *testing.T) {
	cfg := DefaultServerConfig()
	request, err := scenarioToRunRequest(QuickCheckRequest{
		ScenarioID: "full-catalog",
		GatewayURL: "http://gateway.internal:8811",
	}, cfg)
	if err != nil {
		t.Fatalf("scenarioToRunRequest returned error: %v", err)
	}
	if request.GatewayURL != "http://gateway.internal:8811" {
		t.Fatalf("expected override gateway, got %s", request.GatewayURL)
	}
	if len(request.Classes) != 0 {
		t.Fatalf("full catalog should not filter classes, got %v", request.Classes)
	}
}

func TestScenarioToRunRequestRejectUnknownScenario(t *testing.T) {
	cfg := DefaultServerConfig()
	_, err := scenarioToRunRequest(QuickCheckRequest{
		ScenarioID: "unknown",
	}, cfg)
	if err == nil {
		t.Fatalf("expected error for unsupported scenario")
	}
}

func TestRunStatus(t *testing.T) {
	cases := []struct {
		name    string
		summary probe.RunSummary
		strict  bool
		want    string
	}{
		{"all clean", probe.RunSummary{TotalServers: 3, Successful: 3}, false, "pass"},
		{"unconfigured warns", probe.RunSummary{TotalServers: 3, Successful: 1, NotConfigured: 2}, false, "warn"},
		{"unconfigured fails strict", probe.RunSummary{TotalServers: 3, Successful: 1, NotConfigured: 2}, true, "fail"},
		{"errors fail", probe.RunSummary{TotalServers: 3, Successful: 2, ConnectionErrors: 1, TotalErrors: 1}, false, "fail"},
	}
	for _, tc := range cases {
		if got := runStatus(tc.summary, tc.strict); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestSelectSpecs(t *testing.T) {
	manager := &RunManager{catalog: probe.DefaultCatalog()}

	specs, err := manager.selectSpecs(RunRequest{Classes: []string{"independent"}})
	if err != nil {
		t.Fatalf("selectSpecs returned error: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("expected 4 independent probes, got %d", len(specs))
	}

	specs, err = manager.selectSpecs(RunRequest{Servers: []string{"github", "fetch"}})
	if err != nil {
		t.Fatalf("selectSpecs returned error: %v", err)
	}
	if len(specs) != 2 || specs[0].Name != "fetch" || specs[1].Name != "github" {
		t.Fatalf("expected catalog-ordered fetch,github, got %v", specs)
	}

	if _, err := manager.selectSpecs(RunRequest{Classes: []string{"basic"}}); err == nil {
		t.Fatalf("expected error for unknown class")
	}
	if _, err := manager.selectSpecs(RunRequest{Servers: []string{"no-such-server"}}); err == nil {
		t.Fatalf("expected error for empty selection")
	}
}

func TestBuildDryRunReport(t *testing.T) {
	specs := probe.FilterClasses(probe.DefaultCatalog(), probe.ClassIndependent)
	report := buildDryRunReport(specs)
	if report.Summary.TotalServers != 4 || report.Summary.Successful != 4 {
		t.Fatalf("expected 4 simulated successes, got %+v", report.Summary)
	}
	for _, result := range report.Results {
		if result.Outcome != probe.OutcomeSuccess {
			t.Fatalf("expected success for %s, got %s", result.Server, result.Outcome)
		}
		if result.Fields["dry_run"] != true {
			t.Fatalf("expected dry_run marker for %s", result.Server)
		}
	}
}

func TestRunManagerExecutesQueuedRun(t *testing.T) {
	reg := &stubRegistry{text: strings.Repeat("Apple homepage content. ", 10)}
	manager, store := newTestManager(t, DefaultServerConfig(), reg)

	meta, err := manager.CreateAdminRun(RunRequest{
		Servers: []string{"fetch"},
	}, Principal{Subject: "u1", Username: "ops", Role: "admin"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateAdminRun: %v", err)
	}
	if meta.Status != "queued" {
		t.Fatalf("expected queued, got %s", meta.Status)
	}
	if meta.Request.GatewayURL == "" {
		t.Fatalf("expected gateway default to be applied")
	}

	final := waitForRun(t, store, meta.RunID)
	if final.Status != "pass" {
		t.Fatalf("expected pass, got %s (error=%s)", final.Status, final.Error)
	}
	if final.Report == nil || final.Report.Summary.Successful != 1 {
		t.Fatalf("expected persisted report with one success, got %+v", final.Report)
	}
	if final.Tally.TotalServers != 1 || final.Tally.Successful != 1 {
		t.Fatalf("unexpected tally: %+v", final.Tally)
	}
	if reg.callCount() == 0 {
		t.Fatalf("expected gateway to be called")
	}

	events := store.ListRunEvents(meta.RunID, 0)
	stages := map[string]bool{}
	for _, event := range events {
		stages[event.Stage] = true
	}
	for _, want := range []string{"queue", "start", "probe_start", "probe_result", "completed"} {
		if !stages[want] {
			t.Fatalf("missing %s event, got %v", want, events)
		}
	}

	audit := store.ListAudit(10)
	actions := map[string]bool{}
	for _, entry := range audit {
		actions[entry.Action] = true
	}
	if !actions["run.create"] || !actions["run.completed"] {
		t.Fatalf("missing audit actions, got %v", audit)
	}
}

func TestRunManagerDryRunSkipsGateway(t *testing.T) {
	reg := &stubRegistry{text: "unused"}
	manager, store := newTestManager(t, DefaultServerConfig(), reg)

	meta, err := manager.CreateAdminRun(RunRequest{
		Servers: []string{"fetch", "github"},
		DryRun:  true,
	}, Principal{Subject: "u1", Role: "admin"}, "admin.manual")
	if err != nil {
		t.Fatalf("CreateAdminRun: %v", err)
	}

	final := waitForRun(t, store, meta.RunID)
	if final.Status != "pass" {
		t.Fatalf("expected pass, got %s", final.Status)
	}
	if final.Tally.TotalServers != 2 {
		t.Fatalf("expected 2 servers in tally, got %d", final.Tally.TotalServers)
	}
	if reg.callCount() != 0 {
		t.Fatalf("dry run must not call the gateway, got %d calls", reg.callCount())
	}
}

func TestRunManagerRejectsInvalidSelection(t *testing.T) {
	reg := &stubRegistry{text: "unused"}
	manager, _ := newTestManager(t, DefaultServerConfig(), reg)

	_, err := manager.CreateAdminRun(RunRequest{
		Classes: []string{"premium"},
	}, Principal{Subject: "u1", Role: "admin"}, "admin.manual")
	if err == nil {
		t.Fatalf("expected error for unknown class")
	}
}

func TestCreateQuickCheckRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Limits.QuickCheckRPM = 1
	reg := &stubRegistry{text: strings.Repeat("Apple homepage content. ", 10)}
	manager, store := newTestManager(t, cfg, reg)

	first, err := manager.CreateQuickCheck(QuickCheckRequest{ScenarioID: "no-auth-smoke"}, "iphash1", "uahash1")
	if err != nil {
		t.Fatalf("first quick check rejected: %v", err)
	}
	waitForRun(t, store, first.RunID)

	_, err = manager.CreateQuickCheck(QuickCheckRequest{ScenarioID: "no-auth-smoke"}, "iphash1", "uahash1")
	if err == nil {
		t.Fatalf("expected rate limit rejection")
	}
	if !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	audit := store.ListAudit(10)
	var sawReject bool
	for _, entry := range audit {
		if entry.Action == "quick_check.reject" && entry.Result == "rate_limited" {
			sawReject = true
		}
	}
	if !sawReject {
		t.Fatalf("expected quick_check.reject audit entry, got %v", audit)
	}
}
