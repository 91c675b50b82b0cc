package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"
	"github.com/Haniehz1/mcp-server-test-script/internal/registry"
)

type RunManager struct {
	cfg         ServerConfig
	store       Store
	obs         *Observability
	catalog     []probe.ProbeSpec
	newRegistry func(GatewayConfig) registry.Registry
	queue       chan queuedRun
	wg          sync.WaitGroup
	quickLimit  RateLimiter
}

type RunnerService interface {
	CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error)
	CreateQuickCheck(request QuickCheckRequest, ipHash, uaHash string) (RunMeta, error)
	Catalog() []probe.ProbeSpec
}

type queuedRun struct {
	RunID       string
	Request     RunRequest
	Creator     Principal
	CreatorType string
	Source      string
}

func NewRunManager(cfg ServerConfig, store Store, obs *Observability) (*RunManager, error) {
	catalog := probe.DefaultCatalog()
	if strings.TrimSpace(cfg.CatalogPath) != "" {
		loaded, err := probe.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		catalog = loaded
	} else if err := probe.ValidateCatalog(catalog); err != nil {
		return nil, fmt.Errorf("built-in catalog: %w", err)
	}
	maxParallel := cfg.Runs.MaxParallelRuns
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &RunManager{
		cfg:     cfg,
		store:   store,
		obs:     obs,
		catalog: catalog,
		newRegistry: func(gateway GatewayConfig) registry.Registry {
			return registry.NewClient(registry.Config{
				BaseURL:   gateway.BaseURL,
				AuthToken: gateway.AuthToken,
				Timeout:   time.Duration(gateway.TimeoutSec) * time.Second,
			})
		},
		queue:      make(chan queuedRun, maxParallel*8),
		quickLimit: newRateLimiter(cfg.Limits),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager, nil
}

func (m *RunManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

// Catalog exposes the probe set selections are validated against.
func (m *RunManager) Catalog() []probe.ProbeSpec {
	return m.catalog
}

func (m *RunManager) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	if strings.TrimSpace(request.GatewayURL) == "" {
		request.GatewayURL = m.cfg.Gateway.BaseURL
	}
	if request.TimeoutSec <= 0 {
		request.TimeoutSec = m.cfg.Runs.DefaultTimeoutSec
	}
	if request.ProbeTimeoutSec <= 0 {
		request.ProbeTimeoutSec = m.cfg.Runs.DefaultProbeTimeoutSec
	}
	if _, err := m.selectSpecs(request); err != nil {
		return RunMeta{}, err
	}
	runID := newRunID()
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		CreatorName: principal.Username,
		Request:     request,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "run queued", map[string]any{"source": source})
	m.recordAudit(AuditEvent{
		RunID:     runID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "run.create",
		Result:    "queued",
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     request,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *RunManager) CreateQuickCheck(request QuickCheckRequest, ipHash, uaHash string) (RunMeta, error) {
	if !m.quickLimit.Allow(context.Background(), ipHash) {
		if m.obs != nil {
			m.obs.MarkRateLimited(context.Background(), "quick_check")
		}
		m.recordAudit(AuditEvent{
			ActorType: "user",
			Action:    "quick_check.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return RunMeta{}, errors.New("quick check rate limit reached")
	}
	runRequest, err := scenarioToRunRequest(request, m.cfg)
	if err != nil {
		return RunMeta{}, err
	}
	runID := newRunID()
	meta := RunMeta{
		RunID:       runID,
		Status:      "queued",
		Source:      "user.quick_check",
		CreatorType: "user",
		Request:     runRequest,
		CreatedAt:   nowRFC3339(),
	}
	if err := m.store.CreateRun(meta); err != nil {
		return RunMeta{}, err
	}
	_, _ = m.store.AppendRunEvent(runID, "queue", "quick check queued", map[string]any{
		"scenario_id": request.ScenarioID,
	})
	m.recordAudit(AuditEvent{
		RunID:     runID,
		ActorType: "user",
		Action:    "quick_check.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
		Detail:    request.ScenarioID,
	})
	m.queue <- queuedRun{
		RunID:       runID,
		Request:     runRequest,
		CreatorType: "user",
		Source:      "user.quick_check",
	}
	return meta, nil
}

func (m *RunManager) worker() {
	for queued := range m.queue {
		m.executeRun(queued)
	}
}

func (m *RunManager) executeRun(queued queuedRun) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "start", "run started", nil)

	specs, err := m.selectSpecs(queued.Request)
	if err != nil {
		m.failRun(queued, err)
		return
	}

	if queued.Request.DryRun {
		m.completeRun(queued, buildDryRunReport(specs))
		return
	}

	timeout := time.Duration(queued.Request.TimeoutSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	reg := m.newRegistry(GatewayConfig{
		BaseURL:    queued.Request.GatewayURL,
		AuthToken:  m.cfg.Gateway.AuthToken,
		TimeoutSec: m.cfg.Gateway.TimeoutSec,
	})
	runner := probe.NewRunner(reg)
	runner.ProbeTimeout = time.Duration(queued.Request.ProbeTimeoutSec) * time.Second
	orchestrator := &probe.Orchestrator{
		Registry: reg,
		Runner:   runner,
		OnEvent: func(event probe.RunEvent) {
			m.recordProbeEvent(ctx, queued.RunID, event)
		},
	}
	m.completeRun(queued, orchestrator.Run(ctx, specs))
}

func (m *RunManager) completeRun(queued queuedRun, report probe.RunReport) {
	status := runStatus(report.Summary, queued.Request.Strict)
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = &report
		meta.Tally = tallyFromSummary(report.Summary)
		if status == "fail" {
			if report.Summary.TotalErrors > 0 {
				meta.Error = fmt.Sprintf("%d of %d servers failed", report.Summary.TotalErrors, report.Summary.TotalServers)
			} else {
				meta.Error = fmt.Sprintf("%d of %d servers not configured", report.Summary.NotConfigured, report.Summary.TotalServers)
			}
		}
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "completed", "run completed", map[string]any{
		"status":       status,
		"total_errors": report.Summary.TotalErrors,
	})
	m.recordAudit(AuditEvent{
		RunID:     queued.RunID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "run.completed",
		Result:    status,
		Detail:    fmt.Sprintf("successful=%d errors=%d", report.Summary.Successful, report.Summary.TotalErrors),
	})
	if m.obs != nil {
		m.obs.MarkRun(context.Background(), status)
	}
}

func (m *RunManager) failRun(queued queuedRun, err error) {
	_, _ = m.store.UpdateRun(queued.RunID, func(meta *RunMeta) {
		meta.Status = "fail"
		meta.FinishedAt = nowRFC3339()
		meta.Error = err.Error()
	})
	_, _ = m.store.AppendRunEvent(queued.RunID, "error", err.Error(), nil)
	if m.obs != nil {
		m.obs.MarkRun(context.Background(), "fail")
	}
}

// recordAudit stamps and stores an audit entry. Audit writes never block a
// run, failures are dropped.
func (m *RunManager) recordAudit(event AuditEvent) {
	event.Timestamp = nowRFC3339()
	_ = m.store.AppendAudit(event)
}

func (m *RunManager) recordProbeEvent(ctx context.Context, runID string, event probe.RunEvent) {
	message := event.Message
	if message == "" && event.Stage == "probe_start" {
		message = "probe started"
	}
	data := map[string]any{}
	if event.Server != "" {
		data["server"] = event.Server
	}
	if event.Stage == "probe_result" && event.Result != nil {
		data["status"] = string(event.Result.Outcome)
		data["duration_ms"] = event.DurationMS
		if event.Result.Error != "" {
			data["error"] = event.Result.Error
		}
		if m.obs != nil {
			m.obs.MarkProbe(ctx, event.Server, event.DurationMS)
			m.obs.MarkProbeOutcome(ctx, event.Result.Outcome)
		}
	}
	_, _ = m.store.AppendRunEvent(runID, event.Stage, message, data)
}

// selectSpecs narrows the catalog to the requested classes and servers. An
// empty selection is rejected up front so runs never queue with nothing to do.
func (m *RunManager) selectSpecs(request RunRequest) ([]probe.ProbeSpec, error) {
	specs := m.catalog
	if len(request.Classes) > 0 {
		classes := make([]probe.ExecutionClass, 0, len(request.Classes))
		for _, raw := range request.Classes {
			class, err := probe.ParseClass(raw)
			if err != nil {
				return nil, err
			}
			classes = append(classes, class)
		}
		specs = probe.FilterClasses(specs, classes...)
	}
	if len(request.Servers) > 0 {
		specs = probe.FilterServers(specs, request.Servers...)
	}
	if len(specs) == 0 {
		return nil, errors.New("selection matches no catalog probes")
	}
	return specs, nil
}

func runStatus(summary probe.RunSummary, strict bool) string {
	switch {
	case summary.TotalErrors > 0:
		return "fail"
	case summary.NotConfigured > 0:
		if strict {
			return "fail"
		}
		return "warn"
	default:
		return "pass"
	}
}

func scenarioToRunRequest(input QuickCheckRequest, cfg ServerConfig) (RunRequest, error) {
	scenario := strings.ToLower(strings.TrimSpace(input.ScenarioID))
	gatewayURL := strings.TrimSpace(input.GatewayURL)
	if gatewayURL == "" {
		gatewayURL = cfg.Gateway.BaseURL
	}
	base := RunRequest{
		GatewayURL:      gatewayURL,
		TimeoutSec:      cfg.Runs.DefaultTimeoutSec,
		ProbeTimeoutSec: cfg.Runs.DefaultProbeTimeoutSec,
	}
	switch scenario {
	case "full-catalog":
	case "no-auth-smoke":
		base.Classes = []string{"independent"}
	case "credentialed-audit":
		base.Classes = []string{"api_key", "oauth"}
		base.Strict = true
	default:
		return RunRequest{}, errors.New("unsupported scenario_id")
	}
	return base, nil
}

func buildDryRunReport(specs []probe.ProbeSpec) probe.RunReport {
	results := make([]probe.ProbeResult, 0, len(specs))
	for _, spec := range specs {
		results = append(results, probe.ProbeResult{
			Server:       spec.Name,
			Outcome:      probe.OutcomeSuccess,
			Transport:    spec.Transport,
			AuthRequired: spec.Class.AuthRequired(),
			Detail:       "dry-run simulated success",
			Description:  spec.Description,
			Timestamp:    nowRFC3339(),
			Fields:       map[string]any{"dry_run": true},
		})
	}
	return probe.BuildReport(results)
}

func newRunID() string {
	return "run_" + ulid.Make().String()
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
