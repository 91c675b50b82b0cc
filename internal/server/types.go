package server

import (
	"time"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type RunRequest struct {
	GatewayURL      string   `json:"gateway_url"`
	Classes         []string `json:"classes,omitempty"`
	Servers         []string `json:"servers,omitempty"`
	ProbeTimeoutSec int      `json:"probe_timeout_sec,omitempty"`
	TimeoutSec      int      `json:"timeout_sec,omitempty"`
	DryRun          bool     `json:"dry_run,omitempty"`
	Strict          bool     `json:"strict,omitempty"`
}

type QuickCheckRequest struct {
	ScenarioID string `json:"scenario_id"`
	GatewayURL string `json:"gateway_url,omitempty"`
}

type RunMeta struct {
	RunID        string           `json:"run_id"`
	Status       string           `json:"status"`
	CreatorType  string           `json:"creator_type"`
	CreatorSub   string           `json:"creator_sub,omitempty"`
	CreatorName  string           `json:"creator_name,omitempty"`
	Source       string           `json:"source"`
	Request      RunRequest       `json:"request"`
	StartedAt    string           `json:"started_at,omitempty"`
	FinishedAt   string           `json:"finished_at,omitempty"`
	CreatedAt    string           `json:"created_at"`
	Error        string           `json:"error,omitempty"`
	Report       *probe.RunReport `json:"report,omitempty"`
	Tally        OutcomeTally     `json:"tally"`
}

// OutcomeTally mirrors the report summary counters so list views can show
// them without loading the full report.
type OutcomeTally struct {
	TotalServers     int `json:"total_servers"`
	Successful       int `json:"successful"`
	NotConfigured    int `json:"not_configured"`
	AuthErrors       int `json:"auth_errors"`
	OAuthRequired    int `json:"oauth_required"`
	ConnectionErrors int `json:"connection_errors"`
	OtherErrors      int `json:"other_errors"`
	TotalErrors      int `json:"total_errors"`
}

func tallyFromSummary(summary probe.RunSummary) OutcomeTally {
	return OutcomeTally{
		TotalServers:     summary.TotalServers,
		Successful:       summary.Successful,
		NotConfigured:    summary.NotConfigured,
		AuthErrors:       summary.AuthErrors,
		OAuthRequired:    summary.OAuthRequired,
		ConnectionErrors: summary.ConnectionErrors,
		OtherErrors:      summary.OtherErrors,
		TotalErrors:      summary.TotalErrors,
	}
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type RunEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string `json:"generated_at"`
	TotalRuns       int    `json:"total_runs"`
	RunningRuns     int    `json:"running_runs"`
	PassRuns        int    `json:"pass_runs"`
	WarnRuns        int    `json:"warn_runs"`
	FailRuns        int    `json:"fail_runs"`
	AverageDuration int64  `json:"average_duration_ms"`
	ProbesExecuted  int    `json:"probes_executed"`
	ProbesSucceeded int    `json:"probes_succeeded"`
	ProbesErrored   int    `json:"probes_errored"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
