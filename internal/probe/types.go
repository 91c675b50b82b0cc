package probe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ExecutionClass string

const (
	ClassIndependent ExecutionClass = "independent"
	ClassAPIKey      ExecutionClass = "api_key"
	ClassOAuth       ExecutionClass = "oauth"
)

func (c ExecutionClass) AuthRequired() bool {
	return c != ClassIndependent
}

type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable_http"
)

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeNotConfigured   Outcome = "not_configured"
	OutcomeAuthError       Outcome = "auth_error"
	OutcomeOAuthRequired   Outcome = "oauth_required"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeGenericError    Outcome = "error"
)

// IsError reports whether the outcome counts toward total_errors.
// Missing configuration is an operator task, not a failure.
func (o Outcome) IsError() bool {
	return o != OutcomeSuccess && o != OutcomeNotConfigured
}

type ProbeStep struct {
	Tool      string         `json:"tool" yaml:"tool"`
	Arguments map[string]any `json:"arguments" yaml:"arguments"`
}

// ProbeSpec describes one catalog entry. Specs are built once at startup
// and never mutated; the runner only reads them.
type ProbeSpec struct {
	Name        string
	Class       ExecutionClass
	Transport   Transport
	Tool        string
	Arguments   map[string]any
	FollowUp    *ProbeStep
	Description string
	ArgsSchema  map[string]any
}

type ProbeResult struct {
	Server       string
	Outcome      Outcome
	Transport    Transport
	AuthRequired bool
	Detail       string
	Description  string
	Error        string
	ErrorDetail  string
	ErrorKind    string
	Sample       string
	Timestamp    string
	Fields       map[string]any
}

// MarshalJSON flattens Fields into the top-level object next to the fixed
// keys, matching the report wire shape. Fixed keys win on collision.
func (r ProbeResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+11)
	for key, value := range r.Fields {
		out[key] = value
	}
	out["server"] = r.Server
	out["status"] = r.Outcome
	out["transport"] = r.Transport
	out["auth_required"] = r.AuthRequired
	out["timestamp"] = r.Timestamp
	if r.Detail != "" {
		out["details"] = r.Detail
	}
	if r.Description != "" {
		out["test_description"] = r.Description
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.ErrorDetail != "" {
		out["error_detail"] = r.ErrorDetail
	}
	if r.ErrorKind != "" {
		out["error_type"] = r.ErrorKind
	}
	if r.Sample != "" {
		out["data_sample"] = r.Sample
	}
	return json.Marshal(out)
}

func (r *ProbeResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, into any) {
		if value, ok := raw[key]; ok {
			_ = json.Unmarshal(value, into)
			delete(raw, key)
		}
	}
	take("server", &r.Server)
	take("status", &r.Outcome)
	take("transport", &r.Transport)
	take("auth_required", &r.AuthRequired)
	take("details", &r.Detail)
	take("test_description", &r.Description)
	take("error", &r.Error)
	take("error_detail", &r.ErrorDetail)
	take("error_type", &r.ErrorKind)
	take("data_sample", &r.Sample)
	take("timestamp", &r.Timestamp)
	if len(raw) > 0 {
		r.Fields = make(map[string]any, len(raw))
		for key, value := range raw {
			var decoded any
			if json.Unmarshal(value, &decoded) == nil {
				r.Fields[key] = decoded
			}
		}
	}
	return nil
}

type RunSummary struct {
	Timestamp        string `json:"timestamp"`
	TotalServers     int    `json:"total_servers"`
	Successful       int    `json:"successful"`
	NotConfigured    int    `json:"not_configured"`
	AuthErrors       int    `json:"auth_errors"`
	OAuthRequired    int    `json:"oauth_required"`
	ConnectionErrors int    `json:"connection_errors"`
	OtherErrors      int    `json:"other_errors"`
	TotalErrors      int    `json:"total_errors"`
}

type RunReport struct {
	Summary RunSummary    `json:"test_run"`
	Results []ProbeResult `json:"results"`
}

type RunEvent struct {
	Stage      string
	Server     string
	Message    string
	DurationMS int64
	Result     *ProbeResult
}

// ParseClass maps the wire spelling of an execution class onto its constant.
func ParseClass(value string) (ExecutionClass, error) {
	switch ExecutionClass(strings.TrimSpace(strings.ToLower(value))) {
	case ClassIndependent:
		return ClassIndependent, nil
	case ClassAPIKey:
		return ClassAPIKey, nil
	case ClassOAuth:
		return ClassOAuth, nil
	}
	return "", fmt.Errorf("unknown execution class %q", value)
}

// ParseTransport maps the wire spelling of a transport onto its constant.
func ParseTransport(value string) (Transport, error) {
	switch Transport(strings.TrimSpace(strings.ToLower(value))) {
	case TransportStdio:
		return TransportStdio, nil
	case TransportSSE:
		return TransportSSE, nil
	case TransportStreamableHTTP:
		return TransportStreamableHTTP, nil
	}
	return "", fmt.Errorf("unknown transport %q", value)
}

func nowISO() string {
	return time.Now().Format(time.RFC3339)
}
