package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Haniehz1/mcp-server-test-script/internal/registry"
)

// Runner executes a single probe against a registry. Run never returns an
// error: every failure mode, including panics in validators, is folded into
// the ProbeResult so one bad server cannot take down a batch.
type Runner struct {
	Registry registry.Registry

	// ProbeTimeout bounds each probe individually. Zero means the caller's
	// context is the only bound.
	ProbeTimeout time.Duration
}

func NewRunner(reg registry.Registry) *Runner {
	return &Runner{Registry: reg}
}

type toolFailure struct {
	message string
}

func (e *toolFailure) Error() string { return e.message }

type validationFailure struct {
	err error
}

func (e *validationFailure) Error() string { return e.err.Error() }

func (e *validationFailure) Unwrap() error { return e.err }

func (r *Runner) Run(ctx context.Context, spec ProbeSpec) (result ProbeResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = r.failure(spec, fmt.Errorf("probe panic: %v", rec))
			result.ErrorKind = "panic"
		}
	}()

	if r.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ProbeTimeout)
		defer cancel()
	}

	if spec.Class.AuthRequired() && !r.Registry.HasConfiguration(ctx, spec.Name) {
		return ProbeResult{
			Server:       spec.Name,
			Outcome:      OutcomeNotConfigured,
			Transport:    spec.Transport,
			AuthRequired: true,
			Description:  spec.Description,
			Error:        fmt.Sprintf("Server '%s' not found in registry", spec.Name),
			Timestamp:    nowISO(),
		}
	}

	primary, err := r.invoke(ctx, spec.Name, spec.Tool, spec.Arguments)
	if err != nil {
		return r.failure(spec, err)
	}
	var followUp *registry.ToolResult
	if spec.FollowUp != nil {
		followUp, err = r.invoke(ctx, spec.Name, spec.FollowUp.Tool, spec.FollowUp.Arguments)
		if err != nil {
			return r.failure(spec, err)
		}
	}

	extracted, err := validatorFor(spec)(spec, primary, followUp)
	if err != nil {
		return r.failure(spec, &validationFailure{err: err})
	}

	return ProbeResult{
		Server:       spec.Name,
		Outcome:      OutcomeSuccess,
		Transport:    spec.Transport,
		AuthRequired: spec.Class.AuthRequired(),
		Detail:       extracted.Detail,
		Description:  spec.Description,
		Sample:       extracted.Sample,
		Fields:       extracted.Fields,
		Timestamp:    nowISO(),
	}
}

func (r *Runner) invoke(ctx context.Context, server, tool string, args map[string]any) (*registry.ToolResult, error) {
	result, err := r.Registry.CallTool(ctx, server, tool, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timeout calling %s on %s: %w", tool, server, err)
		}
		return nil, err
	}
	if result != nil && result.IsError {
		text := collectText(result)
		if text == "" {
			text = fmt.Sprintf("tool %s returned an error result with no content", tool)
		}
		return nil, &toolFailure{message: text}
	}
	return result, nil
}

func (r *Runner) failure(spec ProbeSpec, err error) ProbeResult {
	detail := summarizeError(err)
	outcome, friendly := Classify(detail)
	return ProbeResult{
		Server:       spec.Name,
		Outcome:      outcome,
		Transport:    spec.Transport,
		AuthRequired: spec.Class.AuthRequired(),
		Description:  spec.Description,
		Error:        friendly,
		ErrorDetail:  detail,
		ErrorKind:    errorKind(err),
		Timestamp:    nowISO(),
	}
}

func errorKind(err error) string {
	var gwErr *registry.GatewayError
	var toolErr *toolFailure
	var valErr *validationFailure
	switch {
	case errors.As(err, &gwErr):
		if gwErr.Envelope.Error.Type != "" {
			return gwErr.Envelope.Error.Type
		}
		return "gateway_error"
	case errors.As(err, &toolErr):
		return "tool_error"
	case errors.As(err, &valErr):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// ResolveClassSelection parses a comma separated class list such as
// "independent,oauth". Empty input and "all" select every class.
func ResolveClassSelection(selection string) ([]ExecutionClass, error) {
	value := strings.TrimSpace(strings.ToLower(selection))
	if value == "" || value == "all" {
		return nil, nil
	}
	items := strings.Split(value, ",")
	classes := make([]ExecutionClass, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		class, err := ParseClass(item)
		if err != nil {
			return nil, err
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// ResolveServerSelection parses a comma separated server name list.
func ResolveServerSelection(selection string) []string {
	items := strings.Split(selection, ",")
	names := make([]string, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}
