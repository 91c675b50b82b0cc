package probe

import (
	"context"
	"sync"
	"time"

	"github.com/Haniehz1/mcp-server-test-script/internal/registry"
)

// Orchestrator fans a probe catalog out against one registry. Probes that do
// not need credentials run concurrently, credentialed probes run one at a
// time so auth failures stay attributable to a single server. Phases always
// execute independent, then api_key, then oauth, and results within a phase
// keep catalog order no matter which goroutine finished first.
type Orchestrator struct {
	Registry registry.Registry
	Runner   *Runner
	Sink     ReportSink

	// OnEvent, when set, receives progress events. It is never called from
	// more than one goroutine at a time.
	OnEvent func(RunEvent)
}

// Run executes the catalog with default settings and no event stream.
func Run(ctx context.Context, reg registry.Registry, specs []ProbeSpec) RunReport {
	o := &Orchestrator{Registry: reg}
	return o.Run(ctx, specs)
}

func (o *Orchestrator) Run(ctx context.Context, specs []ProbeSpec) RunReport {
	runner := o.Runner
	if runner == nil {
		runner = NewRunner(o.Registry)
	}

	results := make([]ProbeResult, 0, len(specs))
	for _, phase := range []ExecutionClass{ClassIndependent, ClassAPIKey, ClassOAuth} {
		batch := FilterClasses(specs, phase)
		if len(batch) == 0 {
			continue
		}
		if phase == ClassIndependent {
			results = append(results, o.runConcurrent(ctx, runner, batch)...)
		} else {
			results = append(results, o.runSequential(ctx, runner, batch)...)
		}
	}

	report := BuildReport(results)
	if o.Sink != nil {
		if err := o.Sink.Persist(report, DefaultReportName(time.Now())); err != nil {
			o.emit(RunEvent{Stage: "sink_error", Message: err.Error()})
		}
	}
	return report
}

func (o *Orchestrator) runConcurrent(ctx context.Context, runner *Runner, specs []ProbeSpec) []ProbeResult {
	for _, spec := range specs {
		o.emit(RunEvent{Stage: "probe_start", Server: spec.Name})
	}

	results := make([]ProbeResult, len(specs))
	durations := make([]int64, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(idx int, sp ProbeSpec) {
			defer wg.Done()
			began := time.Now()
			results[idx] = runner.Run(ctx, sp)
			durations[idx] = time.Since(began).Milliseconds()
		}(i, spec)
	}
	wg.Wait()

	for i := range results {
		o.emitResult(results[i], durations[i])
	}
	return results
}

func (o *Orchestrator) runSequential(ctx context.Context, runner *Runner, specs []ProbeSpec) []ProbeResult {
	results := make([]ProbeResult, 0, len(specs))
	for _, spec := range specs {
		o.emit(RunEvent{Stage: "probe_start", Server: spec.Name})
		began := time.Now()
		result := runner.Run(ctx, spec)
		results = append(results, result)
		o.emitResult(result, time.Since(began).Milliseconds())
	}
	return results
}

func (o *Orchestrator) emitResult(result ProbeResult, durationMS int64) {
	message := result.Detail
	if message == "" {
		message = result.Error
	}
	o.emit(RunEvent{
		Stage:      "probe_result",
		Server:     result.Server,
		Message:    message,
		DurationMS: durationMS,
		Result:     &result,
	})
}

func (o *Orchestrator) emit(event RunEvent) {
	if o.OnEvent != nil {
		o.OnEvent(event)
	}
}
