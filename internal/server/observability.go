package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"
)

// Observability bundles the tracer plus the counters the run pipeline
// records against. All Mark helpers are nil-receiver safe so callers
// never have to guard.
type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	RunCounter    metric.Int64Counter
	ProbeDuration metric.Int64Histogram
	ProbeOutcomes metric.Int64Counter
	RateLimited   metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "check-api"
	}
	tp, err := newTraceProvider(ctx, serviceName, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	meter := otel.Meter(serviceName)
	obs := &Observability{
		Tracer:        otel.Tracer(serviceName),
		Meter:         meter,
		traceProvider: tp,
	}
	obs.RunCounter, _ = meter.Int64Counter("check_run_total")
	obs.ProbeDuration, _ = meter.Int64Histogram("check_probe_duration_ms")
	obs.ProbeOutcomes, _ = meter.Int64Counter("check_probe_outcome_total")
	obs.RateLimited, _ = meter.Int64Counter("check_rate_limited_total")
	return obs, nil
}

func newTraceProvider(ctx context.Context, serviceName string, cfg ObservabilityConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	}
	if cfg.OTLPEndpoint == "" {
		slog.Info("no otlp endpoint configured, spans stay in-process")
	} else {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkRun(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.RunCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkProbe(ctx context.Context, server string, durationMS int64) {
	if o == nil {
		return
	}
	o.ProbeDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("server", server),
	))
}

func (o *Observability) MarkProbeOutcome(ctx context.Context, outcome probe.Outcome) {
	if o == nil {
		return
	}
	o.ProbeOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
	))
}

func (o *Observability) MarkRateLimited(ctx context.Context, scope string) {
	if o == nil {
		return
	}
	o.RateLimited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
	))
}
