// Package metrics wires OpenTelemetry tracing and metrics for pipeline runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

const (
	instrumentationName = "github.com/dwsmith1983/stagehand"
	defaultServiceName  = "stagehand"
	exportInterval      = 15 * time.Second
)

// Telemetry holds the tracer and instruments used by the runner and notifier.
// The zero value is not usable; use Setup, New or Noop.
type Telemetry struct {
	tracer         trace.Tracer
	runs           metric.Int64Counter
	stages         metric.Int64Counter
	notifyFailures metric.Int64Counter
	stageDuration  metric.Float64Histogram
	shutdown       []func(context.Context) error
}

// Setup builds OTLP gRPC exporters when cfg names an endpoint and installs
// them as the global providers. Without an endpoint it returns no-op telemetry.
func Setup(ctx context.Context, cfg *types.TelemetryConfig) (*Telemetry, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return Noop(), nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = traceExp.Shutdown(ctx)
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(res),
	)

	t, err := New(mp, tp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	t.shutdown = append(t.shutdown, tp.Shutdown, mp.Shutdown)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return t, nil
}

// Noop returns telemetry that records nothing.
func Noop() *Telemetry {
	t, err := New(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	if err != nil {
		// noop instruments never fail to build
		panic(err)
	}
	return t
}

// New creates instruments on the given providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)

	runs, err := meter.Int64Counter("stagehand.runs",
		metric.WithDescription("Finished pipeline runs by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stagehand.runs counter: %w", err)
	}
	stages, err := meter.Int64Counter("stagehand.stages",
		metric.WithDescription("Executed stages by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stagehand.stages counter: %w", err)
	}
	notifyFailures, err := meter.Int64Counter("stagehand.notification.failures",
		metric.WithDescription("Failed notification deliveries by sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stagehand.notification.failures counter: %w", err)
	}
	stageDuration, err := meter.Float64Histogram("stagehand.stage.duration",
		metric.WithDescription("Stage wall-clock duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stagehand.stage.duration histogram: %w", err)
	}

	return &Telemetry{
		tracer:         tp.Tracer(instrumentationName),
		runs:           runs,
		stages:         stages,
		notifyFailures: notifyFailures,
		stageDuration:  stageDuration,
	}, nil
}

// StartRun opens the root span of a run.
func (t *Telemetry) StartRun(ctx context.Context, pipeline, runID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "run "+pipeline, trace.WithAttributes(
		attribute.String("pipeline", pipeline),
		attribute.String("run.id", runID),
	))
}

// StartStage opens a child span for one stage.
func (t *Telemetry) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "stage "+stage, trace.WithAttributes(
		attribute.String("stage", stage),
	))
}

// RecordStage counts a finished stage and records its duration on span.
func (t *Telemetry) RecordStage(ctx context.Context, span trace.Span, pipeline string, res *types.StageResult) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline", pipeline),
		attribute.String("stage", res.Name),
		attribute.String("status", string(res.Status)),
	}
	t.stages.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.stageDuration.Record(ctx, res.Duration().Seconds(), metric.WithAttributes(attrs[:2]...))

	span.SetAttributes(attribute.Int("exit.status", res.ExitStatus))
	if res.Status == types.StageFailed {
		span.SetAttributes(attribute.String("failure.category", string(res.FailureCategory)))
		span.SetStatus(codes.Error, res.Error)
	}
}

// RecordRun counts a finalized run and closes out its span status.
func (t *Telemetry) RecordRun(ctx context.Context, span trace.Span, report *types.RunReport) {
	t.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pipeline", report.Pipeline),
		attribute.String("outcome", string(report.Outcome)),
	))
	span.SetAttributes(
		attribute.String("outcome", string(report.Outcome)),
		attribute.Int64("build.number", report.BuildNumber),
		attribute.Int("stages.executed", len(report.Stages)),
	)
	if report.Outcome != types.OutcomeSuccess {
		span.SetStatus(codes.Error, report.Error)
	}
}

// RecordNotification counts a failed delivery. Successful deliveries are ignored.
func (t *Telemetry) RecordNotification(ctx context.Context, sink string, err error) {
	if err == nil {
		return
	}
	t.notifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// Shutdown flushes and stops exporters.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
