package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dwsmith1983/stagehand/pkg/types"
)

func newTestTelemetry(t *testing.T) (*Telemetry, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tel, err := New(mp, tp)
	require.NoError(t, err)
	return tel, reader, rec
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestTelemetry_RecordsRunAndStages(t *testing.T) {
	tel, reader, rec := newTestTelemetry(t)
	ctx := context.Background()
	start := time.Now()

	runCtx, runSpan := tel.StartRun(ctx, "video-app", "01HRUN")
	for _, res := range []types.StageResult{
		{Name: "checkout", Status: types.StagePassed, StartTime: start, EndTime: start.Add(time.Second)},
		{Name: "scan", Status: types.StageFailed, ExitStatus: 1, FailureCategory: types.FailureTransient, Error: "exit 1"},
	} {
		_, span := tel.StartStage(runCtx, res.Name)
		tel.RecordStage(runCtx, span, "video-app", &res)
		span.End()
	}
	tel.RecordRun(ctx, runSpan, &types.RunReport{Pipeline: "video-app", Outcome: types.OutcomeAborted})
	runSpan.End()

	assert.Equal(t, int64(2), sumOf(t, reader, "stagehand.stages"))
	assert.Equal(t, int64(1), sumOf(t, reader, "stagehand.runs"))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "stage checkout", spans[0].Name())
	assert.Equal(t, "run video-app", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}

func TestTelemetry_NotificationFailuresOnly(t *testing.T) {
	tel, reader, _ := newTestTelemetry(t)
	ctx := context.Background()
	tel.RecordNotification(ctx, "console", nil)
	tel.RecordNotification(ctx, "smtp", errors.New("refused"))
	assert.Equal(t, int64(1), sumOf(t, reader, "stagehand.notification.failures"))
}

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	tel, err := Setup(context.Background(), &types.TelemetryConfig{})
	require.NoError(t, err)
	_, span := tel.StartRun(context.Background(), "p", "r")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, tel.Shutdown(context.Background()))
}
