package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/weftworks/weft/runtime/telemetry"
)

func TestNoopLogger(_ *testing.T) {
	ctx := context.Background()
	logger := telemetry.NewNoopLogger()

	// Must not panic.
	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Warn(ctx, "warn message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestNoopMetrics(_ *testing.T) {
	metrics := telemetry.NewNoopMetrics()

	metrics.IncCounter("weft.tasks.completed", 1.0, "queue", "default")
	metrics.RecordTimer("weft.task.duration", 100*time.Millisecond, "queue", "default")
	metrics.RecordGauge("weft.queue.pending", 42.0)
}

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	tracer := telemetry.NewNoopTracer()

	newCtx, span := tracer.Start(ctx, "weft.execute")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.AddEvent("task_start", "node", "a")
	span.SetStatus(codes.Ok, "completed")
	span.RecordError(errors.New("boom"))
	span.End()

	require.NotNil(t, tracer.Span(ctx))
}

func TestClueLoggerSkipsNonStringKeys(_ *testing.T) {
	ctx := context.Background()
	logger := telemetry.NewClueLogger()

	// Odd-length and non-string keys must not panic.
	logger.Info(ctx, "message", "key")
	logger.Info(ctx, "message", 42, "value", "ok", true)
}
