package batch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "pmaxtools.batch"
)

// Tracer provides OpenTelemetry instrumentation for batches. It uses the
// global providers, which are no-ops until the application installs real ones.
type Tracer struct {
	tracer trace.Tracer

	batchesTotal  metric.Int64Counter
	rowsTotal     metric.Int64Counter
	batchDuration metric.Float64Histogram
	activeBatches metric.Int64UpDownCounter
	rejections    metric.Int64Counter
}

// NewTracer creates batch instruments from the global meter provider
func NewTracer() (*Tracer, error) {
	meter := otel.Meter(TracerName)

	batchesTotal, err := meter.Int64Counter(
		"pmax_batches_total",
		metric.WithDescription("Total number of finished Pmax batches"),
	)
	if err != nil {
		return nil, err
	}

	rowsTotal, err := meter.Int64Counter(
		"pmax_rows_total",
		metric.WithDescription("Rows processed by outcome"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(
		"pmax_batch_duration_seconds",
		metric.WithDescription("Batch processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	activeBatches, err := meter.Int64UpDownCounter(
		"pmax_active_batches",
		metric.WithDescription("Batches currently running"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter(
		"pmax_batch_rejections_total",
		metric.WithDescription("Dispatches rejected because a batch was in flight"),
	)
	if err != nil {
		return nil, err
	}

	return &Tracer{
		tracer:        otel.Tracer(TracerName),
		batchesTotal:  batchesTotal,
		rowsTotal:     rowsTotal,
		batchDuration: batchDuration,
		activeBatches: activeBatches,
		rejections:    rejections,
	}, nil
}

// StartBatch opens a span for one batch
func (t *Tracer) StartBatch(ctx context.Context, batchID string, rows int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := t.tracer.Start(ctx, "pmax.batch.process",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.rows", rows),
		),
	)
	t.activeBatches.Add(ctx, 1)
	return ctx, span
}

// EndBatch records the outcome of a batch and closes its span
func (t *Tracer) EndBatch(ctx context.Context, span trace.Span, status Status, summary Summary, duration time.Duration) {
	if t == nil {
		return
	}
	statusAttr := metric.WithAttributes(attribute.String("status", string(status)))

	t.activeBatches.Add(ctx, -1)
	t.batchesTotal.Add(ctx, 1, statusAttr)
	t.batchDuration.Record(ctx, duration.Seconds(), statusAttr)

	t.rowsTotal.Add(ctx, int64(summary.Exact), metric.WithAttributes(attribute.String("outcome", "exact")))
	t.rowsTotal.Add(ctx, int64(summary.Direct), metric.WithAttributes(attribute.String("outcome", "direct")))
	t.rowsTotal.Add(ctx, int64(summary.Failed), metric.WithAttributes(attribute.String("outcome", "failed")))
	t.rowsTotal.Add(ctx, int64(summary.Blank), metric.WithAttributes(attribute.String("outcome", "blank")))

	span.SetAttributes(
		attribute.String("batch.status", string(status)),
		attribute.Int("batch.solved", summary.Solved),
		attribute.Int("batch.failed", summary.Failed),
	)
	if status == StatusCompleted {
		span.SetStatus(codes.Ok, "batch completed")
	} else {
		span.SetStatus(codes.Error, "batch "+string(status))
	}
	span.End()
}

// RecordRejection counts a dispatch refused by the reentrancy guard
func (t *Tracer) RecordRejection(ctx context.Context) {
	if t == nil {
		return
	}
	t.rejections.Add(ctx, 1)
}
