package pool

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName             = "devsync.pool"
	metricPassesTotal     = "devsync_reconcile_passes_total"
	metricPassDuration    = "devsync_reconcile_pass_duration_seconds"
	metricSessionOps      = "devsync_session_operations_total"
	metricPoolSize        = "devsync_pool_sessions"
	metricCommandDuration = "devsync_command_duration_seconds"
)

var (
	meterOnce       sync.Once
	passCounter     metric.Int64Counter
	passHistogram   metric.Float64Histogram
	sessionCounter  metric.Int64Counter
	poolSizeCounter metric.Int64UpDownCounter
	commandLatency  metric.Float64Histogram
)

func initMeter() {
	meter := otel.Meter(meterName)

	var err error
	passCounter, err = meter.Int64Counter(
		metricPassesTotal,
		metric.WithDescription("Reconciliation passes by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	passHistogram, err = meter.Float64Histogram(
		metricPassDuration,
		metric.WithDescription("Duration of completed reconciliation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}

	sessionCounter, err = meter.Int64Counter(
		metricSessionOps,
		metric.WithDescription("Session lifecycle operations by type and result"),
	)
	if err != nil {
		otel.Handle(err)
	}

	poolSizeCounter, err = meter.Int64UpDownCounter(
		metricPoolSize,
		metric.WithDescription("Sessions currently pooled"),
	)
	if err != nil {
		otel.Handle(err)
	}

	commandLatency, err = meter.Float64Histogram(
		metricCommandDuration,
		metric.WithDescription("Latency of commands run over pooled sessions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordPass(ctx context.Context, outcome string, d time.Duration) {
	meterOnce.Do(initMeter)
	if passCounter != nil {
		passCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if passHistogram != nil && outcome != "skipped" {
		passHistogram.Record(ctx, d.Seconds())
	}
}

// recordSessionOp counts an open, probe, evict or close. kind is the error
// kind, empty on success.
func recordSessionOp(ctx context.Context, op, kind string) {
	meterOnce.Do(initMeter)
	if sessionCounter == nil {
		return
	}
	result := "ok"
	if kind != "" {
		result = kind
	}
	sessionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func recordPoolDelta(ctx context.Context, delta int64) {
	meterOnce.Do(initMeter)
	if poolSizeCounter != nil && delta != 0 {
		poolSizeCounter.Add(ctx, delta)
	}
}

func recordCommand(ctx context.Context, d time.Duration, err error) {
	meterOnce.Do(initMeter)
	if commandLatency == nil {
		return
	}
	commandLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("error", err != nil)))
}
