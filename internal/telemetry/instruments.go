package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Domain instruments. Created lazily against the global meter so that
// callers never need to thread a Meter through the service layer; the
// no-op provider makes every call free when telemetry is off.
var (
	instrumentsOnce sync.Once

	enqueueRetries metric.Int64Counter
	reclaimItems   metric.Int64Counter
	reclaimClaims  metric.Int64Counter
	reclaimArch    metric.Int64Counter
	reclaimDur     metric.Float64Histogram
)

func initInstruments() {
	m := Meter("")
	enqueueRetries, _ = m.Int64Counter("giveq.enqueue.retries",
		metric.WithDescription("Position-index collisions retried during Enqueue"))
	reclaimItems, _ = m.Int64Counter("giveq.reclaim.items_expired",
		metric.WithDescription("Items expired by the reclamation loop"))
	reclaimClaims, _ = m.Int64Counter("giveq.reclaim.claims_expired",
		metric.WithDescription("Stale claims expired by the reclamation loop"))
	reclaimArch, _ = m.Int64Counter("giveq.reclaim.items_archived",
		metric.WithDescription("Terminal items archived by the reclamation loop"))
	reclaimDur, _ = m.Float64Histogram("giveq.reclaim.duration",
		metric.WithDescription("Duration of one reclamation pass in milliseconds"),
		metric.WithUnit("ms"))
}

// CountEnqueueRetry records one enqueue retry.
func CountEnqueueRetry(ctx context.Context) {
	instrumentsOnce.Do(initInstruments)
	enqueueRetries.Add(ctx, 1)
}

// RecordReclaim records the outcome of one reclamation pass.
func RecordReclaim(ctx context.Context, itemsExpired, claimsExpired, itemsArchived int, took time.Duration, dryRun bool) {
	instrumentsOnce.Do(initInstruments)
	attrs := metric.WithAttributes(attribute.Bool("dry_run", dryRun))
	reclaimItems.Add(ctx, int64(itemsExpired), attrs)
	reclaimClaims.Add(ctx, int64(claimsExpired), attrs)
	reclaimArch.Add(ctx, int64(itemsArchived), attrs)
	reclaimDur.Record(ctx, float64(took.Milliseconds()), attrs)
}
