// Package reclaim is the background maintenance loop: it expires items
// past their horizon, expires stale claims so queues keep moving, and
// archives old terminal items. Every pass is idempotent; each transition
// re-checks eligibility under the item's queue lock, so a pass that races
// with live traffic (or with a second reclaimer) simply skips the rows the
// other writer got to first.
package reclaim

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/errs"
	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/queue"
	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/telemetry"
	"github.com/giveq/giveq/internal/types"
)

// ReasonInactivity is recorded on claims expired for claimer inactivity.
const ReasonInactivity = "claimer inactivity"

// parallelism bounds concurrent per-item transactions during a pass.
const parallelism = 4

// Config tunes the reclamation loop.
type Config struct {
	// Staleness is how long an active-set claim may sit without resolution
	// before it is expired and the queue advanced past it.
	Staleness time.Duration
	// Interval between scheduled passes.
	Interval time.Duration
	// BatchSize caps rows touched per category per pass.
	BatchSize int
	// ArchiveAge is how long a terminal item is kept before archiving.
	ArchiveAge time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Staleness:  48 * time.Hour,
		Interval:   24 * time.Hour,
		BatchSize:  500,
		ArchiveAge: 90 * 24 * time.Hour,
	}
}

// Runner executes reclamation passes.
type Runner struct {
	store   storage.Storage
	coord   *lifecycle.Coordinator
	cfg     Config
	trigger chan struct{}
}

// New creates a Runner. Zero config fields fall back to defaults.
func New(store storage.Storage, coord *lifecycle.Coordinator, cfg Config) *Runner {
	def := DefaultConfig()
	if cfg.Staleness <= 0 {
		cfg.Staleness = def.Staleness
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ArchiveAge <= 0 {
		cfg.ArchiveAge = def.ArchiveAge
	}
	return &Runner{store: store, coord: coord, cfg: cfg, trigger: make(chan struct{}, 1)}
}

// RunOnce performs a single reclamation pass and reports what it did.
func (r *Runner) RunOnce(ctx context.Context) (types.ReclaimReport, error) {
	start := time.Now()
	var report types.ReclaimReport

	expired, err := r.expireItems(ctx)
	if err != nil {
		return report, err
	}
	report.ItemsExpired = expired

	stale, err := r.expireStaleClaims(ctx)
	if err != nil {
		return report, err
	}
	report.ClaimsExpired = stale

	archived, err := r.store.ArchiveTerminalItems(ctx, time.Now().UTC().Add(-r.cfg.ArchiveAge), r.cfg.BatchSize)
	if err != nil {
		return report, errs.Internal("archive items", err)
	}
	report.ItemsArchived = archived

	telemetry.RecordReclaim(ctx, report.ItemsExpired, report.ClaimsExpired, report.ItemsArchived, time.Since(start), false)
	debug.Logf("reclaim: expired %d items, %d claims; archived %d items in %s\n",
		report.ItemsExpired, report.ClaimsExpired, report.ItemsArchived, time.Since(start).Round(time.Millisecond))
	return report, nil
}

// Preview reports what RunOnce would do, without writing anything.
func (r *Runner) Preview(ctx context.Context) (types.ReclaimReport, error) {
	now := time.Now().UTC()
	var report types.ReclaimReport
	var err error
	if report.ItemsExpired, err = r.store.CountExpiredItems(ctx, now); err != nil {
		return report, errs.Internal("count expired items", err)
	}
	if report.ClaimsExpired, err = r.store.CountStaleClaims(ctx, now.Add(-r.cfg.Staleness)); err != nil {
		return report, errs.Internal("count stale claims", err)
	}
	if report.ItemsArchived, err = r.store.CountArchivableItems(ctx, now.Add(-r.cfg.ArchiveAge)); err != nil {
		return report, errs.Internal("count archivable items", err)
	}
	return report, nil
}

// expireItems expires ACTIVE items past their horizon, cascading to their
// claims. Bounded parallelism; each item is its own transaction.
func (r *Runner) expireItems(ctx context.Context) (int, error) {
	ids, err := r.store.ListExpiredItemIDs(ctx, time.Now().UTC(), r.cfg.BatchSize)
	if err != nil {
		return 0, errs.Internal("list expired items", err)
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := r.coord.ExpireItem(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(expired.Load()), err
	}
	return int(expired.Load()), nil
}

// expireStaleClaims expires active-set claims older than the staleness
// cutoff and compacts each touched queue, advancing it to the next
// claimer. One transaction per item so a failure on one queue does not
// roll back progress on the others.
func (r *Runner) expireStaleClaims(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.cfg.Staleness)
	stale, err := r.store.ListStaleClaims(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return 0, errs.Internal("list stale claims", err)
	}

	byItem := make(map[string][]string)
	for _, c := range stale {
		byItem[c.ItemID] = append(byItem[c.ItemID], c.ID)
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for itemID, claimIDs := range byItem {
		g.Go(func() error {
			n, err := r.expireItemStaleClaims(gctx, itemID, claimIDs, cutoff)
			expired.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(expired.Load()), err
	}
	return int(expired.Load()), nil
}

func (r *Runner) expireItemStaleClaims(ctx context.Context, itemID string, claimIDs []string, cutoff time.Time) (int, error) {
	expired := 0
	err := r.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.LockItemQueue(ctx, itemID); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, id := range claimIDs {
			claim, err := tx.GetClaim(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return err
			}
			// Re-check under the lock; the scan was unlocked.
			if !claim.Status.InActiveSet() || !claim.CreatedAt.Before(cutoff) {
				continue
			}
			if err := lifecycle.ExpireClaimTx(ctx, tx, claim, ReasonInactivity, now); err != nil {
				return err
			}
			expired++
		}
		if expired == 0 {
			return nil
		}
		return queue.CompactTx(ctx, tx, itemID)
	})
	if err != nil {
		return 0, errs.Internal("expire stale claims", err)
	}
	return expired, nil
}

// Trigger requests an immediate pass from a running Loop. Non-blocking;
// coalesces with an already-pending trigger.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Loop runs passes on the configured interval until ctx is cancelled. A
// pass runs immediately on start, and on every Trigger call. Pass errors
// are logged and do not stop the loop.
func (r *Runner) Loop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runLogged(ctx)
		case <-r.trigger:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		debug.Logf("reclaim: pass failed: %v\n", err)
	}
}
