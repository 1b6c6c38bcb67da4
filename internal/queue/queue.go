// Package queue implements the per-item claim queue engine: position
// assignment, duplicate prevention, compaction and advancement.
//
// All writers of one item's active set serialize on the item's advisory
// lock (storage.Transaction.LockItemQueue). The partial unique indexes on
// the claims table back the lock up: a racing insert that slips through
// surfaces as a retryable position conflict, retried here with jittered
// exponential backoff up to the configured attempt budget.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/giveq/giveq/internal/debug"
	"github.com/giveq/giveq/internal/errs"
	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/outbox"
	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/telemetry"
	"github.com/giveq/giveq/internal/types"
)

// positionShiftOffset vacates the dense 1..N range before a renumber so
// the position unique index never sees a transient collision mid-update.
const positionShiftOffset = 1 << 20

// Config tunes the engine.
type Config struct {
	// EnqueueRetryAttempts bounds retries of a position-index collision.
	EnqueueRetryAttempts int
	// PageLimitMax clamps list page sizes.
	PageLimitMax int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{EnqueueRetryAttempts: 3, PageLimitMax: types.PageSizeMax}
}

// Engine is the claim queue engine.
type Engine struct {
	store storage.Storage
	coord *lifecycle.Coordinator
	cfg   Config
}

// New creates an Engine. Zero config fields fall back to defaults.
func New(store storage.Storage, coord *lifecycle.Coordinator, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.EnqueueRetryAttempts <= 0 {
		cfg.EnqueueRetryAttempts = def.EnqueueRetryAttempts
	}
	if cfg.PageLimitMax <= 0 {
		cfg.PageLimitMax = def.PageLimitMax
	}
	return &Engine{store: store, coord: coord, cfg: cfg}
}

// EnqueuePrefs carries claimer-supplied preferences for a new claim.
type EnqueuePrefs struct {
	ContactMethod       types.ContactMethod
	PreferredPickupDate *time.Time
	Notes               string
}

func (p EnqueuePrefs) validate(now time.Time) error {
	if p.ContactMethod != "" && !p.ContactMethod.IsValid() {
		return errs.InvalidInput("invalid claim preferences",
			errs.FieldViolation{Field: "contact_method", Reason: fmt.Sprintf("must be email, phone or both (got %q)", p.ContactMethod)})
	}
	if p.PreferredPickupDate != nil && !p.PreferredPickupDate.After(now) {
		return errs.InvalidInput("invalid claim preferences",
			errs.FieldViolation{Field: "preferred_pickup_date", Reason: "must be in the future"})
	}
	return nil
}

func newEnqueueBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	return bo
}

// Enqueue appends a new PENDING claim at the tail of the item's active
// set and returns it with its assigned position.
func (e *Engine) Enqueue(ctx context.Context, userID, itemID string, prefs EnqueuePrefs) (*types.Claim, error) {
	if err := prefs.validate(time.Now().UTC()); err != nil {
		return nil, err
	}
	method := prefs.ContactMethod
	if method == "" {
		method = types.ContactEmail
	}

	var created *types.Claim
	op := func() error {
		err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			if err := tx.LockItemQueue(ctx, itemID); err != nil {
				return err
			}
			item, err := tx.GetItem(ctx, itemID)
			if err != nil {
				return mapNotFound(err, "item", itemID)
			}
			if item.OwnerID == userID {
				return errs.SelfClaimForbidden(itemID)
			}
			now := time.Now().UTC()
			if !item.Claimable(now) {
				return errs.InvalidTransition("item %s is not accepting claims (status %s)", item.ID, item.Status)
			}
			existing, err := tx.NonTerminalClaimByUser(ctx, itemID, userID)
			if err != nil {
				return err
			}
			if existing != nil {
				return errs.DuplicateClaim(itemID)
			}
			max, err := tx.MaxActivePosition(ctx, itemID)
			if err != nil {
				return err
			}

			claim := &types.Claim{
				ID:                  uuid.NewString(),
				ItemID:              itemID,
				UserID:              userID,
				QueuePosition:       max + 1,
				Status:              types.ClaimPending,
				ContactMethod:       method,
				PreferredPickupDate: prefs.PreferredPickupDate,
				ClaimerNotes:        prefs.Notes,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := tx.InsertClaim(ctx, claim); err != nil {
				return err
			}
			if err := tx.AppendOutbox(ctx, outbox.KindClaimEnqueued, outbox.ForClaim(claim, "", now)); err != nil {
				return err
			}
			created = claim
			return nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrPositionConflict) {
			telemetry.CountEnqueueRetry(ctx)
			debug.Logf("enqueue: position conflict on item %s, retrying\n", itemID)
			return err // retryable
		}
		if errors.Is(err, storage.ErrDuplicateActiveClaim) {
			return backoff.Permanent(errs.DuplicateClaim(itemID))
		}
		return backoff.Permanent(errs.Internal("enqueue claim", err))
	}

	bo := backoff.WithMaxRetries(newEnqueueBackoff(), uint64(e.cfg.EnqueueRetryAttempts-1))
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, storage.ErrPositionConflict) {
			return nil, errs.Conflict("queue position contention on item %s exceeded %d attempts", itemID, e.cfg.EnqueueRetryAttempts)
		}
		return nil, errs.Internal("enqueue claim", err)
	}

	// Advisory counter; never part of the critical transaction.
	if err := e.store.IncrementClaimCount(ctx, itemID, 1); err != nil {
		debug.Logf("enqueue: claim_count bump failed for item %s: %v\n", itemID, err)
	}
	return created, nil
}

// Cancel moves the claimer's own active claim to CANCELLED and compacts
// the remaining queue.
func (e *Engine) Cancel(ctx context.Context, actor, claimID, reason string) error {
	err := e.withClaimQueue(ctx, claimID, func(tx storage.Transaction, claim *types.Claim, item *types.Item) error {
		if claim.UserID != actor {
			return errs.Forbidden("only the claim owner may cancel it")
		}
		if !claim.Status.InActiveSet() {
			return errs.InvalidTransition("claim %s is %s; only pending or contacted claims can be cancelled", claim.ID, claim.Status)
		}
		now := time.Now().UTC()
		claim.Status = types.ClaimCancelled
		claim.CancelledAt = &now
		claim.CloseReason = reason
		claim.UpdatedAt = now
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, outbox.KindClaimCancelled, outbox.ForClaim(claim, reason, now)); err != nil {
			return err
		}
		return CompactTx(ctx, tx, claim.ItemID)
	})
	return errs.Internal("cancel claim", err)
}

// Contact marks a claim CONTACTED and appends the lister's note to the
// lister lane. Queue position is unchanged.
func (e *Engine) Contact(ctx context.Context, actor, claimID, listerNote string) error {
	err := e.withClaimQueue(ctx, claimID, func(tx storage.Transaction, claim *types.Claim, item *types.Item) error {
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may contact a claimer")
		}
		if !claim.Status.InActiveSet() {
			return errs.InvalidTransition("claim %s is %s; only pending or contacted claims can be contacted", claim.ID, claim.Status)
		}
		now := time.Now().UTC()
		claim.Status = types.ClaimContacted
		if claim.ContactedAt == nil {
			claim.ContactedAt = &now
		}
		if listerNote != "" {
			note := now.Format(time.RFC3339) + " " + listerNote
			if claim.ListerNotes != "" {
				claim.ListerNotes += "\n"
			}
			claim.ListerNotes += note
		}
		claim.UpdatedAt = now
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, outbox.KindClaimContacted, outbox.ForClaim(claim, "", now))
	})
	return errs.Internal("contact claimer", err)
}

// Skip moves a claim to SKIPPED on the lister's behalf and compacts the
// remaining queue. A skipped user may re-claim later.
func (e *Engine) Skip(ctx context.Context, actor, claimID, reason string) error {
	err := e.withClaimQueue(ctx, claimID, func(tx storage.Transaction, claim *types.Claim, item *types.Item) error {
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may skip a claim")
		}
		if !claim.Status.InActiveSet() {
			return errs.InvalidTransition("claim %s is %s; only pending or contacted claims can be skipped", claim.ID, claim.Status)
		}
		now := time.Now().UTC()
		claim.Status = types.ClaimSkipped
		claim.SkippedAt = &now
		claim.CloseReason = reason
		claim.UpdatedAt = now
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, outbox.KindClaimSkipped, outbox.ForClaim(claim, reason, now)); err != nil {
			return err
		}
		return CompactTx(ctx, tx, claim.ItemID)
	})
	return errs.Internal("skip claim", err)
}

// MoveToPosition reshuffles the claim to newPos within the active set,
// renumbering the others and preserving their relative order. Inactive
// claims keep their historical positions and are never touched.
func (e *Engine) MoveToPosition(ctx context.Context, actor, claimID string, newPos int) error {
	err := e.withClaimQueue(ctx, claimID, func(tx storage.Transaction, claim *types.Claim, item *types.Item) error {
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may reorder the queue")
		}
		if !claim.Status.InActiveSet() {
			return errs.InvalidTransition("claim %s is %s; only pending or contacted claims can be moved", claim.ID, claim.Status)
		}
		active, err := tx.ActiveClaims(ctx, claim.ItemID)
		if err != nil {
			return err
		}
		if newPos < 1 || newPos > len(active) {
			return errs.InvalidInput("position out of range",
				errs.FieldViolation{Field: "new_position", Reason: fmt.Sprintf("must be within [1, %d] (got %d)", len(active), newPos)})
		}

		// Remove the claim from the ordered set, reinsert at newPos.
		reordered := make([]*types.Claim, 0, len(active))
		var moving *types.Claim
		for _, c := range active {
			if c.ID == claim.ID {
				moving = c
				continue
			}
			reordered = append(reordered, c)
		}
		if moving == nil {
			return errs.NotFound("claim", claimID)
		}
		reordered = append(reordered[:newPos-1], append([]*types.Claim{moving}, reordered[newPos-1:]...)...)
		return renumber(ctx, tx, claim.ItemID, reordered)
	})
	return errs.Internal("move claim", err)
}

// Select delegates to the lifecycle coordinator: the selected claim, its
// item and every sibling claim transition in one transaction.
func (e *Engine) Select(ctx context.Context, actor, claimID string) (*types.Claim, error) {
	return e.coord.SelectClaim(ctx, actor, claimID)
}

// Complete moves the claimer's own SELECTED claim to COMPLETED.
func (e *Engine) Complete(ctx context.Context, actor, claimID string) error {
	err := e.withClaimQueue(ctx, claimID, func(tx storage.Transaction, claim *types.Claim, item *types.Item) error {
		if claim.UserID != actor {
			return errs.Forbidden("only the claim owner may complete it")
		}
		if claim.Status != types.ClaimSelected {
			return errs.InvalidTransition("claim %s is %s; only selected claims can be completed", claim.ID, claim.Status)
		}
		now := time.Now().UTC()
		claim.Status = types.ClaimCompleted
		claim.CompletedAt = &now
		claim.UpdatedAt = now
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, outbox.KindClaimCompleted, outbox.ForClaim(claim, "", now))
	})
	return errs.Internal("complete claim", err)
}

// GetQueue returns the item's queue ordered by (position, created_at).
func (e *Engine) GetQueue(ctx context.Context, itemID string, includeInactive bool) ([]*types.Claim, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return nil, errs.Internal("get queue", mapNotFound(err, "item", itemID))
	}
	claims, err := e.store.GetQueue(ctx, itemID, includeInactive)
	if err != nil {
		return nil, errs.Internal("get queue", err)
	}
	return claims, nil
}

// GetNext returns the active claim at position 1.
func (e *Engine) GetNext(ctx context.Context, itemID string) (*types.Claim, error) {
	claim, err := e.store.GetNextClaim(ctx, itemID)
	if err != nil {
		return nil, errs.Internal("get next claim", mapNotFound(err, "next claim for item", itemID))
	}
	return claim, nil
}

// GetQueueSummary returns queue counts and the viewer's position.
func (e *Engine) GetQueueSummary(ctx context.Context, itemID, viewer string) (types.QueueSummary, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return types.QueueSummary{}, errs.Internal("get queue summary", mapNotFound(err, "item", itemID))
	}
	summary, err := e.store.GetQueueSummary(ctx, itemID, viewer)
	if err != nil {
		return types.QueueSummary{}, errs.Internal("get queue summary", err)
	}
	return summary, nil
}

// ListByUser returns the user's claims.
func (e *Engine) ListByUser(ctx context.Context, user string, filter types.ClaimFilter, page types.Page) ([]*types.Claim, error) {
	claims, err := e.store.ListClaimsByUser(ctx, user, filter, page.Clamp(e.cfg.PageLimitMax))
	if err != nil {
		return nil, errs.Internal("list claims", err)
	}
	return claims, nil
}

// ListForLister returns claims against the lister's items.
func (e *Engine) ListForLister(ctx context.Context, owner string, filter types.ClaimFilter, page types.Page) ([]*types.Claim, error) {
	claims, err := e.store.ListClaimsForLister(ctx, owner, filter, page.Clamp(e.cfg.PageLimitMax))
	if err != nil {
		return nil, errs.Internal("list claims", err)
	}
	return claims, nil
}

// withClaimQueue runs fn inside a transaction holding the advisory lock
// of the claim's item, with the claim and item re-read under the lock.
func (e *Engine) withClaimQueue(ctx context.Context, claimID string, fn func(tx storage.Transaction, claim *types.Claim, item *types.Item) error) error {
	return e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		peek, err := tx.GetClaim(ctx, claimID)
		if err != nil {
			return mapNotFound(err, "claim", claimID)
		}
		if err := tx.LockItemQueue(ctx, peek.ItemID); err != nil {
			return err
		}
		claim, err := tx.GetClaim(ctx, claimID)
		if err != nil {
			return mapNotFound(err, "claim", claimID)
		}
		item, err := tx.GetItem(ctx, claim.ItemID)
		if err != nil {
			return mapNotFound(err, "item", claim.ItemID)
		}
		return fn(tx, claim, item)
	})
}

// CompactTx renumbers the item's active set to a dense 1..N sequence,
// preserving relative (queue_position, created_at) order. Must run inside
// a transaction that already holds the item's advisory lock.
func CompactTx(ctx context.Context, tx storage.Transaction, itemID string) error {
	active, err := tx.ActiveClaims(ctx, itemID)
	if err != nil {
		return err
	}
	dense := true
	for i, c := range active {
		if c.QueuePosition != i+1 {
			dense = false
			break
		}
	}
	if dense {
		return nil
	}
	return renumber(ctx, tx, itemID, active)
}

// renumber assigns positions 1..N to the ordered claims. The whole active
// set is first shifted out of the dense range so the unique index never
// observes a transient duplicate.
func renumber(ctx context.Context, tx storage.Transaction, itemID string, ordered []*types.Claim) error {
	if err := tx.ShiftActivePositions(ctx, itemID, positionShiftOffset); err != nil {
		return err
	}
	for i, c := range ordered {
		if err := tx.SetClaimPosition(ctx, c.ID, i+1); err != nil {
			return err
		}
		c.QueuePosition = i + 1
	}
	return nil
}

func mapNotFound(err error, kind, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound(kind, id)
	}
	return err
}
