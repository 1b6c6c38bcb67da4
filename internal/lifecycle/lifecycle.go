// Package lifecycle drives transitions that cross the item and claim
// tables. Each operation is a single transaction holding the item's
// advisory queue lock: an observer either sees the pre-transition state
// or the fully cascaded post-transition state, never a partial cascade.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/giveq/giveq/internal/errs"
	"github.com/giveq/giveq/internal/outbox"
	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/types"
)

// Cascade reasons recorded on claims expired as a side effect.
const (
	ReasonSiblingSelected = "another claim was selected"
	ReasonItemRemoved     = "item removed"
	ReasonItemExpired     = "item expired"
)

// Coordinator performs cross-entity transitions.
type Coordinator struct {
	store storage.Storage
}

// New creates a Coordinator on the given store.
func New(store storage.Storage) *Coordinator {
	return &Coordinator{store: store}
}

// SelectClaim flips one claim to SELECTED, its item to CLAIMED, and every
// other non-terminal claim on the item to EXPIRED, atomically. This is the
// only code path that closes an item via a claim.
func (c *Coordinator) SelectClaim(ctx context.Context, actor, claimID string) (*types.Claim, error) {
	var selected *types.Claim
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		// First read is only to learn the item id; re-read under the lock.
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
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may select a claim")
		}
		if !claim.Status.InActiveSet() {
			return errs.InvalidTransition("claim %s is %s; only pending or contacted claims can be selected", claim.ID, claim.Status)
		}
		if item.Status != types.ItemActive {
			return errs.InvalidTransition("item %s is %s; only active items can be claimed", item.ID, item.Status)
		}

		now := time.Now().UTC()

		siblings, err := tx.NonTerminalClaims(ctx, item.ID)
		if err != nil {
			return err
		}
		for _, sib := range siblings {
			if sib.ID == claim.ID {
				continue
			}
			if err := expireClaim(ctx, tx, sib, ReasonSiblingSelected, now); err != nil {
				return err
			}
		}

		claim.Status = types.ClaimSelected
		claim.SelectedAt = &now
		claim.UpdatedAt = now
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, outbox.KindClaimSelected, outbox.ForClaim(claim, "", now)); err != nil {
			return err
		}

		item.Status = types.ItemClaimed
		item.ClaimedAt = &now
		item.UpdatedAt = now
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, outbox.KindItemClaimed, outbox.ForItem(item, "", now)); err != nil {
			return err
		}

		selected = claim
		return nil
	})
	if err != nil {
		return nil, errs.Internal("select claim", err)
	}
	return selected, nil
}

// SoftDeleteItem flips the item to DELETED and every non-terminal claim on
// it to EXPIRED with reason "item removed".
func (c *Coordinator) SoftDeleteItem(ctx context.Context, actor, itemID string) error {
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.LockItemQueue(ctx, itemID); err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return mapNotFound(err, "item", itemID)
		}
		if item.OwnerID != actor {
			return errs.Forbidden("only the item owner may delete it")
		}
		if item.Status.IsTerminal() {
			return errs.InvalidTransition("item %s is %s and cannot be deleted", item.ID, item.Status)
		}

		now := time.Now().UTC()
		if err := cascadeExpire(ctx, tx, item.ID, ReasonItemRemoved, now); err != nil {
			return err
		}

		item.Status = types.ItemDeleted
		item.DeletedAt = &now
		item.UpdatedAt = now
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, outbox.KindItemDeleted, outbox.ForItem(item, ReasonItemRemoved, now))
	})
	return errs.Internal("delete item", err)
}

// ExpireItem flips an ACTIVE item past its expiry horizon to EXPIRED and
// cascades to its non-terminal claims with reason "item expired". Returns
// false without error when the item is no longer eligible, which keeps the
// reclamation loop idempotent.
func (c *Coordinator) ExpireItem(ctx context.Context, itemID string) (bool, error) {
	expired := false
	err := c.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.LockItemQueue(ctx, itemID); err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return mapNotFound(err, "item", itemID)
		}
		now := time.Now().UTC()
		if item.Status != types.ItemActive || item.ExpiresAt.After(now) {
			return nil // raced with another transition; nothing to do
		}

		if err := cascadeExpire(ctx, tx, item.ID, ReasonItemExpired, now); err != nil {
			return err
		}

		item.Status = types.ItemExpired
		item.ExpiredAt = &now
		item.UpdatedAt = now
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		if err := tx.AppendOutbox(ctx, outbox.KindItemExpired, outbox.ForItem(item, ReasonItemExpired, now)); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, errs.Internal("expire item", err)
	}
	return expired, nil
}

// cascadeExpire expires every non-terminal claim on the item. The active
// set empties entirely, so no renumbering is needed.
func cascadeExpire(ctx context.Context, tx storage.Transaction, itemID, reason string, now time.Time) error {
	claims, err := tx.NonTerminalClaims(ctx, itemID)
	if err != nil {
		return err
	}
	for _, claim := range claims {
		if err := expireClaim(ctx, tx, claim, reason, now); err != nil {
			return err
		}
	}
	return nil
}

// ExpireClaimTx transitions one claim to EXPIRED inside an existing
// transaction. Exported for the reclamation loop, which expires stale
// claims individually and then compacts.
func ExpireClaimTx(ctx context.Context, tx storage.Transaction, claim *types.Claim, reason string, now time.Time) error {
	return expireClaim(ctx, tx, claim, reason, now)
}

func expireClaim(ctx context.Context, tx storage.Transaction, claim *types.Claim, reason string, now time.Time) error {
	if claim.Status.IsTerminal() {
		return errs.InvalidTransition("claim %s is already %s", claim.ID, claim.Status)
	}
	claim.Status = types.ClaimExpired
	claim.ExpiredAt = &now
	claim.CloseReason = reason
	claim.UpdatedAt = now
	if err := tx.UpdateClaim(ctx, claim); err != nil {
		return err
	}
	return tx.AppendOutbox(ctx, outbox.KindClaimExpired, outbox.ForClaim(claim, reason, now))
}

func mapNotFound(err error, kind, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.NotFound(kind, id)
	}
	return err
}
