// Package storage provides shared types for item and claim persistence.
//
// The concrete implementation lives in the postgres sub-package. This
// package holds the interface and value types referenced by both the
// postgres implementation and its consumers (the registry, queue,
// lifecycle and reclamation services).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/giveq/giveq/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateActiveClaim is returned when an insert would give a user a
// second non-terminal claim on the same item (partial unique index).
var ErrDuplicateActiveClaim = errors.New("duplicate active claim")

// ErrPositionConflict is returned when an insert or renumber collides on
// the (item_id, queue_position) partial unique index. Retryable.
var ErrPositionConflict = errors.New("queue position conflict")

// NearbyItem pairs an item with its distance from the search center.
type NearbyItem struct {
	Item          *types.Item
	DistanceMiles float64
}

// Storage is the interface satisfied by *postgres.Store.
// Consumers depend on this interface rather than on the concrete type so
// that alternative implementations (mocks, proxies) can be substituted.
type Storage interface {
	// Items
	GetItem(ctx context.Context, id string) (*types.Item, error)
	SearchItems(ctx context.Context, filter types.ItemFilter, page types.Page) ([]*types.Item, error)
	FindNearbyItems(ctx context.Context, filter types.NearbyFilter, page types.Page) ([]*NearbyItem, error)
	ListItemsByOwner(ctx context.Context, owner string, filter types.OwnerFilter, page types.Page) ([]*types.Item, error)
	// Advisory counters, updated best-effort outside critical transactions.
	IncrementViewCount(ctx context.Context, id string) error
	IncrementClaimCount(ctx context.Context, id string, delta int) error

	// Claims
	GetClaim(ctx context.Context, id string) (*types.Claim, error)
	// GetQueue returns an item's claims ordered by (queue_position,
	// created_at). With includeInactive false only the active set
	// (PENDING, CONTACTED) is returned.
	GetQueue(ctx context.Context, itemID string, includeInactive bool) ([]*types.Claim, error)
	GetQueueSummary(ctx context.Context, itemID, viewer string) (types.QueueSummary, error)
	// GetNextClaim returns the active claim at position 1, or ErrNotFound.
	GetNextClaim(ctx context.Context, itemID string) (*types.Claim, error)
	ListClaimsByUser(ctx context.Context, user string, filter types.ClaimFilter, page types.Page) ([]*types.Claim, error)
	ListClaimsForLister(ctx context.Context, owner string, filter types.ClaimFilter, page types.Page) ([]*types.Claim, error)

	// Categories
	CreateCategory(ctx context.Context, cat *types.Category) error
	GetCategory(ctx context.Context, id string) (*types.Category, error)
	ListCategories(ctx context.Context) ([]*types.Category, error)

	// Reclamation scans
	CountExpiredItems(ctx context.Context, now time.Time) (int, error)
	CountStaleClaims(ctx context.Context, cutoff time.Time) (int, error)
	CountArchivableItems(ctx context.Context, cutoff time.Time) (int, error)
	ListExpiredItemIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*types.Claim, error)
	ArchiveTerminalItems(ctx context.Context, cutoff time.Time, limit int) (int, error)

	// Outbox (delivery worker side; appends happen inside transactions)
	ListUndeliveredOutbox(ctx context.Context, limit int) ([]*types.OutboxEvent, error)

	// RunInTransaction executes fn inside a single database transaction.
	// A non-nil error from fn rolls the transaction back; nil commits.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close()
}

// Transaction exposes the write primitives available inside a single
// database transaction. All active-set mutations must call LockItemQueue
// first: it acquires the per-item advisory lock that serializes every
// writer touching that item's queue (released automatically at commit or
// rollback).
type Transaction interface {
	LockItemQueue(ctx context.Context, itemID string) error

	GetItem(ctx context.Context, id string) (*types.Item, error)
	InsertItem(ctx context.Context, item *types.Item) error
	UpdateItem(ctx context.Context, item *types.Item) error

	GetClaim(ctx context.Context, id string) (*types.Claim, error)
	InsertClaim(ctx context.Context, claim *types.Claim) error
	UpdateClaim(ctx context.Context, claim *types.Claim) error

	// ActiveClaims returns the item's active set (PENDING, CONTACTED)
	// ordered by (queue_position, created_at).
	ActiveClaims(ctx context.Context, itemID string) ([]*types.Claim, error)
	// NonTerminalClaims additionally includes SELECTED claims.
	NonTerminalClaims(ctx context.Context, itemID string) ([]*types.Claim, error)
	// NonTerminalClaimByUser returns the user's non-terminal claim on the
	// item, or nil when none exists.
	NonTerminalClaimByUser(ctx context.Context, itemID, userID string) (*types.Claim, error)
	MaxActivePosition(ctx context.Context, itemID string) (int, error)

	// ShiftActivePositions adds offset to every active position on the
	// item. Used to vacate the dense 1..N range before a renumber so the
	// partial unique index never sees a transient collision.
	ShiftActivePositions(ctx context.Context, itemID string, offset int) error
	SetClaimPosition(ctx context.Context, claimID string, position int) error

	AppendOutbox(ctx context.Context, kind string, payload any) error
}
