// Package outbox defines the event kinds and payloads appended to the
// outbox table by lifecycle transitions. Writes that must trigger
// downstream effects (email, SMS, feeds) append a row in the same
// transaction as the transition; a separate worker reads and delivers.
package outbox

import (
	"time"

	"github.com/giveq/giveq/internal/types"
)

// Event kinds. Names are contractual for downstream consumers.
const (
	KindItemCreated   = "item.created"
	KindItemPublished = "item.published"
	KindItemSuspended = "item.suspended"
	KindItemResumed   = "item.resumed"
	KindItemClaimed   = "item.claimed"
	KindItemExpired   = "item.expired"
	KindItemDeleted   = "item.deleted"

	KindClaimEnqueued  = "claim.enqueued"
	KindClaimContacted = "claim.contacted"
	KindClaimSelected  = "claim.selected"
	KindClaimCompleted = "claim.completed"
	KindClaimCancelled = "claim.cancelled"
	KindClaimSkipped   = "claim.skipped"
	KindClaimExpired   = "claim.expired"
)

// ItemEvent is the payload for item.* kinds.
type ItemEvent struct {
	ItemID  string           `json:"item_id"`
	OwnerID string           `json:"owner_id"`
	Status  types.ItemStatus `json:"status"`
	Reason  string           `json:"reason,omitempty"`
	At      time.Time        `json:"at"`
}

// ClaimEvent is the payload for claim.* kinds.
type ClaimEvent struct {
	ClaimID  string            `json:"claim_id"`
	ItemID   string            `json:"item_id"`
	UserID   string            `json:"user_id"`
	Status   types.ClaimStatus `json:"status"`
	Position int               `json:"position,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	At       time.Time         `json:"at"`
}

// ForItem builds an ItemEvent payload.
func ForItem(item *types.Item, reason string, at time.Time) ItemEvent {
	return ItemEvent{ItemID: item.ID, OwnerID: item.OwnerID, Status: item.Status, Reason: reason, At: at}
}

// ForClaim builds a ClaimEvent payload.
func ForClaim(claim *types.Claim, reason string, at time.Time) ClaimEvent {
	return ClaimEvent{
		ClaimID:  claim.ID,
		ItemID:   claim.ItemID,
		UserID:   claim.UserID,
		Status:   claim.Status,
		Position: claim.QueuePosition,
		Reason:   reason,
		At:       at,
	}
}
