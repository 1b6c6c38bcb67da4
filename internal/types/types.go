// Package types defines core data structures for the giveq item broker.
package types

import (
	"fmt"
	"regexp"
	"time"
)

// Item represents a physical item offered for free pickup.
type Item struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	CategoryID  *string    `json:"category_id,omitempty"` // weak reference; detaches to nil on category removal
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ZipCode     string     `json:"zip_code"`
	Location    *GeoPoint  `json:"location,omitempty"`
	PickupNotes string     `json:"pickup_notes,omitempty"`
	Status      ItemStatus `json:"status"`
	ViewCount   int        `json:"view_count"`  // advisory only, never used for correctness
	ClaimCount  int        `json:"claim_count"` // advisory only, never used for correctness
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"` // set by reclamation archival; orthogonal to status
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks coordinate ranges.
func (p GeoPoint) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("lat must be within [-90, 90] (got %v)", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("lon must be within [-180, 180] (got %v)", p.Lon)
	}
	return nil
}

var zipCodeRe = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// Item field bounds.
const (
	TitleMinLen       = 5
	TitleMaxLen       = 100
	DescriptionMinLen = 10
	DescriptionMaxLen = 1000
)

// Validate checks field-level constraints on the item. It does not check
// cross-entity invariants (category existence, claim state); those belong
// to the registry entry points.
func (i *Item) Validate() error {
	if len(i.Title) < TitleMinLen || len(i.Title) > TitleMaxLen {
		return fmt.Errorf("title must be %d-%d characters (got %d)", TitleMinLen, TitleMaxLen, len(i.Title))
	}
	if len(i.Description) < DescriptionMinLen || len(i.Description) > DescriptionMaxLen {
		return fmt.Errorf("description must be %d-%d characters (got %d)", DescriptionMinLen, DescriptionMaxLen, len(i.Description))
	}
	if !zipCodeRe.MatchString(i.ZipCode) {
		return fmt.Errorf("zip_code must match NNNNN or NNNNN-NNNN (got %q)", i.ZipCode)
	}
	if i.Location != nil {
		if err := i.Location.Validate(); err != nil {
			return err
		}
	}
	if !i.Status.IsValid() {
		return fmt.Errorf("invalid item status: %s", i.Status)
	}
	if i.ExpiresAt.IsZero() {
		return fmt.Errorf("expires_at is required")
	}
	// claimed_at invariant: claimed items must carry the stamp, others must not
	if i.Status == ItemClaimed && i.ClaimedAt == nil {
		return fmt.Errorf("claimed items must have claimed_at timestamp")
	}
	if i.Status != ItemClaimed && i.ClaimedAt != nil {
		return fmt.Errorf("non-claimed items cannot have claimed_at timestamp")
	}
	return nil
}

// Claimable reports whether the item accepts new claims at the given instant:
// status ACTIVE and not yet past its expiry horizon.
func (i *Item) Claimable(now time.Time) bool {
	return i.Status == ItemActive && i.ExpiresAt.After(now)
}

// ItemStatus represents the lifecycle state of an item.
type ItemStatus string

// Item status constants.
const (
	ItemDraft     ItemStatus = "draft"
	ItemActive    ItemStatus = "active"
	ItemClaimed   ItemStatus = "claimed"
	ItemExpired   ItemStatus = "expired"
	ItemDeleted   ItemStatus = "deleted"
	ItemSuspended ItemStatus = "suspended" // administrative off-ramp, reversible to active
)

// IsValid checks if the status value is valid.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemDraft, ItemActive, ItemClaimed, ItemExpired, ItemDeleted, ItemSuspended:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted from s.
// CLAIMED is terminal once a selection has occurred.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemClaimed, ItemExpired, ItemDeleted:
		return true
	}
	return false
}

// Claim represents a user's intent to receive an item.
type Claim struct {
	ID                  string        `json:"id"`
	ItemID              string        `json:"item_id"`
	UserID              string        `json:"user_id"`
	QueuePosition       int           `json:"queue_position"`
	Status              ClaimStatus   `json:"status"`
	ContactMethod       ContactMethod `json:"contact_method"`
	PreferredPickupDate *time.Time    `json:"preferred_pickup_date,omitempty"`
	ClaimerNotes        string        `json:"claimer_notes,omitempty"`
	ListerNotes         string        `json:"lister_notes,omitempty"`
	CloseReason         string        `json:"close_reason,omitempty"` // reason recorded on cancel/skip/expire
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	ContactedAt         *time.Time    `json:"contacted_at,omitempty"`
	SelectedAt          *time.Time    `json:"selected_at,omitempty"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
	CancelledAt         *time.Time    `json:"cancelled_at,omitempty"`
	SkippedAt           *time.Time    `json:"skipped_at,omitempty"`
	ExpiredAt           *time.Time    `json:"expired_at,omitempty"`
}

// Validate checks field-level constraints on the claim.
func (c *Claim) Validate() error {
	if c.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid claim status: %s", c.Status)
	}
	if !c.ContactMethod.IsValid() {
		return fmt.Errorf("invalid contact_method: %s", c.ContactMethod)
	}
	if c.Status.InActiveSet() && c.QueuePosition < 1 {
		return fmt.Errorf("active claims must have queue_position >= 1 (got %d)", c.QueuePosition)
	}
	return nil
}

// ClaimStatus represents the lifecycle state of a claim.
type ClaimStatus string

// Claim status constants.
const (
	ClaimPending   ClaimStatus = "pending"
	ClaimContacted ClaimStatus = "contacted"
	ClaimSelected  ClaimStatus = "selected"
	ClaimCompleted ClaimStatus = "completed"
	ClaimCancelled ClaimStatus = "cancelled"
	ClaimSkipped   ClaimStatus = "skipped"
	ClaimExpired   ClaimStatus = "expired"
)

// IsValid checks if the status value is valid.
func (s ClaimStatus) IsValid() bool {
	switch s {
	case ClaimPending, ClaimContacted, ClaimSelected, ClaimCompleted, ClaimCancelled, ClaimSkipped, ClaimExpired:
		return true
	}
	return false
}

// InActiveSet reports whether a claim with this status occupies a queue
// position. Only PENDING and CONTACTED claims order the queue.
func (s ClaimStatus) InActiveSet() bool {
	return s == ClaimPending || s == ClaimContacted
}

// IsTerminal reports whether the status is immutable.
func (s ClaimStatus) IsTerminal() bool {
	switch s {
	case ClaimCompleted, ClaimCancelled, ClaimSkipped, ClaimExpired:
		return true
	}
	return false
}

// ContactMethod is the closed set of ways a lister may reach a claimer.
type ContactMethod string

// Contact method constants.
const (
	ContactEmail ContactMethod = "email"
	ContactPhone ContactMethod = "phone"
	ContactBoth  ContactMethod = "both"
)

// IsValid checks if the contact method is one of the allowed values.
func (m ContactMethod) IsValid() bool {
	switch m {
	case ContactEmail, ContactPhone, ContactBoth:
		return true
	}
	return false
}

// Category is a hierarchical grouping for items. Not on the hot path.
type Category struct {
	ID        string    `json:"id"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Active    bool      `json:"active"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// QueueSummary is the claim-queue digest attached to item reads.
type QueueSummary struct {
	TotalClaims    int  `json:"total_claims"`
	ActiveClaims   int  `json:"active_claims"`
	ViewerPosition *int `json:"viewer_position,omitempty"`
	EstimatedWait  *int `json:"estimated_wait,omitempty"` // count of claims strictly ahead, not a duration
}

// ItemWithQueue pairs an item with its queue summary.
type ItemWithQueue struct {
	Item    *Item        `json:"item"`
	Summary QueueSummary `json:"queue"`
}

// ReclaimReport holds counts from one reclamation pass.
type ReclaimReport struct {
	ItemsExpired  int `json:"items_expired"`
	ClaimsExpired int `json:"claims_expired"`
	ItemsArchived int `json:"items_archived"`
}

// OutboxEvent is a pending downstream notification appended in the same
// transaction as the lifecycle transition it describes. Delivery is handled
// by external plumbing.
type OutboxEvent struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}
