package types

import (
	"strings"
	"testing"
	"time"
)

func validItem() Item {
	return Item{
		ID:          "item-1",
		OwnerID:     "user-1",
		Title:       "Oak bookshelf",
		Description: "Solid oak, five shelves, some scratches.",
		ZipCode:     "94107",
		Status:      ItemActive,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
}

func TestItemValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		mutate  func(*Item)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid item",
			mutate: func(i *Item) {},
		},
		{
			name:    "title too short",
			mutate:  func(i *Item) { i.Title = "Oak" },
			wantErr: true,
			errMsg:  "title must be 5-100 characters",
		},
		{
			name:    "title too long",
			mutate:  func(i *Item) { i.Title = strings.Repeat("x", 101) },
			wantErr: true,
			errMsg:  "title must be 5-100 characters",
		},
		{
			name:    "description too short",
			mutate:  func(i *Item) { i.Description = "short" },
			wantErr: true,
			errMsg:  "description must be 10-1000 characters",
		},
		{
			name:    "description too long",
			mutate:  func(i *Item) { i.Description = strings.Repeat("x", 1001) },
			wantErr: true,
			errMsg:  "description must be 10-1000 characters",
		},
		{
			name:   "zip+4 accepted",
			mutate: func(i *Item) { i.ZipCode = "94107-1234" },
		},
		{
			name:    "zip too short",
			mutate:  func(i *Item) { i.ZipCode = "9410" },
			wantErr: true,
			errMsg:  "zip_code must match",
		},
		{
			name:    "zip with letters",
			mutate:  func(i *Item) { i.ZipCode = "9410a" },
			wantErr: true,
			errMsg:  "zip_code must match",
		},
		{
			name:    "latitude out of range",
			mutate:  func(i *Item) { i.Location = &GeoPoint{Lat: 91, Lon: 0} },
			wantErr: true,
			errMsg:  "lat must be within",
		},
		{
			name:    "longitude out of range",
			mutate:  func(i *Item) { i.Location = &GeoPoint{Lat: 0, Lon: -181} },
			wantErr: true,
			errMsg:  "lon must be within",
		},
		{
			name:    "invalid status",
			mutate:  func(i *Item) { i.Status = ItemStatus("archived") },
			wantErr: true,
			errMsg:  "invalid item status",
		},
		{
			name:    "missing expires_at",
			mutate:  func(i *Item) { i.ExpiresAt = time.Time{} },
			wantErr: true,
			errMsg:  "expires_at is required",
		},
		{
			name:    "claimed without claimed_at",
			mutate:  func(i *Item) { i.Status = ItemClaimed },
			wantErr: true,
			errMsg:  "claimed items must have claimed_at",
		},
		{
			name:    "claimed_at on non-claimed item",
			mutate:  func(i *Item) { i.ClaimedAt = &now },
			wantErr: true,
			errMsg:  "non-claimed items cannot have claimed_at",
		},
		{
			name: "claimed with claimed_at",
			mutate: func(i *Item) {
				i.Status = ItemClaimed
				i.ClaimedAt = &now
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem()
			tt.mutate(&item)
			err := item.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestItemClaimable(t *testing.T) {
	now := time.Now()
	item := validItem()

	if !item.Claimable(now) {
		t.Error("active unexpired item should be claimable")
	}

	past := item
	past.ExpiresAt = now.Add(-time.Minute)
	if past.Claimable(now) {
		t.Error("item past its horizon should not be claimable")
	}

	for _, status := range []ItemStatus{ItemDraft, ItemSuspended, ItemDeleted, ItemExpired} {
		other := validItem()
		other.Status = status
		if other.Claimable(now) {
			t.Errorf("%s item should not be claimable", status)
		}
	}
}

func TestItemStatusTerminal(t *testing.T) {
	terminal := []ItemStatus{ItemClaimed, ItemExpired, ItemDeleted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []ItemStatus{ItemDraft, ItemActive, ItemSuspended}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestClaimStatusSets(t *testing.T) {
	active := []ClaimStatus{ClaimPending, ClaimContacted}
	for _, s := range active {
		if !s.InActiveSet() {
			t.Errorf("%s should be in the active set", s)
		}
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}

	// Selected holds no queue position but is still mutable.
	if ClaimSelected.InActiveSet() {
		t.Error("selected should not be in the active set")
	}
	if ClaimSelected.IsTerminal() {
		t.Error("selected should not be terminal")
	}

	terminal := []ClaimStatus{ClaimCompleted, ClaimCancelled, ClaimSkipped, ClaimExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.InActiveSet() {
			t.Errorf("%s should not be in the active set", s)
		}
	}
}

func TestClaimValidation(t *testing.T) {
	claim := Claim{
		ID:            "claim-1",
		ItemID:        "item-1",
		UserID:        "user-2",
		QueuePosition: 1,
		Status:        ClaimPending,
		ContactMethod: ContactEmail,
	}
	if err := claim.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	noPos := claim
	noPos.QueuePosition = 0
	if err := noPos.Validate(); err == nil {
		t.Error("active claim without a position should be invalid")
	}

	// Terminal claims keep their historical position but zero is fine too.
	done := claim
	done.Status = ClaimCancelled
	done.QueuePosition = 0
	if err := done.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	badMethod := claim
	badMethod.ContactMethod = ContactMethod("fax")
	if err := badMethod.Validate(); err == nil {
		t.Error("unknown contact method should be invalid")
	}
}
