// The queue engine is pulled in only to populate active claim sets; the
// registry itself never depends on it, so these tests live in an external
// test package.
package registry_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giveq/giveq/internal/errs"
	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/queue"
	"github.com/giveq/giveq/internal/registry"
	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/testutil"
	"github.com/giveq/giveq/internal/types"
)

const lister = "lister-1"

func newService(t *testing.T) (*registry.Service, *queue.Engine, storage.Storage) {
	t.Helper()
	store, _ := testutil.NewStore(t)
	coord := lifecycle.New(store)
	return registry.New(store, coord, registry.Config{}),
		queue.New(store, coord, queue.Config{}),
		store
}

func validDraft() registry.ItemDraft {
	return registry.ItemDraft{
		Title:       "Oak bookshelf",
		Description: "Solid oak, five shelves, some scratches.",
		ZipCode:     "94107",
	}
}

func TestCreateAppliesTTLDefaults(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)
	require.Equal(t, types.ItemActive, item.Status)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 14), item.ExpiresAt, time.Minute)

	short := validDraft()
	short.DaysUntilExpiration = 3
	item, err = svc.Create(ctx, lister, short)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 3), item.ExpiresAt, time.Minute)

	// Above the cap, the TTL clamps rather than failing.
	long := validDraft()
	long.DaysUntilExpiration = 365
	item, err = svc.Create(ctx, lister, long)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 90), item.ExpiresAt, time.Minute)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*registry.ItemDraft)
	}{
		{"short title", func(d *registry.ItemDraft) { d.Title = "Oak" }},
		{"long title", func(d *registry.ItemDraft) { d.Title = strings.Repeat("x", 101) }},
		{"short description", func(d *registry.ItemDraft) { d.Description = "short" }},
		{"bad zip", func(d *registry.ItemDraft) { d.ZipCode = "941" }},
		{"bad location", func(d *registry.ItemDraft) { d.Location = &types.GeoPoint{Lat: 99} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := validDraft()
			tt.mutate(&draft)
			_, err := svc.Create(ctx, lister, draft)
			require.True(t, errs.HasCode(err, errs.CodeInvalidInput), "got %v", err)
		})
	}

	_, err := svc.Create(ctx, "", validDraft())
	require.True(t, errs.HasCode(err, errs.CodeInvalidInput), "got %v", err)
}

func TestCreateChecksCategory(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	missing := "no-such-category"
	draft := validDraft()
	draft.CategoryID = &missing
	_, err := svc.Create(ctx, lister, draft)
	require.True(t, errs.HasCode(err, errs.CodeNotFound), "got %v", err)

	cat, err := svc.CreateCategory(ctx, registry.CategoryDraft{Name: "Furniture"})
	require.NoError(t, err)
	require.Equal(t, "furniture", cat.Slug)

	draft.CategoryID = &cat.ID
	item, err := svc.Create(ctx, lister, draft)
	require.NoError(t, err)
	require.Equal(t, cat.ID, *item.CategoryID)
}

func TestUpdateOwnerAndState(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	item, err := svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)

	title := "Walnut bookshelf"
	_, err = svc.Update(ctx, "someone-else", item.ID, registry.ItemPatch{Title: &title})
	require.True(t, errs.HasCode(err, errs.CodeForbidden), "got %v", err)

	updated, err := svc.Update(ctx, lister, item.ID, registry.ItemPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)

	// Deleted items are not editable.
	require.NoError(t, svc.SoftDelete(ctx, lister, item.ID))
	_, err = svc.Update(ctx, lister, item.ID, registry.ItemPatch{Title: &title})
	require.True(t, errs.HasCode(err, errs.CodeInvalidStateTransition), "got %v", err)
}

func TestUpdateCategoryBlockedByActiveClaims(t *testing.T) {
	svc, eng, _ := newService(t)
	ctx := context.Background()

	cat, err := svc.CreateCategory(ctx, registry.CategoryDraft{Name: "Furniture"})
	require.NoError(t, err)
	item, err := svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)

	claim, err := eng.Enqueue(ctx, "user-1", item.ID, queue.EnqueuePrefs{})
	require.NoError(t, err)

	_, err = svc.Update(ctx, lister, item.ID, registry.ItemPatch{CategoryID: &cat.ID})
	require.True(t, errs.HasCode(err, errs.CodeConflictWithActiveClaims), "got %v", err)

	// Non-category edits stay allowed with an active queue.
	notes := "porch pickup, ring the bell"
	_, err = svc.Update(ctx, lister, item.ID, registry.ItemPatch{PickupNotes: &notes})
	require.NoError(t, err)

	// Once the queue drains, the category can change.
	require.NoError(t, eng.Cancel(ctx, "user-1", claim.ID, ""))
	updated, err := svc.Update(ctx, lister, item.ID, registry.ItemPatch{CategoryID: &cat.ID})
	require.NoError(t, err)
	require.Equal(t, cat.ID, *updated.CategoryID)
}

func TestChangeStatusEdges(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	item, err := svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)

	_, err = svc.ChangeStatus(ctx, "someone-else", item.ID, types.ItemSuspended)
	require.True(t, errs.HasCode(err, errs.CodeForbidden), "got %v", err)

	suspended, err := svc.ChangeStatus(ctx, lister, item.ID, types.ItemSuspended)
	require.NoError(t, err)
	require.Equal(t, types.ItemSuspended, suspended.Status)

	resumed, err := svc.ChangeStatus(ctx, lister, item.ID, types.ItemActive)
	require.NoError(t, err)
	require.Equal(t, types.ItemActive, resumed.Status)

	// Terminal states are never reachable through ChangeStatus.
	for _, to := range []types.ItemStatus{types.ItemClaimed, types.ItemExpired, types.ItemDeleted, types.ItemDraft} {
		_, err := svc.ChangeStatus(ctx, lister, item.ID, to)
		require.True(t, errs.HasCode(err, errs.CodeInvalidStateTransition), "%s: got %v", to, err)
	}

	_, err = svc.ChangeStatus(ctx, lister, item.ID, types.ItemStatus("archived"))
	require.True(t, errs.HasCode(err, errs.CodeInvalidInput), "got %v", err)
}

func TestGetWithQueueAndRecordView(t *testing.T) {
	svc, eng, store := newService(t)
	ctx := context.Background()
	item, err := svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)
	_, err = eng.Enqueue(ctx, "user-1", item.ID, queue.EnqueuePrefs{})
	require.NoError(t, err)

	got, err := svc.GetWithQueue(ctx, item.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Summary.ActiveClaims)
	require.NotNil(t, got.Summary.ViewerPosition)
	require.Equal(t, 1, *got.Summary.ViewerPosition)

	svc.RecordView(ctx, item.ID)
	svc.RecordView(ctx, item.ID)
	fresh, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, 2, fresh.ViewCount)

	_, err = svc.GetWithQueue(ctx, "no-such-item", "")
	require.True(t, errs.HasCode(err, errs.CodeNotFound), "got %v", err)
}

func TestSearchFindsClaimableItemsOnly(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	shelf := validDraft()
	shelf.Title = "Oak bookshelf for free"
	_, err := svc.Create(ctx, lister, shelf)
	require.NoError(t, err)

	chair := validDraft()
	chair.Title = "Rocking chair, worn"
	chair.Description = "Creaks a little but perfectly usable."
	hidden, err := svc.Create(ctx, lister, chair)
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, lister, hidden.ID, types.ItemSuspended)
	require.NoError(t, err)

	results, err := svc.Search(ctx, types.ItemFilter{}, types.Page{})
	require.NoError(t, err)
	require.Len(t, results, 1, "suspended items must not surface in search")

	results, err = svc.Search(ctx, types.ItemFilter{Query: "bookshelf"}, types.Page{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = svc.Search(ctx, types.ItemFilter{Query: "velociraptor"}, types.Page{})
	require.NoError(t, err)
	require.Empty(t, results)

	_, err = svc.Search(ctx, types.ItemFilter{SortBy: "owner_id"}, types.Page{})
	require.True(t, errs.HasCode(err, errs.CodeInvalidInput), "got %v", err)
}

func TestFindNearby(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	sf := validDraft()
	sf.Title = "Bookshelf in SoMa"
	sf.Location = &types.GeoPoint{Lat: 37.7785, Lon: -122.3946}
	_, err := svc.Create(ctx, lister, sf)
	require.NoError(t, err)

	oakland := validDraft()
	oakland.Title = "Bookshelf in Oakland"
	oakland.Location = &types.GeoPoint{Lat: 37.8044, Lon: -122.2712}
	_, err = svc.Create(ctx, lister, oakland)
	require.NoError(t, err)

	la := validDraft()
	la.Title = "Bookshelf in Los Angeles"
	la.Location = &types.GeoPoint{Lat: 34.0522, Lon: -118.2437}
	_, err = svc.Create(ctx, lister, la)
	require.NoError(t, err)

	// No location at all: excluded from nearby results.
	_, err = svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)

	downtown := types.GeoPoint{Lat: 37.7749, Lon: -122.4194}
	results, err := svc.FindNearby(ctx, types.NearbyFilter{Center: downtown, RadiusMiles: 25}, types.Page{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.LessOrEqual(t, r.DistanceMiles, 25.0)
	}

	// Tight radius keeps only the SoMa listing.
	results, err = svc.FindNearby(ctx, types.NearbyFilter{Center: downtown, RadiusMiles: 5}, types.Page{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Bookshelf in SoMa", results[0].Item.Title)
}

func TestListByOwner(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)
	_, err = svc.Create(ctx, lister, validDraft())
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, lister, first.ID))

	all, err := svc.ListByOwner(ctx, lister, types.OwnerFilter{}, types.Page{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	deleted, err := svc.ListByOwner(ctx, lister, types.OwnerFilter{Status: types.ItemDeleted}, types.Page{})
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	none, err := svc.ListByOwner(ctx, "someone-else", types.OwnerFilter{}, types.Page{})
	require.NoError(t, err)
	require.Empty(t, none)
}
