package reclaim

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/giveq/giveq/internal/lifecycle"
	"github.com/giveq/giveq/internal/queue"
	"github.com/giveq/giveq/internal/registry"
	"github.com/giveq/giveq/internal/storage"
	"github.com/giveq/giveq/internal/testutil"
	"github.com/giveq/giveq/internal/types"
)

const lister = "lister-1"

type fixture struct {
	store  storage.Storage
	pool   *pgxpool.Pool
	runner *Runner
	eng    *queue.Engine
	reg    *registry.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, pool := testutil.NewStore(t)
	coord := lifecycle.New(store)
	return &fixture{
		store:  store,
		pool:   pool,
		runner: New(store, coord, Config{}),
		eng:    queue.New(store, coord, queue.Config{}),
		reg:    registry.New(store, coord, registry.Config{}),
	}
}

func (f *fixture) seedQueue(t *testing.T, claimers int) (*types.Item, []*types.Claim) {
	t.Helper()
	ctx := context.Background()
	item, err := f.reg.Create(ctx, lister, registry.ItemDraft{
		Title:       "Oak bookshelf",
		Description: "Solid oak, five shelves, some scratches.",
		ZipCode:     "94107",
	})
	require.NoError(t, err)

	claims := make([]*types.Claim, claimers)
	for i := range claims {
		claims[i], err = f.eng.Enqueue(ctx, fmt.Sprintf("user-%d", i+1), item.ID, queue.EnqueuePrefs{})
		require.NoError(t, err)
	}
	return item, claims
}

func (f *fixture) backdateItemExpiry(t *testing.T, itemID string) {
	t.Helper()
	_, err := f.pool.Exec(context.Background(),
		`UPDATE items SET expires_at = now() - interval '1 hour' WHERE id = $1`, itemID)
	require.NoError(t, err)
}

func (f *fixture) backdateClaim(t *testing.T, claimID string, age time.Duration) {
	t.Helper()
	_, err := f.pool.Exec(context.Background(),
		`UPDATE claims SET created_at = now() - make_interval(secs => $2) WHERE id = $1`,
		claimID, age.Seconds())
	require.NoError(t, err)
}

func TestRunOnceExpiresItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claims := f.seedQueue(t, 2)
	f.backdateItemExpiry(t, item.ID)

	report, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ItemsExpired)

	got, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, types.ItemExpired, got.Status)

	for _, c := range claims {
		claim, err := f.store.GetClaim(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, types.ClaimExpired, claim.Status)
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, _ := f.seedQueue(t, 1)
	f.backdateItemExpiry(t, item.ID)

	first, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.ItemsExpired)

	second, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ReclaimReport{}, second, "a second pass must find nothing to do")
}

func TestStaleClaimExpiryAdvancesQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claims := f.seedQueue(t, 3)

	// The head of the queue has gone quiet past the staleness window.
	f.backdateClaim(t, claims[0].ID, 72*time.Hour)

	report, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ClaimsExpired)
	require.Equal(t, 0, report.ItemsExpired)

	head, err := f.store.GetClaim(ctx, claims[0].ID)
	require.NoError(t, err)
	require.Equal(t, types.ClaimExpired, head.Status)
	require.Equal(t, ReasonInactivity, head.CloseReason)

	// The queue compacted: user-2 is now first in line.
	next, err := f.store.GetNextClaim(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, claims[1].ID, next.ID)
	require.Equal(t, 1, next.QueuePosition)

	active, err := f.store.GetQueue(ctx, item.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for i, c := range active {
		require.Equal(t, i+1, c.QueuePosition)
	}
}

func TestStaleScanSkipsFreshAndSelectedClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, claims := f.seedQueue(t, 2)

	// Selected claims never age out, no matter how old.
	coord := lifecycle.New(f.store)
	_, err := coord.SelectClaim(ctx, lister, claims[0].ID)
	require.NoError(t, err)
	f.backdateClaim(t, claims[0].ID, 500*time.Hour)

	report, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.ClaimsExpired)

	got, err := f.store.GetClaim(ctx, claims[0].ID)
	require.NoError(t, err)
	require.Equal(t, types.ClaimSelected, got.Status)
}

func TestArchiveTerminalItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claims := f.seedQueue(t, 1)

	coord := lifecycle.New(f.store)
	_, err := coord.SelectClaim(ctx, lister, claims[0].ID)
	require.NoError(t, err)

	// Fresh terminal items stay put.
	report, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.ItemsArchived)

	_, err = f.pool.Exec(ctx,
		`UPDATE items SET updated_at = now() - interval '100 days' WHERE id = $1`, item.ID)
	require.NoError(t, err)

	report, err = f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ItemsArchived)

	got, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
	require.Equal(t, types.ItemClaimed, got.Status, "archival stamps, it does not change status")
}

func TestPreviewWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item, claims := f.seedQueue(t, 1)
	f.backdateItemExpiry(t, item.ID)
	f.backdateClaim(t, claims[0].ID, 72*time.Hour)

	report, err := f.runner.Preview(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ItemsExpired)
	require.Equal(t, 1, report.ClaimsExpired)

	// Nothing actually moved.
	got, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, types.ItemActive, got.Status)
	claim, err := f.store.GetClaim(ctx, claims[0].ID)
	require.NoError(t, err)
	require.Equal(t, types.ClaimPending, claim.Status)
}
