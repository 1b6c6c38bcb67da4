// Package testutil provides a throwaway Postgres-backed store for
// integration tests. One container is started per test binary; each test
// gets its own freshly migrated database inside it.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/giveq/giveq/internal/storage/postgres"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
	dbCounter     atomic.Int64
)

func startContainer() {
	// testcontainers panics (rather than returning an error) when no
	// container runtime can be found; convert that into containerErr so
	// NewStore can skip as documented.
	defer func() {
		if r := recover(); r != nil {
			containerErr = fmt.Errorf("container runtime unavailable: %v", r)
		}
	}()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("giveq"),
		tcpostgres.WithUsername("giveq"),
		tcpostgres.WithPassword("giveq"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		containerErr = err
		return
	}
	containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
}

// NewStore returns a migrated store on a fresh database, skipping the test
// when no container runtime is available. The pool is exposed so tests can
// backdate rows directly.
func NewStore(t *testing.T) (*postgres.Store, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	containerOnce.Do(startContainer)
	if containerErr != nil {
		t.Skipf("skipping: postgres container unavailable: %v", containerErr)
	}

	dbName := fmt.Sprintf("giveq_test_%d", dbCounter.Add(1))
	admin, err := pgxpool.New(ctx, containerDSN)
	if err != nil {
		t.Fatalf("failed to connect to container: %v", err)
	}
	defer admin.Close()
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(containerDSN)
	if err != nil {
		t.Fatalf("failed to parse container dsn: %v", err)
	}
	cfg.ConnConfig.Database = dbName
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	store := postgres.NewFromPool(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return store, pool
}
