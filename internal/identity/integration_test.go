package identity

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const devicesSchema = `
CREATE TABLE devices (
	id bigserial PRIMARY KEY,
	device_uid text UNIQUE NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
)`

// setupTestPool starts a PostgreSQL container with the devices table.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("ingest_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, devicesSchema)
	require.NoError(t, err)

	return pool
}

func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	pool := setupTestPool(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	// Upsert is idempotent across calls.
	require.NoError(t, store.UpsertDevices(ctx, []string{"dev1", "dev2"}))
	require.NoError(t, store.UpsertDevices(ctx, []string{"dev2", "dev3"}))

	ids, err := store.LookupIDs(ctx, []string{"dev1", "dev2", "dev3", "ghost"})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.NotContains(t, ids, "ghost")

	// Repeated upsert keeps the same internal id.
	again, err := store.LookupIDs(ctx, []string{"dev2"})
	require.NoError(t, err)
	assert.Equal(t, ids["dev2"], again["dev2"])

	// Full resolver round trip against the real store.
	resolver := NewResolver(store, NewMemoryCache(10*time.Minute))
	resolved, err := resolver.Resolve(ctx, []string{"dev1", "dev4"})
	require.NoError(t, err)
	assert.Len(t, resolved, 2)
}
