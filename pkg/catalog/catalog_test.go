package catalog

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/pgcdc/internal/testutil/pgtest"
)

func newTestPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(ctx, os.Getenv("TEST_DATABASE"))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestProberFetchTypeName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	conn := pgtest.Connect(t, ctx)
	_, err := conn.Exec(ctx, `
		DROP TABLE IF EXISTS catalog_probe_fixture;
		CREATE TABLE catalog_probe_fixture (
			id integer NOT NULL,
			amount numeric(10,2),
			created timestamp with time zone
		);
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `DROP TABLE IF EXISTS catalog_probe_fixture;`)
	})

	pool := newTestPool(t, ctx)
	prober := New(pool)

	name, err := prober.FetchTypeName(ctx, 1700, (10<<16|2)+4) // numeric(10,2) via pg's typmod encoding
	require.NoError(t, err)
	require.Contains(t, name, "numeric")

	// cached path returns the same value without a second round trip breaking anything.
	name2, err := prober.FetchTypeName(ctx, 1700, (10<<16|2)+4)
	require.NoError(t, err)
	require.Equal(t, name, name2)
}

func TestProberFetchIsOptional(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	conn := pgtest.Connect(t, ctx)
	_, err := conn.Exec(ctx, `
		DROP TABLE IF EXISTS catalog_probe_optional;
		CREATE TABLE catalog_probe_optional (
			id integer NOT NULL,
			nickname text
		);
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `DROP TABLE IF EXISTS catalog_probe_optional;`)
	})

	pool := newTestPool(t, ctx)
	prober := New(pool)

	optional, err := prober.FetchIsOptional(ctx, "public", "catalog_probe_optional", "id")
	require.NoError(t, err)
	require.False(t, optional)

	optional, err = prober.FetchIsOptional(ctx, "public", "catalog_probe_optional", "nickname")
	require.NoError(t, err)
	require.True(t, optional)
}
