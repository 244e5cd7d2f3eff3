// Package dbtest starts a throwaway Postgres for integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"topup-checkout/internal/database"
)

// NewPostgres runs postgres:16-alpine, applies the migrations and returns an
// open handle. The container is terminated when the test ends. Skipped
// under -short.
func NewPostgres(tb testing.TB) *sql.DB {
	tb.Helper()
	if testing.Short() {
		tb.Skip("integration test skipped in short mode")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("topup"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(tb, ctr)
	require.NoError(tb, err, "start postgres container")

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(tb, err)

	db, err := database.NewPostgres(ctx, url)
	require.NoError(tb, err)
	tb.Cleanup(func() { db.Close() })

	require.NoError(tb, database.Migrate(db))
	return db
}

// Truncate empties the orders and users tables, keeping the seeded catalog.
func Truncate(tb testing.TB, db *sql.DB) {
	tb.Helper()
	_, err := db.Exec("TRUNCATE TABLE orders, users")
	require.NoError(tb, err, "failed to truncate tables")
}
