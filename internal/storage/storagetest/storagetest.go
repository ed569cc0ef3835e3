// Package storagetest opens migrated throwaway databases for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/medz/medz4/internal/storage"
	"github.com/stretchr/testify/require"
)

// NewDB returns a migrated SQLite database in a temp directory, closed on cleanup.
func NewDB(t testing.TB) *storage.DB {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}
