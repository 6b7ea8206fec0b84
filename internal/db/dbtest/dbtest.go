// Package dbtest opens throwaway in-memory databases for repository tests.
package dbtest

import (
	"context"
	"testing"

	"crisisflow/internal/db"

	"github.com/stretchr/testify/require"
)

// New returns a migrated in-memory SQLite database that is closed when the test ends.
func New(t *testing.T) *db.Database {
	t.Helper()

	database, err := db.NewDatabase(db.DriverSQLite, "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.AutoMigrate(context.Background()))
	return database
}
