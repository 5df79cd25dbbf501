package testutil

import (
	"testing"

	"bml-go/internal/database"
	"bml-go/internal/database/migrations"
)

// NewTestDatabase creates a new in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB, ":memory:")

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
