package testutil

import (
	"context"
	"testing"

	"modidx/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations
// and the file index schema applied. The database is automatically closed
// when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(database.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Initialize(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to initialize database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
