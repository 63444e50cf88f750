package testutil

import (
	"testing"

	"tally-go/internal/database"
	"tally-go/internal/database/migrations"
	"tally-go/internal/tally"
)

// NewTestStore creates an in-memory SQLite store with migrations applied,
// using a fixed clock and sequential ids. The store is closed when the test
// completes.
func NewTestStore(t *testing.T) (*database.SQLiteStore, *StubClock) {
	t.Helper()
	clock := FixedClock()
	return NewTestStoreWithClock(t, clock), clock
}

// NewTestStoreWithClock is NewTestStore with a caller-provided clock.
func NewTestStoreWithClock(t *testing.T, clock tally.Clock) *database.SQLiteStore {
	t.Helper()

	if !database.Available() {
		t.Skip("sqlite store requires cgo")
	}
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	if err := migrations.MigrateUp(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return database.NewSQLiteStoreFromDB(db, clock, NewStubIDGenerator())
}
