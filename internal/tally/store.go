package tally

import (
	"context"
	"time"
)

// Store is the local persistent store for entity rows. It owns all row
// storage; the sync engine only reads and writes rows through it.
//
// Mutations set UpdatedAt from the store's clock and never move it backwards.
type Store interface {
	// Insert validates entity and stores it as a new UNSYNCED row.
	Insert(ctx context.Context, entity SyncableEntity) (*Row, error)

	// Get returns a live row. Tombstones are reported as ErrNotFound.
	Get(ctx context.Context, kind Kind, localID string) (*Row, error)

	// Update merges patch into a live row and demotes it to UNSYNCED unless
	// patch.MarkSynced is set.
	Update(ctx context.Context, kind Kind, localID string, patch Patch) (*Row, error)

	// Delete removes a row that was never synced, or turns a synced row into
	// a tombstone that the next sync pass deletes remotely.
	Delete(ctx context.Context, kind Kind, localID string) error

	// ListAll returns live rows ordered by creation time.
	ListAll(ctx context.Context, kind Kind) ([]*Row, error)

	// ListUnsynced returns UNSYNCED and FAILED rows, tombstones included,
	// ordered by creation time.
	ListUnsynced(ctx context.Context, kind Kind) ([]*Row, error)

	// CountUnsynced returns the number of rows ListUnsynced would return.
	CountUnsynced(ctx context.Context, kind Kind) (int, error)

	// MarkSynced records a successful push. seen is the UpdatedAt the row had
	// when the push was issued; if the row changed since, the server id is
	// kept but the row stays UNSYNCED and ErrStaleRow is returned.
	MarkSynced(ctx context.Context, kind Kind, localID, serverID string, seen time.Time) error

	// MarkFailed records a rejected push. The server id is left untouched.
	MarkFailed(ctx context.Context, kind Kind, localID, message string) error

	// Purge physically removes a tombstone once the remote deletion succeeded.
	Purge(ctx context.Context, kind Kind, localID string) error

	// RecordSyncRun appends a sync pass to the run history and sets run.ID.
	RecordSyncRun(ctx context.Context, run *SyncRun) error

	// ListSyncRuns returns the most recent sync passes, newest first.
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error)

	// BackupTo writes a consistent snapshot of the store to destPath.
	BackupTo(destPath string) error

	Close() error
}

// SyncRun is a recorded sync pass.
type SyncRun struct {
	ID         int64
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Synced     int
	Failed     int
	Deferred   int
	Error      string
}
