package tally

import (
	"encoding/json"
	"time"
)

// SyncStatus is a row's reconciliation state with the remote API.
type SyncStatus string

const (
	StatusUnsynced SyncStatus = "UNSYNCED"
	StatusSynced   SyncStatus = "SYNCED"
	StatusFailed   SyncStatus = "FAILED"
)

// Row is a locally stored entity together with its sync metadata.
// A synced row always has a ServerID and a SyncedAt.
type Row struct {
	Kind      Kind
	LocalID   string
	ServerID  string // empty until the remote API has accepted the row
	Payload   json.RawMessage
	Status    SyncStatus
	SyncError string
	Deleted   bool // tombstone awaiting remote deletion
	CreatedAt time.Time
	UpdatedAt time.Time
	SyncedAt  *time.Time
}

// Entity decodes the row's payload into its concrete entity type.
func (r *Row) Entity() (SyncableEntity, error) {
	return DecodeEntity(r.Kind, r.Payload)
}

// Pending reports whether the row still needs to be pushed.
func (r *Row) Pending() bool {
	return r.Status != StatusSynced
}

// Patch describes a partial update to a row.
type Patch struct {
	// Fields are merged into the payload's top-level keys. A nil value
	// removes the key.
	Fields map[string]any

	// MarkSynced keeps the row synced instead of demoting it. Only valid for
	// rows that already have a server id, e.g. when applying server data.
	MarkSynced bool
}
