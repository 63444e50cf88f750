package tally

import "io"

// Vault stores encrypted snapshots of the local store, one per device.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// PutSnapshot stores a snapshot for deviceID, replacing any previous one.
	// size is the number of bytes that will be read from r. version is
	// stored alongside the snapshot.
	PutSnapshot(deviceID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the stored snapshot for deviceID to w.
	GetSnapshot(deviceID string, w io.Writer) error

	// SnapshotVersion returns the stored snapshot's version, or 0 if none.
	SnapshotVersion(deviceID string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
