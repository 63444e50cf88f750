package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"tally-go/internal/tally"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It keeps one snapshot per device, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	snapshot map[string][]byte // deviceID -> snapshot
	version  map[string]int64  // deviceID -> version
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		snapshot: make(map[string][]byte),
		version:  make(map[string]int64),
	}
}

// Name returns the vault's configured name.
func (m *MemoryVault) Name() string {
	return m.name
}

// PutSnapshot stores the snapshot for a device, replacing the previous one.
func (m *MemoryVault) PutSnapshot(deviceID string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot[deviceID] = data
	m.version[deviceID] = version
	return nil
}

// GetSnapshot writes the stored snapshot for a device to w.
func (m *MemoryVault) GetSnapshot(deviceID string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshot[deviceID]
	if !ok {
		return fmt.Errorf("snapshot not found for device: %s", deviceID)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the stored version for a device, or 0 if none.
func (m *MemoryVault) SnapshotVersion(deviceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.version[deviceID], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements tally.Vault interface
var _ tally.Vault = (*MemoryVault)(nil)
