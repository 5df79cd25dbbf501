package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"bml-go/internal/bml"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It keeps every archived item in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	items    map[string][]byte // "storeID/name" -> archive bytes
	versions map[string]int64  // "storeID/name" -> version
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		items:    make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// itemKey returns the map key for a store/name pair.
func itemKey(storeID, name string) string {
	return storeID + "/" + name
}

// PutMetadata stores a named item for a specific store.
func (m *MemoryVault) PutMetadata(storeID string, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(storeID, name)
	m.items[key] = data
	m.versions[key] = version
	return nil
}

// GetMetadataVersion returns the version of a named item.
// Returns 0 if nothing has been stored for this store/name.
func (m *MemoryVault) GetMetadataVersion(storeID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[itemKey(storeID, name)], nil
}

// GetMetadata retrieves a named item for a specific store.
func (m *MemoryVault) GetMetadata(storeID string, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.items[itemKey(storeID, name)]
	if !ok {
		return fmt.Errorf("%q not found for store %s: %w", name, storeID, bml.ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements bml.Vault interface
var _ bml.Vault = (*MemoryVault)(nil)
