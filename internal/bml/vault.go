package bml

import "io"

// Vault stores archived copies of the provenance database.
// Content is streamed through io.Reader/io.Writer so large stores are never
// held in memory.
type Vault interface {
	// PutMetadata stores a named item for a specific store.
	// size is the number of bytes that will be read from r.
	// version is stored alongside the item for consistency checks.
	// Known names: "db" (the SQLite archive).
	PutMetadata(storeID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named item for a store and writes it to w.
	GetMetadata(storeID string, name string, w io.Writer) error

	// GetMetadataVersion returns the version of a named item.
	// Returns 0 if nothing has been stored for this store/name.
	GetMetadataVersion(storeID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
