package testutil

import (
	"bml-go/internal/vault"
)

// NewTestVault creates a new in-memory archive vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}
