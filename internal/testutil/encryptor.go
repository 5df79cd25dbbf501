package testutil

import (
	"bml-go/internal/bml"
	"bml-go/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() bml.Encryptor {
	return encryption.NewTestEncryptor()
}
