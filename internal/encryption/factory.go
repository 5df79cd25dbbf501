package encryption

import (
	"fmt"

	"bml-go/internal/bml"
	"bml-go/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (bml.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return NoneEncryptor{}, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// RequiresPassphrase reports whether restoring an archive written by enc
// needs the user's passphrase.
func RequiresPassphrase(enc bml.Encryptor) bool {
	_, ok := enc.(*AgeEncryptor)
	return ok
}
