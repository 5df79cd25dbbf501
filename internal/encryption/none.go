package encryption

import (
	"io"

	"bml-go/internal/bml"
)

// NoneEncryptor archives the store in plaintext. It is the default for a
// local filesystem vault, where the archive never leaves the machine.
type NoneEncryptor struct{}

var _ bml.Encryptor = NoneEncryptor{}

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (NoneEncryptor) Unlock(string) (bml.DecryptionContext, error) {
	return plainContext{}, nil
}

func (NoneEncryptor) IsConfigured() bool { return true }

type plainContext struct{}

func (plainContext) Decrypt(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
