package encryption

import (
	"bytes"
	"fmt"
	"io"

	"modidx/internal/modidx"
)

// plaintextHeader marks output of PlaintextEncryptor.
var plaintextHeader = []byte("MODIDX\x00\x00")

// PlaintextEncryptor frames data with a fixed header instead of encrypting
// it. It needs no keys and is selected with encryption type "test".
type PlaintextEncryptor struct{}

var _ modidx.Encryptor = (*PlaintextEncryptor)(nil)

// NewPlaintextEncryptor creates a PlaintextEncryptor.
func NewPlaintextEncryptor() *PlaintextEncryptor {
	return &PlaintextEncryptor{}
}

func (*PlaintextEncryptor) Setup(string) error { return nil }

func (*PlaintextEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(plaintextHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (*PlaintextEncryptor) Unlock(string) (modidx.DecryptionContext, error) {
	return plaintextContext{}, nil
}

func (*PlaintextEncryptor) IsConfigured() bool { return true }

type plaintextContext struct{}

func (plaintextContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(plaintextHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, plaintextHeader) {
		return fmt.Errorf("invalid snapshot header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
