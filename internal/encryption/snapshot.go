package encryption

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"modidx/internal/modidx"
)

// EncryptFile writes an encrypted copy of src to dst.
func EncryptFile(enc modidx.Encryptor, src, dst string) error {
	return transform(src, dst, enc.Encrypt)
}

// DecryptFile writes the plaintext of the encrypted file src to dst.
func DecryptFile(dc modidx.DecryptionContext, src, dst string) error {
	return transform(src, dst, dc.Decrypt)
}

// transform streams src through fn into a temporary file next to dst and
// renames it into place once fn succeeds.
func transform(src, dst string, fn func(io.Reader, io.Writer) error) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	if err := fn(in, out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("moving into place: %w", err)
	}
	return nil
}
