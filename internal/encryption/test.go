package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader marks content sealed by TestEncryptor.
var testHeader = []byte("DATAFS\x00\x01")

// TestEncryptor is a deterministic, reversible stand-in for tests: it
// prepends a fixed header on encryption and strips it on decryption, so
// ciphertext differs from plaintext without any key material.
type TestEncryptor struct {
	setupCalled bool
}

var _ Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) EncryptWriter(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(testHeader); err != nil {
		return nil, fmt.Errorf("writing test header: %w", err)
	}
	return nopWriteCloser{w}, nil
}

func (e *TestEncryptor) Unlock(passphrase string) (Decryptor, error) {
	return TestDecryptor{}, nil
}

func (e *TestEncryptor) IsConfigured() bool { return true }

// TestDecryptor strips the header added by TestEncryptor.
type TestDecryptor struct{}

func (TestDecryptor) DecryptReader(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
