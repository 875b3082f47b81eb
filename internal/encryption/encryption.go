// Package encryption seals blob content for encrypted authorities.
// Encryption needs only the public key; decryption needs the private key,
// which is stored encrypted under the user's passphrase.
package encryption

import (
	"fmt"
	"io"
)

// Encryptor produces ciphertext streams.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `datafs config init`.
	Setup(passphrase string) error

	// EncryptWriter returns a writer that encrypts everything written to it
	// into w. The ciphertext is complete only after Close.
	EncryptWriter(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key with the passphrase.
	Unlock(passphrase string) (Decryptor, error)

	// IsConfigured reports whether key material exists.
	IsConfigured() bool
}

// Decryptor holds an unlocked private key in memory for the lifetime of a session.
type Decryptor interface {
	// DecryptReader returns a reader yielding the plaintext of r.
	DecryptReader(r io.Reader) (io.Reader, error)
}

// Encrypt copies r through e into w.
func Encrypt(e Encryptor, r io.Reader, w io.Writer) error {
	ew, err := e.EncryptWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(ew, r); err != nil {
		ew.Close()
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt copies the plaintext of r into w.
func Decrypt(d Decryptor, r io.Reader, w io.Writer) error {
	pr, err := d.DecryptReader(r)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, pr); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
