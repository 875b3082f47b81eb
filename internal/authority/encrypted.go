package authority

import (
	"context"
	"fmt"
	"io"

	"datafs-go/internal/datafs"
	"datafs-go/internal/encryption"
)

// Encrypted stores ciphertext in an inner Authority. Storing needs only the
// public key; fetching needs an unlocked Decryptor.
type Encrypted struct {
	inner     datafs.Authority
	encryptor encryption.Encryptor
	decryptor encryption.Decryptor // nil until unlocked
}

// NewEncrypted wraps inner. dec may be nil, in which case Fetch fails with ErrCredentials.
func NewEncrypted(inner datafs.Authority, enc encryption.Encryptor, dec encryption.Decryptor) *Encrypted {
	return &Encrypted{inner: inner, encryptor: enc, decryptor: dec}
}

// Store encrypts r into the inner authority.
func (e *Encrypted) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	return pipeStore(ctx, e.inner, key, r, e.encryptor.EncryptWriter)
}

// Fetch returns the decrypted blob.
func (e *Encrypted) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	if e.decryptor == nil {
		return nil, fmt.Errorf("%w: encrypted authority is locked", datafs.ErrCredentials)
	}
	rc, err := e.inner.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	pr, err := e.decryptor.DecryptReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("decrypting %s: %w", key, err)
	}
	return &decodedReader{Reader: pr, closeFns: []func() error{rc.Close}}, nil
}

func (e *Encrypted) Exists(ctx context.Context, key datafs.Key) (bool, error) {
	return e.inner.Exists(ctx, key)
}

func (e *Encrypted) Delete(ctx context.Context, key datafs.Key) error {
	return e.inner.Delete(ctx, key)
}

// Compile-time check that Encrypted implements datafs.Authority
var _ datafs.Authority = (*Encrypted)(nil)
