package authority

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"datafs-go/internal/datafs"
)

// Compressed stores zstd-compressed blobs in an inner Authority and
// decompresses them on fetch.
type Compressed struct {
	inner datafs.Authority
	level zstd.EncoderLevel
}

// NewCompressed wraps inner with zstd compression at the default level.
func NewCompressed(inner datafs.Authority) *Compressed {
	return &Compressed{inner: inner, level: zstd.SpeedDefault}
}

// Store compresses r into the inner authority.
func (c *Compressed) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	return pipeStore(ctx, c.inner, key, r, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
	})
}

// Fetch returns the decompressed blob.
func (c *Compressed) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	rc, err := c.inner.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(rc, zstd.WithDecoderConcurrency(1))
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("creating zstd decoder for %s: %w", key, err)
	}
	return &decodedReader{
		Reader: dec,
		closeFns: []func() error{
			func() error { dec.Close(); return nil },
			rc.Close,
		},
	}, nil
}

func (c *Compressed) Exists(ctx context.Context, key datafs.Key) (bool, error) {
	return c.inner.Exists(ctx, key)
}

func (c *Compressed) Delete(ctx context.Context, key datafs.Key) error {
	return c.inner.Delete(ctx, key)
}

// Compile-time check that Compressed implements datafs.Authority
var _ datafs.Authority = (*Compressed)(nil)
