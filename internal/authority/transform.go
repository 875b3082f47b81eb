package authority

import (
	"context"
	"io"

	"datafs-go/internal/datafs"
)

// pipeStore streams r through an encoding writer into inner.Store.
func pipeStore(ctx context.Context, inner datafs.Authority, key datafs.Key, r io.Reader, encode func(io.Writer) (io.WriteCloser, error)) error {
	pr, pw := io.Pipe()
	go func() {
		enc, err := encode(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(enc, r); err != nil {
			enc.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(enc.Close())
	}()

	err := inner.Store(ctx, key, pr)
	// Unblocks the encoder if Store returned without draining the pipe.
	pr.CloseWithError(io.ErrClosedPipe)
	return err
}

// decodedReader closes both the decoder and the underlying blob.
type decodedReader struct {
	io.Reader
	closeFns []func() error
}

func (d *decodedReader) Close() error {
	var first error
	for _, fn := range d.closeFns {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
