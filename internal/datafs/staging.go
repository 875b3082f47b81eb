package datafs

import (
	"io"
	"os"
)

// StagingArea hands out local files exclusively owned by one operation:
// content being hashed before upload, fetched bytes being verified, open
// handles and checkouts. Every staged file must be released by its owner.
type StagingArea interface {
	// Stage copies r into a new staged file and returns its path and size.
	Stage(r io.Reader) (path string, size int64, err error)

	// Create returns a new, empty staged file opened for reading and writing.
	Create() (*os.File, error)

	// Release deletes a staged file. Releasing a path twice is not an error.
	Release(path string) error
}
