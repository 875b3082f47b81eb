package datafs

import (
	"context"
	"io"
)

// Key addresses one blob: the content of a version of an archive.
type Key struct {
	Archive  string
	Version  string
	Checksum string // hex digest of the content; empty for bare version keys
}

// Object returns the blob's name within its archive: the version, suffixed
// with the checksum when one is set. Uploads of different content for the
// same version id therefore never share an object.
func (k Key) Object() string {
	if k.Checksum == "" {
		return k.Version
	}
	return k.Version + "-" + k.Checksum
}

// versionKey addresses the committed content of v.
func versionKey(archive string, v *VersionRecord) Key {
	return Key{Archive: archive, Version: v.VersionID, Checksum: v.Checksum}
}

func (k Key) String() string {
	return k.Archive + "@" + k.Version
}

// Authority is a blob storage backend. Implementations offer no ordering or
// transactional guarantees relative to each other; the archive controller
// handles cross-authority consistency.
// All operations stream through io.Reader so large blobs are never held in memory.
type Authority interface {
	// Store writes the content read from r under key, replacing any previous content.
	Store(ctx context.Context, key Key, r io.Reader) error

	// Fetch opens the content stored under key. Returns ErrNotFound if absent.
	// The caller must close the returned reader.
	Fetch(ctx context.Context, key Key) (io.ReadCloser, error)

	// Exists reports whether content is stored under key.
	Exists(ctx context.Context, key Key) (bool, error)

	// Delete removes the content stored under key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
}
