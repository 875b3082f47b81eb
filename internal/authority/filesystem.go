package authority

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"datafs-go/internal/datafs"
)

// FileSystem is an Authority that keeps blobs as plain files:
//
//	<root>/
//	  <archive>/
//	    <version>-<checksum>   (one file per uploaded content, written atomically)
//
// Path components are URL path-escaped.
type FileSystem struct {
	root string
	temp bool
}

// NewFileSystem creates a filesystem authority rooted at root, creating the directory if needed.
func NewFileSystem(root string) (*FileSystem, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem authority requires a root directory")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create authority root: %w", err)
	}
	return &FileSystem{root: root}, nil
}

// NewTemp creates a filesystem authority in a fresh temporary directory.
// Close removes the directory and everything stored in it.
func NewTemp() (*FileSystem, error) {
	dir, err := os.MkdirTemp("", "datafs-authority-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp authority: %w", err)
	}
	return &FileSystem{root: dir, temp: true}, nil
}

// Root returns the root directory.
func (f *FileSystem) Root() string { return f.root }

func (f *FileSystem) path(key datafs.Key) string {
	return filepath.Join(f.root, url.PathEscape(key.Archive), url.PathEscape(key.Object()))
}

// Store writes r to the blob file for key using a temp file and rename.
func (f *FileSystem) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	destPath := f.path(key)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Fetch opens the blob file for key.
func (f *FileSystem) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", key, datafs.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

// Exists reports whether the blob file for key exists.
func (f *FileSystem) Exists(ctx context.Context, key datafs.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", key, err)
}

// Delete removes the blob file for key and, when it was the last one, the archive directory.
func (f *FileSystem) Delete(ctx context.Context, key datafs.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := f.path(key)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	// Fails harmlessly while other versions remain.
	_ = os.Remove(filepath.Dir(p))
	return nil
}

// Close removes the root of a temporary authority. It is a no-op otherwise.
func (f *FileSystem) Close() error {
	if !f.temp {
		return nil
	}
	return os.RemoveAll(f.root)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Compile-time check that FileSystem implements datafs.Authority
var _ datafs.Authority = (*FileSystem)(nil)
