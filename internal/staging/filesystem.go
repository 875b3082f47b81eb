package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"datafs-go/internal/datafs"
)

// ErrFull is returned when staging content would exceed the configured maximum size.
var ErrFull = errors.New("staging area full")

// FileSystemStagingArea stages content as files in a single directory:
//
//	<staging_dir>/
//	  <id>.stage    (one file per in-flight operation)
//
// Each file is owned by exactly one caller until released. The total size
// of staged content is bounded by maxSize when it is positive.
type FileSystemStagingArea struct {
	dir     string
	maxSize int64
	idgen   datafs.IDGenerator
	temp    bool

	mu    sync.Mutex
	files map[string]int64 // path -> bytes staged by Stage
	total int64
}

// NewFileSystemStagingArea creates a staging area in dir. maxSize <= 0 means unbounded.
func NewFileSystemStagingArea(dir string, maxSize int64, idgen datafs.IDGenerator) (*FileSystemStagingArea, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	if idgen == nil {
		idgen = datafs.UUIDGenerator{}
	}
	return &FileSystemStagingArea{
		dir:     dir,
		maxSize: maxSize,
		idgen:   idgen,
		files:   make(map[string]int64),
	}, nil
}

// NewTempStagingArea creates an unbounded staging area in a fresh directory under the OS temp dir.
func NewTempStagingArea() (*FileSystemStagingArea, error) {
	dir, err := os.MkdirTemp("", "datafs-staging-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	sa, err := NewFileSystemStagingArea(dir, 0, nil)
	if err != nil {
		return nil, err
	}
	sa.temp = true
	return sa, nil
}

// Close removes the directory of a temp staging area. Other staging areas
// are left in place.
func (s *FileSystemStagingArea) Close() error {
	if !s.temp {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// Dir returns the staging directory.
func (s *FileSystemStagingArea) Dir() string { return s.dir }

// Create returns a new empty staged file.
func (s *FileSystemStagingArea) Create() (*os.File, error) {
	path := filepath.Join(s.dir, s.idgen.New()+".stage")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating staged file: %w", err)
	}

	s.mu.Lock()
	s.files[path] = 0
	s.mu.Unlock()
	return f, nil
}

// Stage copies r into a new staged file.
func (s *FileSystemStagingArea) Stage(r io.Reader) (string, int64, error) {
	f, err := s.Create()
	if err != nil {
		return "", 0, err
	}
	path := f.Name()

	success := false
	defer func() {
		if !success {
			s.Release(path)
		}
	}()

	src := r
	var budget int64
	if s.maxSize > 0 {
		s.mu.Lock()
		budget = s.maxSize - s.total
		s.mu.Unlock()
		if budget < 0 {
			budget = 0
		}
		// One extra byte tells an exact fit from an overflow.
		src = io.LimitReader(r, budget+1)
	}

	written, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		return "", 0, fmt.Errorf("failed to write staged content: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close staged file: %w", err)
	}
	if s.maxSize > 0 && written > budget {
		return "", 0, fmt.Errorf("%w: would exceed max size of %d bytes", ErrFull, s.maxSize)
	}

	s.mu.Lock()
	s.files[path] = written
	s.total += written
	s.mu.Unlock()

	success = true
	return path, written, nil
}

// Release deletes a staged file.
func (s *FileSystemStagingArea) Release(path string) error {
	s.mu.Lock()
	if size, ok := s.files[path]; ok {
		s.total -= size
		delete(s.files, path)
	}
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staged file: %w", err)
	}
	return nil
}

// Count returns the number of files currently staged.
func (s *FileSystemStagingArea) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Size returns the total bytes staged through Stage.
func (s *FileSystemStagingArea) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Compile-time check that FileSystemStagingArea implements datafs.StagingArea interface
var _ datafs.StagingArea = (*FileSystemStagingArea)(nil)
