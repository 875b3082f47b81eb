package authority

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"datafs-go/internal/datafs"
)

// Memory is an in-memory Authority. It is safe for concurrent use and is
// mostly useful in tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[datafs.Key][]byte
}

// NewMemory creates an empty in-memory authority.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[datafs.Key][]byte)}
}

// Store reads r fully and keeps the bytes under key, replacing any previous blob.
func (m *Memory) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return nil
}

// Fetch returns the blob stored under key.
func (m *Memory) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, datafs.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether a blob is stored under key.
func (m *Memory) Exists(ctx context.Context, key datafs.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// Delete drops the blob stored under key, if any.
func (m *Memory) Delete(ctx context.Context, key datafs.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Compile-time check that Memory implements datafs.Authority
var _ datafs.Authority = (*Memory)(nil)
