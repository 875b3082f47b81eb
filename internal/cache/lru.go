// Package cache implements the cache tier consulted before any authority on read.
package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"datafs-go/internal/datafs"
)

// ErrTooLarge is returned by LRU.Store for blobs above the size limit. Such
// blobs are not cached.
var ErrTooLarge = errors.New("blob too large to cache")

// DefaultSize is the number of blobs an LRU keeps when no size is configured.
const DefaultSize = 128

// LRU is a memory-based least-recently-used cache. It satisfies
// datafs.Authority so the session can treat it as the first read source.
type LRU struct {
	c           *lru.Cache // datafs.Key -> []byte
	maxBlobSize int64

	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRU produces an LRU caching up to size blobs of at most maxBlobSize
// bytes each. A maxBlobSize of 0 means no per-blob limit.
func NewLRU(size int, maxBlobSize int64) (*LRU, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	return &LRU{c: c, maxBlobSize: maxBlobSize}, nil
}

// Store caches the content of r under key.
func (l *LRU) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	src := r
	if l.maxBlobSize > 0 {
		src = io.LimitReader(r, l.maxBlobSize+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("reading blob %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.maxBlobSize > 0 && int64(len(data)) > l.maxBlobSize {
		// A stale smaller entry must not shadow the new content.
		l.c.Remove(key)
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, key, l.maxBlobSize)
	}
	l.c.Add(key, data)
	return nil
}

// Fetch returns the cached blob for key.
func (l *LRU) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := l.c.Get(key)
	if !ok {
		l.misses.Add(1)
		return nil, fmt.Errorf("cache entry %s: %w", key, datafs.ErrNotFound)
	}
	l.hits.Add(1)
	return io.NopCloser(bytes.NewReader(v.([]byte))), nil
}

// Exists reports whether key is cached without touching its recency.
func (l *LRU) Exists(ctx context.Context, key datafs.Key) (bool, error) {
	return l.c.Contains(key), ctx.Err()
}

// Delete evicts key.
func (l *LRU) Delete(ctx context.Context, key datafs.Key) error {
	l.c.Remove(key)
	return nil
}

// Len returns the number of cached blobs.
func (l *LRU) Len() int { return l.c.Len() }

// Stats returns the hit and miss counts since creation.
func (l *LRU) Stats() (hits, misses int64) {
	return l.hits.Load(), l.misses.Load()
}

var _ datafs.Authority = (*LRU)(nil)
