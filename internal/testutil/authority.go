package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"

	"datafs-go/internal/authority"
	"datafs-go/internal/datafs"
)

// ErrInjected is the error returned by FailingAuthority.
var ErrInjected = errors.New("injected failure")

// NewTestAuthority returns an empty in-memory authority.
func NewTestAuthority() *authority.Memory {
	return authority.NewMemory()
}

// FailingAuthority wraps an authority and fails the selected operations with ErrInjected.
type FailingAuthority struct {
	datafs.Authority
	FailStore  bool
	FailFetch  bool
	FailDelete bool
}

// NewFailingAuthority returns an authority that fails every operation.
func NewFailingAuthority() *FailingAuthority {
	return &FailingAuthority{Authority: authority.NewMemory(), FailStore: true, FailFetch: true, FailDelete: true}
}

func (a *FailingAuthority) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	if a.FailStore {
		return ErrInjected
	}
	return a.Authority.Store(ctx, key, r)
}

func (a *FailingAuthority) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	if a.FailFetch {
		return nil, ErrInjected
	}
	return a.Authority.Fetch(ctx, key)
}

func (a *FailingAuthority) Delete(ctx context.Context, key datafs.Key) error {
	if a.FailDelete {
		return ErrInjected
	}
	return a.Authority.Delete(ctx, key)
}

// CountingAuthority wraps an authority and counts calls per operation.
type CountingAuthority struct {
	datafs.Authority
	Stores  atomic.Int64
	Fetches atomic.Int64
	Deletes atomic.Int64
}

func NewCountingAuthority(inner datafs.Authority) *CountingAuthority {
	return &CountingAuthority{Authority: inner}
}

func (a *CountingAuthority) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	a.Stores.Add(1)
	return a.Authority.Store(ctx, key, r)
}

func (a *CountingAuthority) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	a.Fetches.Add(1)
	return a.Authority.Fetch(ctx, key)
}

func (a *CountingAuthority) Delete(ctx context.Context, key datafs.Key) error {
	a.Deletes.Add(1)
	return a.Authority.Delete(ctx, key)
}

// SlowAuthority blocks Store and Fetch until the context is done.
type SlowAuthority struct {
	datafs.Authority
}

func NewSlowAuthority() *SlowAuthority {
	return &SlowAuthority{Authority: authority.NewMemory()}
}

func (a *SlowAuthority) Store(ctx context.Context, key datafs.Key, r io.Reader) error {
	<-ctx.Done()
	return ctx.Err()
}

func (a *SlowAuthority) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// CorruptingAuthority stores content intact but flips the first byte of
// everything it returns from Fetch.
type CorruptingAuthority struct {
	datafs.Authority
}

func NewCorruptingAuthority() *CorruptingAuthority {
	return &CorruptingAuthority{Authority: authority.NewMemory()}
}

func (a *CorruptingAuthority) Fetch(ctx context.Context, key datafs.Key) (io.ReadCloser, error) {
	rc, err := a.Authority.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		data = []byte{0}
	} else {
		data[0] ^= 0xff
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
