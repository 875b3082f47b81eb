package datafs

import (
	"context"
	"fmt"

	"datafs-go/internal/checksum"
)

// Checkout is the latest version materialized as a local file for editing
// by external tools. Commit versions the file if it changed; Close deletes it.
type Checkout struct {
	archive *Archive
	path    string
	staging StagingArea
	opts    UpdateOptions

	algorithm string
	base      string // checksum of the content as checked out
	closed    bool
}

// Checkout stages the latest version (an empty file for an empty archive).
// opts are applied when the checkout is committed.
func (a *Archive) Checkout(ctx context.Context, opts UpdateOptions) (*Checkout, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, err
	}
	f, _, err := a.stageWritable(ctx, b, true)
	if err != nil {
		return nil, err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		b.staging.Release(path)
		return nil, fmt.Errorf("closing staged file: %w", err)
	}

	h, err := a.history(ctx, b)
	if err != nil {
		b.staging.Release(path)
		return nil, err
	}
	eng, err := a.engineFor(b, h)
	if err != nil {
		b.staging.Release(path)
		return nil, err
	}
	base, err := eng.SumFile(path)
	if err != nil {
		b.staging.Release(path)
		return nil, err
	}

	return &Checkout{
		archive:   a,
		path:      path,
		staging:   b.staging,
		opts:      opts,
		algorithm: eng.Algorithm(),
		base:      base,
	}, nil
}

// Path returns the local file path. Valid until Close.
func (c *Checkout) Path() string { return c.path }

// Commit re-hashes the file and runs the update protocol if it changed.
func (c *Checkout) Commit(ctx context.Context) (*UpdateResult, error) {
	if c.closed {
		return nil, fmt.Errorf("checkout of %s is closed", c.archive.Name())
	}
	eng, err := checksum.New(c.algorithm)
	if err != nil {
		return nil, err
	}
	sum, err := eng.SumFile(c.path)
	if err != nil {
		return nil, err
	}
	if sum == c.base {
		latest := ""
		if v, err := c.archive.Latest(ctx); err == nil {
			latest = v.VersionID
		}
		return &UpdateResult{VersionID: latest, Checksum: sum, Algorithm: c.algorithm, Previous: latest}, nil
	}

	res, err := c.archive.UpdateFile(ctx, c.path, c.opts)
	if err != nil {
		return nil, err
	}
	c.base = res.Checksum
	return res, nil
}

// Close deletes the local file. It is safe to call more than once.
func (c *Checkout) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.staging.Release(c.path)
}

// WithLocalPath checks out the latest version, calls fn with its local path
// and commits the result if fn succeeds. The local file is removed on every
// exit path, including a panic in fn.
func (a *Archive) WithLocalPath(ctx context.Context, opts UpdateOptions, fn func(path string) error) (*UpdateResult, error) {
	co, err := a.Checkout(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer co.Close()

	if err := fn(co.Path()); err != nil {
		return nil, err
	}
	return co.Commit(ctx)
}
