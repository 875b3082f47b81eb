package datafs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"time"

	"datafs-go/internal/checksum"
)

// UpdateOptions carries the optional hints of an update.
type UpdateOptions struct {
	// Version is used verbatim as the new version id. It must sort after the latest version.
	Version string

	// Bump increments a component of the latest semantic version.
	Bump Bump

	// Dependencies pins other archives to the versions this content was produced against.
	Dependencies map[string]string

	// Metadata is stored on the new version record.
	Metadata map[string]any
}

// UpdateResult describes the outcome of an update.
type UpdateResult struct {
	VersionID string
	Checksum  string
	Algorithm string
	Previous  string // latest version id before the update, "" if none
	Changed   bool   // false when the content matched the latest version

	// Failures lists upload authorities that failed while the update still committed.
	Failures []BackendFailure
}

// Update stores the content read from r as a new version. If the content
// matches the latest version the update is a no-op and returns the latest
// version id with Changed set to false.
func (a *Archive) Update(ctx context.Context, r io.Reader, opts UpdateOptions) (*UpdateResult, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, err
	}
	if err := b.requireStaging(); err != nil {
		return nil, err
	}

	h, err := a.history(ctx, b)
	if err != nil {
		return nil, err
	}
	eng, err := a.engineFor(b, h)
	if err != nil {
		return nil, err
	}

	hasher := eng.NewHash()
	path, size, err := b.staging.Stage(io.TeeReader(r, hasher))
	if err != nil {
		return nil, fmt.Errorf("staging content for %s: %w", a.record.Name, err)
	}
	defer func() {
		if err := b.staging.Release(path); err != nil {
			b.logger.Warn("releasing staged file failed", "path", path, "error", err)
		}
	}()

	return a.commit(ctx, b, h, path, size, eng.Algorithm(), eng.Encode(hasher), opts)
}

// UpdateFile stores the file at path as a new version. The file is read in
// place; it must not change until UpdateFile returns.
func (a *Archive) UpdateFile(ctx context.Context, path string, opts UpdateOptions) (*UpdateResult, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, err
	}
	h, err := a.history(ctx, b)
	if err != nil {
		return nil, err
	}
	eng, err := a.engineFor(b, h)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	sum, err := eng.SumFile(path)
	if err != nil {
		return nil, err
	}
	return a.commit(ctx, b, h, path, info.Size(), eng.Algorithm(), sum, opts)
}

// engineFor picks the algorithm for change detection: the latest version's
// when it is supported, so that a session default change never defeats
// the no-op check; the session default otherwise.
func (a *Archive) engineFor(b *binding, h History) (*checksum.Engine, error) {
	if t := h.Tail(); t != nil && checksum.Supported(t.ChecksumAlgorithm) {
		return checksum.New(t.ChecksumAlgorithm)
	}
	e, err := checksum.New(b.algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnsupported, err)
	}
	return e, nil
}

// commit runs the change check, version computation, upload fan-out and
// atomic append for content already available at path.
func (a *Archive) commit(ctx context.Context, b *binding, h History, path string, size int64, alg, sum string, opts UpdateOptions) (*UpdateResult, error) {
	name := a.record.Name
	tail := h.Tail()
	prev := h.TailID()

	if tail != nil && tail.Checksum == sum && tail.ChecksumAlgorithm == alg {
		b.logger.Debug("content unchanged", "archive", name, "version", tail.VersionID)
		return &UpdateResult{
			VersionID: tail.VersionID,
			Checksum:  sum,
			Algorithm: alg,
			Previous:  prev,
		}, nil
	}

	now := b.clock.Now().UTC()
	if tail != nil && !now.After(tail.CreatedAt) {
		// Keep created_at strictly increasing when the clock stalls or steps back.
		now = tail.CreatedAt.Add(time.Microsecond)
	}
	next, err := NextVersion(prev, a.record.Versioned, opts, now)
	if err != nil {
		return nil, fmt.Errorf("computing next version of %s: %w", name, err)
	}
	if _, dup := h.Find(next); dup {
		return nil, fmt.Errorf("%w: version %s already exists in %s", ErrInvalidVersion, next, name)
	}

	key := Key{Archive: name, Version: next, Checksum: sum}
	failures, err := a.upload(ctx, b, key, path)
	if err != nil {
		return nil, err
	}

	rec := &VersionRecord{
		VersionID:         next,
		Checksum:          sum,
		ChecksumAlgorithm: alg,
		CreatedAt:         now,
		CreatedBy:         b.user.Username,
		Dependencies:      maps.Clone(opts.Dependencies),
		Metadata:          CloneMetadata(opts.Metadata),
		Size:              size,
	}
	if rec.Dependencies == nil {
		rec.Dependencies = map[string]string{}
	}

	cctx, cancel := b.call(ctx)
	err = b.manager.AppendVersion(cctx, name, prev, rec)
	cancel()
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// The upload stays behind as an unreferenced blob under its own checksum.
			b.logger.Warn("version append conflicted", "archive", name, "version", next, "expected_tail", prev)
		}
		return nil, fmt.Errorf("appending version %s to %s: %w", next, name, err)
	}

	a.populateCache(ctx, b, key, path)

	if prev == "" {
		b.logger.Info("version created", "archive", name, "version", next, "checksum", sum)
	} else {
		b.logger.Info("version bumped", "archive", name, "from", prev, "to", next, "checksum", sum)
	}

	return &UpdateResult{
		VersionID: next,
		Checksum:  sum,
		Algorithm: alg,
		Previous:  prev,
		Changed:   true,
		Failures:  failures,
	}, nil
}
