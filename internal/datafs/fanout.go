package datafs

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"datafs-go/internal/checksum"
)

// upload writes the file at path to every upload authority in parallel.
// Individual failures are collected; the fan-out fails with ErrUnavailable
// only when the replication policy is not met.
func (a *Archive) upload(ctx context.Context, b *binding, key Key, path string) ([]BackendFailure, error) {
	if len(b.upload) == 0 {
		return nil, &FanoutError{Op: "store", Key: key, Kind: ErrUnavailable}
	}

	errs := make([]error, len(b.upload))
	var g errgroup.Group
	for i, t := range b.upload {
		g.Go(func() error {
			errs[i] = storeFile(ctx, b, t.authority, key, path)
			if errs[i] != nil {
				b.logger.Warn("authority store failed", "authority", t.name, "key", key.String(), "error", errs[i])
			} else {
				b.logger.Debug("authority store succeeded", "authority", t.name, "key", key.String())
			}
			// Never abort the group: the remaining authorities still get their write.
			return nil
		})
	}
	_ = g.Wait()

	var failures []BackendFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, BackendFailure{Backend: b.upload[i].name, Err: err})
		}
	}

	ok := len(failures) < len(b.upload)
	if b.replication == ReplicateAll {
		ok = len(failures) == 0
	}
	if !ok {
		return failures, &FanoutError{Op: "store", Key: key, Kind: ErrUnavailable, Failures: failures}
	}
	return failures, nil
}

func storeFile(ctx context.Context, b *binding, auth Authority, key Key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening staged content: %w", err)
	}
	defer f.Close()

	cctx, cancel := b.call(ctx)
	defer cancel()
	return auth.Store(cctx, key, f)
}

// populateCache copies the file at path into the cache tier. Failures are logged and ignored.
func (a *Archive) populateCache(ctx context.Context, b *binding, key Key, path string) {
	if b.cache == nil {
		return
	}
	if err := storeFile(ctx, b, b.cache, key, path); err != nil {
		b.logger.Debug("cache populate failed", "key", key.String(), "error", err)
	}
}

// fetch stages a verified copy of version v. The cache is tried first, then
// each download authority in priority order. The caller must release the
// returned path.
func (a *Archive) fetch(ctx context.Context, b *binding, v *VersionRecord) (string, error) {
	if err := b.requireStaging(); err != nil {
		return "", err
	}
	key := versionKey(a.record.Name, v)

	if b.cache != nil {
		path, err := fetchVerified(ctx, b, b.cache, key, v)
		if err == nil {
			b.logger.Debug("served from cache", "key", key.String())
			return path, nil
		}
		b.logger.Debug("cache miss", "key", key.String(), "error", err)
	}

	var failures []BackendFailure
	for _, t := range b.download {
		path, err := fetchVerified(ctx, b, t.authority, key, v)
		if err != nil {
			b.logger.Warn("authority fetch failed", "authority", t.name, "key", key.String(), "error", err)
			failures = append(failures, BackendFailure{Backend: t.name, Err: err})
			continue
		}
		a.populateCache(ctx, b, key, path)
		return path, nil
	}
	return "", &FanoutError{Op: "fetch", Key: key, Kind: ErrUnavailable, Failures: failures}
}

// fetchVerified stages the blob under key and checks it against the recorded checksum.
func fetchVerified(ctx context.Context, b *binding, auth Authority, key Key, v *VersionRecord) (string, error) {
	eng, err := checksum.New(v.ChecksumAlgorithm)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackendUnsupported, err)
	}

	cctx, cancel := b.call(ctx)
	defer cancel()

	rc, err := auth.Fetch(cctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	hasher := eng.NewHash()
	path, _, err := b.staging.Stage(io.TeeReader(rc, hasher))
	if err != nil {
		return "", fmt.Errorf("staging fetched content: %w", err)
	}
	if got := eng.Encode(hasher); got != v.Checksum {
		_ = b.staging.Release(path)
		return "", fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, v.Checksum)
	}
	return path, nil
}
