package datafs

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// Archive is the controller for one named archive. It holds no mutable
// state of its own: history lives in the manager and every mutation goes
// through the manager's atomic append.
type Archive struct {
	session *Session
	record  *ArchiveRecord
}

// Name returns the archive name.
func (a *Archive) Name() string { return a.record.Name }

// Versioned reports whether updates without a version hint bump the patch component.
func (a *Archive) Versioned() bool { return a.record.Versioned }

// Owner returns the creator's username.
func (a *Archive) Owner() string { return a.record.Owner }

// Record returns a copy of the archive record as it was when the archive was looked up.
func (a *Archive) Record() *ArchiveRecord { return a.record.Clone() }

func (a *Archive) String() string {
	return fmt.Sprintf("<Archive %s>", a.record.Name)
}

func (a *Archive) history(ctx context.Context, b *binding) (History, error) {
	cctx, cancel := b.call(ctx)
	defer cancel()
	h, err := b.manager.GetHistory(cctx, a.record.Name)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", a.record.Name, err)
	}
	return History(h), nil
}

// GetHistory returns every version in append order.
func (a *Archive) GetHistory(ctx context.Context) (History, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, err
	}
	return a.history(ctx, b)
}

// GetVersions returns every version id in append order.
func (a *Archive) GetVersions(ctx context.Context) ([]string, error) {
	h, err := a.GetHistory(ctx)
	if err != nil {
		return nil, err
	}
	return h.Versions(), nil
}

// Latest returns the most recently appended version.
// Returns ErrNotFound if the archive has no versions.
func (a *Archive) Latest(ctx context.Context) (*VersionRecord, error) {
	return a.Version(ctx, "")
}

// Version returns the record for versionID, or the latest when versionID is empty.
func (a *Archive) Version(ctx context.Context, versionID string) (*VersionRecord, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, err
	}
	h, err := a.history(ctx, b)
	if err != nil {
		return nil, err
	}
	return a.resolve(h, versionID)
}

func (a *Archive) resolve(h History, versionID string) (*VersionRecord, error) {
	if versionID == "" {
		if t := h.Tail(); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("archive %s has no versions: %w", a.record.Name, ErrNotFound)
	}
	v, ok := h.Find(versionID)
	if !ok {
		return nil, fmt.Errorf("version %s of %s: %w", versionID, a.record.Name, ErrNotFound)
	}
	return v, nil
}

// GetDependencies returns the dependency pins recorded on versionID
// (the latest version when empty). The pins are returned as stored and
// are never re-resolved against the referenced archives.
func (a *Archive) GetDependencies(ctx context.Context, versionID string) (map[string]string, error) {
	v, err := a.Version(ctx, versionID)
	if err != nil {
		return nil, err
	}
	deps := maps.Clone(v.Dependencies)
	if deps == nil {
		deps = map[string]string{}
	}
	return deps, nil
}

// GetMetadata returns the archive-level metadata.
func (a *Archive) GetMetadata(ctx context.Context) (map[string]any, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, err
	}
	cctx, cancel := b.call(ctx)
	defer cancel()
	rec, err := b.manager.GetArchive(cctx, a.record.Name)
	if err != nil {
		return nil, fmt.Errorf("reading metadata of %s: %w", a.record.Name, err)
	}
	if rec.Metadata == nil {
		return map[string]any{}, nil
	}
	return rec.Metadata, nil
}

// UpdateMetadata merges patch into the archive metadata, or replaces it when replace is true.
func (a *Archive) UpdateMetadata(ctx context.Context, patch map[string]any, replace bool) error {
	b, err := a.session.bind()
	if err != nil {
		return err
	}
	cctx, cancel := b.call(ctx)
	defer cancel()
	if err := b.manager.UpdateMetadata(cctx, a.record.Name, patch, replace); err != nil {
		return fmt.Errorf("updating metadata of %s: %w", a.record.Name, err)
	}
	b.logger.Info("metadata updated", "archive", a.record.Name, "keys", len(patch), "replace", replace)
	return nil
}

// Delete removes the archive record and its history from the manager, then
// deletes its blobs from every attached authority and the cache. Blob
// deletion is best-effort: failures are logged, not returned.
func (a *Archive) Delete(ctx context.Context) error {
	b, err := a.session.bind()
	if err != nil {
		return err
	}
	name := a.record.Name

	h, err := a.history(ctx, b)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	cctx, cancel := b.call(ctx)
	err = b.manager.DeleteArchive(cctx, name)
	cancel()
	if err != nil {
		return fmt.Errorf("deleting archive %s: %w", name, err)
	}

	targets := b.all
	if b.cache != nil {
		targets = append(targets, namedAuthority{name: "cache", authority: b.cache})
	}
	for _, v := range h {
		key := versionKey(name, v)
		for _, t := range targets {
			cctx, cancel := b.call(ctx)
			if err := t.authority.Delete(cctx, key); err != nil {
				b.logger.Warn("blob delete failed", "authority", t.name, "key", key.String(), "error", err)
			}
			cancel()
		}
	}

	b.logger.Info("archive deleted", "archive", name, "versions", len(h))
	return nil
}
