package datafs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Download writes the content of versionID (the latest when empty) to w.
func (a *Archive) Download(ctx context.Context, versionID string, w io.Writer) (*VersionRecord, error) {
	b, v, path, err := a.stage(ctx, versionID)
	if err != nil {
		return nil, err
	}
	defer b.staging.Release(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening staged content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return nil, fmt.Errorf("writing %s@%s: %w", a.record.Name, v.VersionID, err)
	}
	return v, nil
}

// DownloadFile writes the content of versionID (the latest when empty) to
// dest. dest is replaced atomically.
func (a *Archive) DownloadFile(ctx context.Context, versionID, dest string) (*VersionRecord, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".datafs-download-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	v, err := a.Download(ctx, versionID, tmp)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, fmt.Errorf("moving download into place: %w", err)
	}

	success = true
	return v, nil
}

// stage resolves versionID and fetches a verified staged copy of it.
func (a *Archive) stage(ctx context.Context, versionID string) (*binding, *VersionRecord, string, error) {
	b, err := a.session.bind()
	if err != nil {
		return nil, nil, "", err
	}
	h, err := a.history(ctx, b)
	if err != nil {
		return nil, nil, "", err
	}
	v, err := a.resolve(h, versionID)
	if err != nil {
		return nil, nil, "", err
	}
	path, err := a.fetch(ctx, b, v)
	if err != nil {
		return nil, nil, "", err
	}
	return b, v, path, nil
}
