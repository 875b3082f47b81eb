package datafs

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Mode selects how a Handle accesses an archive.
type Mode int

const (
	// ModeRead opens a version read-only.
	ModeRead Mode = iota
	// ModeWrite opens an empty staged file; Close commits it as a new version.
	ModeWrite
	// ModeAppend opens a staged copy of the latest version; Close commits it as a new version.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// OpenOptions configures Archive.Open.
type OpenOptions struct {
	// Version selects the version read in ModeRead. Empty means latest.
	Version string
	// Update carries the hints used when a write-mode handle is committed.
	Update UpdateOptions
}

// Handle is an open archive version backed by a staged local file.
// Write-mode handles run the update protocol on Close, using the context
// given to Open.
type Handle struct {
	archive *Archive
	mode    Mode
	file    *os.File
	staging StagingArea
	opts    UpdateOptions
	ctx     context.Context

	version *VersionRecord
	result  *UpdateResult
	closed  bool
}

// Open returns a handle on the archive.
func (a *Archive) Open(ctx context.Context, mode Mode, opts OpenOptions) (*Handle, error) {
	switch mode {
	case ModeRead:
		b, v, path, err := a.stage(ctx, opts.Version)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			b.staging.Release(path)
			return nil, fmt.Errorf("opening staged content: %w", err)
		}
		return &Handle{archive: a, mode: mode, file: f, staging: b.staging, ctx: ctx, version: v}, nil

	case ModeWrite, ModeAppend:
		b, err := a.session.bind()
		if err != nil {
			return nil, err
		}
		f, v, err := a.stageWritable(ctx, b, mode == ModeAppend)
		if err != nil {
			return nil, err
		}
		return &Handle{archive: a, mode: mode, file: f, staging: b.staging, ctx: ctx, version: v, opts: opts.Update}, nil
	}
	return nil, fmt.Errorf("unknown open mode %d", int(mode))
}

// stageWritable returns a staged file opened for writing. When withLatest
// is set it holds a copy of the latest version, positioned at the end.
func (a *Archive) stageWritable(ctx context.Context, b *binding, withLatest bool) (*os.File, *VersionRecord, error) {
	if err := b.requireStaging(); err != nil {
		return nil, nil, err
	}
	if withLatest {
		h, err := a.history(ctx, b)
		if err != nil {
			return nil, nil, err
		}
		if t := h.Tail(); t != nil {
			path, err := a.fetch(ctx, b, t)
			if err != nil {
				return nil, nil, err
			}
			f, err := os.OpenFile(path, os.O_RDWR, 0)
			if err != nil {
				b.staging.Release(path)
				return nil, nil, fmt.Errorf("opening staged content: %w", err)
			}
			if _, err := f.Seek(0, io.SeekEnd); err != nil {
				f.Close()
				b.staging.Release(path)
				return nil, nil, fmt.Errorf("seeking staged content: %w", err)
			}
			return f, t, nil
		}
	}
	f, err := b.staging.Create()
	if err != nil {
		return nil, nil, fmt.Errorf("creating staged file: %w", err)
	}
	return f, nil, nil
}

func (h *Handle) Read(p []byte) (int, error) { return h.file.Read(p) }

func (h *Handle) Write(p []byte) (int, error) {
	if h.mode == ModeRead {
		return 0, fmt.Errorf("handle on %s is read-only", h.archive.Name())
	}
	return h.file.Write(p)
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) { return h.file.Seek(offset, whence) }

// Name returns the staged file path. Valid until Close.
func (h *Handle) Name() string { return h.file.Name() }

// Version returns the version the handle was opened on, or nil for a new file.
func (h *Handle) Version() *VersionRecord { return h.version }

// Result returns the update outcome of a closed write-mode handle.
func (h *Handle) Result() *UpdateResult { return h.result }

// Close releases the staged file. Write-mode handles first commit their
// content as a new version; the staged file is released even if that fails.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	path := h.file.Name()
	defer h.staging.Release(path)

	if err := h.file.Close(); err != nil {
		return fmt.Errorf("closing staged file: %w", err)
	}
	if h.mode == ModeRead {
		return nil
	}

	res, err := h.archive.UpdateFile(h.ctx, path, h.opts)
	if err != nil {
		return err
	}
	h.result = res
	return nil
}

var _ io.ReadWriteSeeker = (*Handle)(nil)
