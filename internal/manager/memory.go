// Package manager implements metadata stores for archive records and version history.
package manager

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"datafs-go/internal/datafs"
)

type memoryArchive struct {
	record  *datafs.ArchiveRecord
	history []*datafs.VersionRecord
}

// Memory is the reference in-memory Manager. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	archives map[string]*memoryArchive
}

// NewMemory creates an empty in-memory manager.
func NewMemory() *Memory {
	return &Memory{archives: make(map[string]*memoryArchive)}
}

func (m *Memory) CreateArchive(ctx context.Context, rec *datafs.ArchiveRecord, raiseIfExists bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.archives[rec.Name]; ok {
		if raiseIfExists {
			return fmt.Errorf("archive %s: %w", rec.Name, datafs.ErrAlreadyExists)
		}
		existing.record.Metadata = datafs.MergeMetadata(existing.record.Metadata, rec.Metadata)
		return nil
	}

	stored := rec.Clone()
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	m.archives[rec.Name] = &memoryArchive{record: stored}
	return nil
}

func (m *Memory) GetArchive(ctx context.Context, name string) (*datafs.ArchiveRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[name]
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	return a.record.Clone(), nil
}

func (m *Memory) ListArchives(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.archives))
	for n := range m.archives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) AppendVersion(ctx context.Context, name, expectedTail string, rec *datafs.VersionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[name]
	if !ok {
		return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	tail := ""
	if n := len(a.history); n > 0 {
		tail = a.history[n-1].VersionID
	}
	if tail != expectedTail {
		return fmt.Errorf("%w: tail of %s is %q, expected %q", datafs.ErrConflict, name, tail, expectedTail)
	}
	if slices.ContainsFunc(a.history, func(v *datafs.VersionRecord) bool { return v.VersionID == rec.VersionID }) {
		return fmt.Errorf("%w: version %s already in %s", datafs.ErrConflict, rec.VersionID, name)
	}
	a.history = append(a.history, rec.Clone())
	return nil
}

func (m *Memory) GetHistory(ctx context.Context, name string) ([]*datafs.VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[name]
	if !ok {
		return nil, fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	out := make([]*datafs.VersionRecord, len(a.history))
	for i, v := range a.history {
		out[i] = v.Clone()
	}
	return out, nil
}

func (m *Memory) UpdateMetadata(ctx context.Context, name string, patch map[string]any, replace bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.archives[name]
	if !ok {
		return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	a.record.Metadata = applyMetadata(a.record.Metadata, patch, replace)
	return nil
}

func (m *Memory) DeleteArchive(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.archives[name]; !ok {
		return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	delete(m.archives, name)
	return nil
}

// Compile-time check that Memory implements datafs.Manager
var _ datafs.Manager = (*Memory)(nil)
