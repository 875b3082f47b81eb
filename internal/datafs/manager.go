package datafs

import "context"

// Manager is a metadata store holding archive records and their version history.
// Records returned by a Manager are copies; mutating them does not affect stored state.
type Manager interface {
	// CreateArchive registers a new archive. If the name exists, it returns
	// ErrAlreadyExists when raiseIfExists is true; otherwise it merges
	// rec.Metadata into the existing record and leaves the owner untouched.
	CreateArchive(ctx context.Context, rec *ArchiveRecord, raiseIfExists bool) error

	// GetArchive returns the archive record. Returns ErrNotFound if absent.
	GetArchive(ctx context.Context, name string) (*ArchiveRecord, error)

	// ListArchives returns all archive names in lexicographic order.
	ListArchives(ctx context.Context) ([]string, error)

	// AppendVersion appends rec to the archive's history as one atomic step.
	// expectedTail is the version id of the tail the caller read ("" for an
	// empty history). Returns ErrConflict if the tail moved or rec.VersionID
	// is already present, and ErrNotFound if the archive does not exist.
	AppendVersion(ctx context.Context, name, expectedTail string, rec *VersionRecord) error

	// GetHistory returns the archive's versions in append order.
	GetHistory(ctx context.Context, name string) ([]*VersionRecord, error)

	// UpdateMetadata merges patch into the archive metadata, or replaces it
	// entirely when replace is true.
	UpdateMetadata(ctx context.Context, name string, patch map[string]any, replace bool) error

	// DeleteArchive removes the archive record and its history.
	DeleteArchive(ctx context.Context, name string) error
}
