package testutil

import (
	"path/filepath"
	"testing"

	"datafs-go/internal/staging"
)

// DefaultStagingMaxSize is the default max size for test staging areas (10MB).
const DefaultStagingMaxSize = 10 * 1024 * 1024

// NewTestStagingArea creates a staging area under t.TempDir() with
// sequential file names.
func NewTestStagingArea(t *testing.T) *staging.FileSystemStagingArea {
	t.Helper()

	sa, err := staging.NewFileSystemStagingArea(filepath.Join(t.TempDir(), "staging"), DefaultStagingMaxSize, NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to create staging area: %v", err)
	}
	return sa
}
