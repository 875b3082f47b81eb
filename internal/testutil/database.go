package testutil

import (
	"testing"

	"datafs-go/internal/manager"
)

// NewTestManager creates a new in-memory SQLite manager with migrations applied.
// The database is automatically closed when the test completes.
func NewTestManager(t *testing.T) *manager.SQLite {
	t.Helper()

	m, err := manager.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open manager: %v", err)
	}

	t.Cleanup(func() {
		m.Close()
	})

	return m
}
