package manager

import (
	"context"
	"path/filepath"
	"testing"

	"datafs-go/internal/datafs"
	"datafs-go/internal/manager/migrations"
)

func newTestSQLite(t *testing.T, path string) *SQLite {
	t.Helper()
	m, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite(%q) error = %v", path, err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSQLite_Memory(t *testing.T) {
	testManagerContract(t, func(t *testing.T) datafs.Manager {
		return newTestSQLite(t, ":memory:")
	})
}

func TestSQLite_File(t *testing.T) {
	testManagerContract(t, func(t *testing.T) datafs.Manager {
		return newTestSQLite(t, filepath.Join(t.TempDir(), "db", "datafs.db"))
	})
}

func TestSQLite_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "datafs.db")

	m, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	if err := m.CreateArchive(ctx, archiveRecord("kept", nil), true); err != nil {
		t.Fatalf("CreateArchive() error = %v", err)
	}
	if err := m.AppendVersion(ctx, "kept", "", versionRecord("0.0.1", "aaa")); err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := newTestSQLite(t, path)
	if err := migrations.CheckStatus(reopened.db); err != nil {
		t.Errorf("CheckStatus() after reopen error = %v", err)
	}
	h, err := reopened.GetHistory(ctx, "kept")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(h) != 1 || h[0].VersionID != "0.0.1" {
		t.Errorf("GetHistory() = %v, want [0.0.1]", h)
	}
	if reopened.Path() != path {
		t.Errorf("Path() = %q, want %q", reopened.Path(), path)
	}
}
