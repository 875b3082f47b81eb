package datafs_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"datafs-go/internal/datafs"
	"datafs-go/internal/testutil"
)

// newArchive creates a session with the given options and an archive named name.
func newArchive(t *testing.T, name string, opts ...datafs.Option) (*datafs.Session, *datafs.Archive) {
	t.Helper()
	s := testutil.NewTestSession(t, opts...)
	a, err := s.CreateArchive(context.Background(), name, datafs.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateArchive() error = %v", err)
	}
	return s, a
}

func mustUpdate(t *testing.T, a *datafs.Archive, content string, opts datafs.UpdateOptions) *datafs.UpdateResult {
	t.Helper()
	res, err := a.Update(context.Background(), strings.NewReader(content), opts)
	if err != nil {
		t.Fatalf("Update(%q) error = %v", content, err)
	}
	return res
}

func mustDownload(t *testing.T, a *datafs.Archive, version string) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := a.Download(context.Background(), version, &buf); err != nil {
		t.Fatalf("Download(%q) error = %v", version, err)
	}
	return buf.String()
}

func mustVersions(t *testing.T, a *datafs.Archive) []string {
	t.Helper()
	v, err := a.GetVersions(context.Background())
	if err != nil {
		t.Fatalf("GetVersions() error = %v", err)
	}
	return v
}

// blobKey is the key content was uploaded under as archive@version.
func blobKey(archive, version, content string) datafs.Key {
	return datafs.Key{Archive: archive, Version: version, Checksum: testutil.SHA256Hex([]byte(content))}
}
