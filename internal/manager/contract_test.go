package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"datafs-go/internal/datafs"
)

var created = time.Date(2024, 1, 15, 10, 30, 0, 123456000, time.UTC)

func archiveRecord(name string, meta map[string]any) *datafs.ArchiveRecord {
	return &datafs.ArchiveRecord{
		Name:      name,
		Metadata:  meta,
		Owner:     "jdoe",
		Contact:   "jdoe@example.com",
		Versioned: true,
		CreatedAt: created,
	}
}

func versionRecord(id, sum string) *datafs.VersionRecord {
	return &datafs.VersionRecord{
		VersionID:         id,
		Checksum:          sum,
		ChecksumAlgorithm: "sha256",
		CreatedAt:         created,
		CreatedBy:         "jdoe",
		Dependencies:      map[string]string{"other": "1.0.0"},
		Metadata:          map[string]any{"note": "v" + id},
		Size:              42,
	}
}

// testManagerContract runs the behavior every Manager must share. newManager
// returns an empty manager.
func testManagerContract(t *testing.T, newManager func(t *testing.T) datafs.Manager) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		m := newManager(t)
		want := archiveRecord("my_archive", map[string]any{"description": "test", "nested": map[string]any{"k": "v"}})
		if err := m.CreateArchive(ctx, want, true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		got, err := m.GetArchive(ctx, "my_archive")
		if err != nil {
			t.Fatalf("GetArchive() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GetArchive() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		m := newManager(t)
		if _, err := m.GetArchive(ctx, "absent"); !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("GetArchive() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("create existing raises", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("a", nil), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		err := m.CreateArchive(ctx, archiveRecord("a", nil), true)
		if !errors.Is(err, datafs.ErrAlreadyExists) {
			t.Errorf("second CreateArchive() error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("create existing merges metadata", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("a", map[string]any{"x": "1", "y": "2"}), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		other := archiveRecord("a", map[string]any{"y": "3", "z": "4"})
		other.Owner = "someone-else"
		if err := m.CreateArchive(ctx, other, false); err != nil {
			t.Fatalf("CreateArchive(raiseIfExists=false) error = %v", err)
		}
		got, err := m.GetArchive(ctx, "a")
		if err != nil {
			t.Fatalf("GetArchive() error = %v", err)
		}
		want := map[string]any{"x": "1", "y": "3", "z": "4"}
		if diff := cmp.Diff(want, got.Metadata); diff != "" {
			t.Errorf("metadata mismatch (-want +got):\n%s", diff)
		}
		if got.Owner != "jdoe" {
			t.Errorf("Owner = %q, want original owner kept", got.Owner)
		}
	})

	t.Run("list sorted", func(t *testing.T) {
		m := newManager(t)
		names, err := m.ListArchives(ctx)
		if err != nil {
			t.Fatalf("ListArchives() error = %v", err)
		}
		if len(names) != 0 {
			t.Errorf("ListArchives() on empty manager = %v", names)
		}
		for _, n := range []string{"charlie", "alpha", "bravo"} {
			if err := m.CreateArchive(ctx, archiveRecord(n, nil), true); err != nil {
				t.Fatalf("CreateArchive(%s) error = %v", n, err)
			}
		}
		names, err = m.ListArchives(ctx)
		if err != nil {
			t.Fatalf("ListArchives() error = %v", err)
		}
		if diff := cmp.Diff([]string{"alpha", "bravo", "charlie"}, names); diff != "" {
			t.Errorf("ListArchives() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("append and history", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("a", nil), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		h, err := m.GetHistory(ctx, "a")
		if err != nil || len(h) != 0 {
			t.Fatalf("GetHistory() on new archive = %v, %v, want empty", h, err)
		}

		v1 := versionRecord("0.0.1", "aaa")
		v2 := versionRecord("0.0.2", "bbb")
		if err := m.AppendVersion(ctx, "a", "", v1); err != nil {
			t.Fatalf("AppendVersion(v1) error = %v", err)
		}
		if err := m.AppendVersion(ctx, "a", "0.0.1", v2); err != nil {
			t.Fatalf("AppendVersion(v2) error = %v", err)
		}

		h, err = m.GetHistory(ctx, "a")
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if diff := cmp.Diff([]*datafs.VersionRecord{v1, v2}, h); diff != "" {
			t.Errorf("GetHistory() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("append conflicts", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("a", nil), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		if err := m.AppendVersion(ctx, "a", "", versionRecord("0.0.1", "aaa")); err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}

		tests := []struct {
			name     string
			expected string
			id       string
		}{
			{name: "stale empty tail", expected: "", id: "0.0.2"},
			{name: "wrong tail", expected: "9.9.9", id: "0.0.2"},
			{name: "duplicate id", expected: "0.0.1", id: "0.0.1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := m.AppendVersion(ctx, "a", tt.expected, versionRecord(tt.id, "ccc"))
				if !errors.Is(err, datafs.ErrConflict) {
					t.Errorf("AppendVersion() error = %v, want ErrConflict", err)
				}
			})
		}

		h, _ := m.GetHistory(ctx, "a")
		if len(h) != 1 {
			t.Errorf("history has %d versions after conflicts, want 1", len(h))
		}
	})

	t.Run("append to missing archive", func(t *testing.T) {
		m := newManager(t)
		err := m.AppendVersion(ctx, "absent", "", versionRecord("0.0.1", "aaa"))
		if !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("AppendVersion() error = %v, want ErrNotFound", err)
		}
		if _, err := m.GetHistory(ctx, "absent"); !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("GetHistory() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("race", nil), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}

		const writers = 8
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = m.AppendVersion(ctx, "race", "", versionRecord(fmt.Sprintf("0.0.%d", i+1), "x"))
			}()
		}
		wg.Wait()

		wins := 0
		for i, err := range errs {
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, datafs.ErrConflict):
				t.Errorf("writer %d error = %v, want nil or ErrConflict", i, err)
			}
		}
		if wins != 1 {
			t.Errorf("%d writers succeeded, want exactly 1", wins)
		}
		h, _ := m.GetHistory(ctx, "race")
		if len(h) != 1 {
			t.Errorf("history has %d versions, want 1", len(h))
		}
	})

	t.Run("update metadata", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("a", map[string]any{"x": "1"}), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}

		if err := m.UpdateMetadata(ctx, "a", map[string]any{"y": "2"}, false); err != nil {
			t.Fatalf("UpdateMetadata(merge) error = %v", err)
		}
		got, _ := m.GetArchive(ctx, "a")
		if diff := cmp.Diff(map[string]any{"x": "1", "y": "2"}, got.Metadata); diff != "" {
			t.Errorf("after merge (-want +got):\n%s", diff)
		}

		if err := m.UpdateMetadata(ctx, "a", map[string]any{"z": "3"}, true); err != nil {
			t.Fatalf("UpdateMetadata(replace) error = %v", err)
		}
		got, _ = m.GetArchive(ctx, "a")
		if diff := cmp.Diff(map[string]any{"z": "3"}, got.Metadata); diff != "" {
			t.Errorf("after replace (-want +got):\n%s", diff)
		}

		if err := m.UpdateMetadata(ctx, "absent", map[string]any{"k": "v"}, false); !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("UpdateMetadata(absent) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		m := newManager(t)
		if err := m.CreateArchive(ctx, archiveRecord("a", nil), true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		if err := m.AppendVersion(ctx, "a", "", versionRecord("0.0.1", "aaa")); err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}

		if err := m.DeleteArchive(ctx, "a"); err != nil {
			t.Fatalf("DeleteArchive() error = %v", err)
		}
		if _, err := m.GetArchive(ctx, "a"); !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("GetArchive() after delete error = %v, want ErrNotFound", err)
		}
		if err := m.DeleteArchive(ctx, "a"); !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("second DeleteArchive() error = %v, want ErrNotFound", err)
		}

		// The name is reusable and starts with an empty history.
		if err := m.CreateArchive(ctx, archiveRecord("a", nil), true); err != nil {
			t.Fatalf("re-CreateArchive() error = %v", err)
		}
		h, err := m.GetHistory(ctx, "a")
		if err != nil || len(h) != 0 {
			t.Errorf("GetHistory() after re-create = %v, %v, want empty", h, err)
		}
		if err := m.AppendVersion(ctx, "a", "", versionRecord("0.0.1", "aaa")); err != nil {
			t.Errorf("AppendVersion() after re-create error = %v", err)
		}
	})

	t.Run("records are copies", func(t *testing.T) {
		m := newManager(t)
		rec := archiveRecord("a", map[string]any{"x": "1"})
		if err := m.CreateArchive(ctx, rec, true); err != nil {
			t.Fatalf("CreateArchive() error = %v", err)
		}
		rec.Metadata["x"] = "mutated"

		got, _ := m.GetArchive(ctx, "a")
		got.Metadata["x"] = "mutated again"

		again, _ := m.GetArchive(ctx, "a")
		if again.Metadata["x"] != "1" {
			t.Errorf("stored metadata changed through a returned record: %v", again.Metadata)
		}
	})
}
