package datafs

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testHistory() History {
	return History{
		{VersionID: "0.0.1", Checksum: "aa", ChecksumAlgorithm: "sha256"},
		{VersionID: "0.0.2", Checksum: "bb", ChecksumAlgorithm: "sha256"},
		{VersionID: "0.1.0", Checksum: "aa", ChecksumAlgorithm: "sha256"},
	}
}

func TestHistory_Accessors(t *testing.T) {
	h := testHistory()

	if got := h.TailID(); got != "0.1.0" {
		t.Errorf("TailID() = %q, want 0.1.0", got)
	}
	if diff := cmp.Diff([]string{"0.0.1", "0.0.2", "0.1.0"}, h.Versions()); diff != "" {
		t.Errorf("Versions() mismatch (-want +got):\n%s", diff)
	}
	if v, ok := h.Find("0.0.2"); !ok || v.Checksum != "bb" {
		t.Errorf("Find(0.0.2) = %+v, %v", v, ok)
	}
	if _, ok := h.Find("9.9.9"); ok {
		t.Error("Find(9.9.9) found a version")
	}

	var empty History
	if empty.Tail() != nil || empty.TailID() != "" {
		t.Error("empty history has a tail")
	}
}

func TestHistory_Validate(t *testing.T) {
	if err := testHistory().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name    string
		h       History
		wantErr string
	}{
		{
			name:    "empty id",
			h:       History{{VersionID: "", Checksum: "aa"}},
			wantErr: "no version id",
		},
		{
			name:    "duplicate id",
			h:       History{{VersionID: "0.0.1", Checksum: "aa"}, {VersionID: "0.0.1", Checksum: "bb"}},
			wantErr: "duplicate",
		},
		{
			name: "consecutive identical content",
			h: History{
				{VersionID: "0.0.1", Checksum: "aa", ChecksumAlgorithm: "sha256"},
				{VersionID: "0.0.2", Checksum: "aa", ChecksumAlgorithm: "sha256"},
			},
			wantErr: "share checksum",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.h.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHistory_Clone(t *testing.T) {
	h := History{{
		VersionID:    "0.0.1",
		Dependencies: map[string]string{"other": "1.0.0"},
		Metadata:     map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}},
	}}
	c := h.Clone()

	c[0].Dependencies["other"] = "2.0.0"
	c[0].Metadata["tags"].([]any)[0] = "b"
	c[0].Metadata["nested"].(map[string]any)["k"] = "changed"

	if h[0].Dependencies["other"] != "1.0.0" {
		t.Error("Clone shares dependencies")
	}
	if h[0].Metadata["tags"].([]any)[0] != "a" {
		t.Error("Clone shares metadata slices")
	}
	if h[0].Metadata["nested"].(map[string]any)["k"] != "v" {
		t.Error("Clone shares nested metadata")
	}
}

func TestMergeMetadata(t *testing.T) {
	base := map[string]any{"a": 1, "b": "x"}
	got := MergeMetadata(base, map[string]any{"b": "y", "c": true})

	want := map[string]any{"a": 1, "b": "y", "c": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MergeMetadata() mismatch (-want +got):\n%s", diff)
	}
	if base["b"] != "x" {
		t.Error("MergeMetadata modified base")
	}
	if got := MergeMetadata(nil, nil); got == nil {
		t.Error("MergeMetadata(nil, nil) = nil, want empty map")
	}
}
