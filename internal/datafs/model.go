package datafs

import (
	"maps"
	"time"
)

// User is the identity recorded as provenance on archives and versions.
type User struct {
	Username string
	Contact  string
}

// ArchiveRecord is the manager's record for one archive.
type ArchiveRecord struct {
	Name      string
	Metadata  map[string]any
	Owner     string
	Contact   string
	Versioned bool // default numbering: patch bumps when true, timestamp ids otherwise
	CreatedAt time.Time
}

// Clone returns a deep copy of the record.
func (r *ArchiveRecord) Clone() *ArchiveRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Metadata = CloneMetadata(r.Metadata)
	return &c
}

// VersionRecord is one immutable entry in an archive's history.
type VersionRecord struct {
	VersionID         string
	Checksum          string
	ChecksumAlgorithm string
	CreatedAt         time.Time
	CreatedBy         string
	Dependencies      map[string]string // archive name -> pinned version id ("" pins latest)
	Metadata          map[string]any
	Size              int64
}

// Clone returns a deep copy of the record.
func (v *VersionRecord) Clone() *VersionRecord {
	if v == nil {
		return nil
	}
	c := *v
	c.Dependencies = maps.Clone(v.Dependencies)
	c.Metadata = CloneMetadata(v.Metadata)
	return &c
}

// CloneMetadata deep-copies a metadata mapping, descending into nested maps and slices.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMetadata(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// MergeMetadata applies patch on top of base and returns the result. base is not modified.
func MergeMetadata(base, patch map[string]any) map[string]any {
	out := CloneMetadata(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}
