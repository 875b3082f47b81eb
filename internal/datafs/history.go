package datafs

import "fmt"

// History is an archive's versions in append order. The tail is the latest.
type History []*VersionRecord

// Tail returns the latest version, or nil for an empty history.
func (h History) Tail() *VersionRecord {
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}

// TailID returns the latest version id, or "" for an empty history.
func (h History) TailID() string {
	if t := h.Tail(); t != nil {
		return t.VersionID
	}
	return ""
}

// Find returns the record with the given version id.
func (h History) Find(versionID string) (*VersionRecord, bool) {
	for _, v := range h {
		if v.VersionID == versionID {
			return v, true
		}
	}
	return nil, false
}

// Versions returns the version ids in append order.
func (h History) Versions() []string {
	ids := make([]string, len(h))
	for i, v := range h {
		ids[i] = v.VersionID
	}
	return ids
}

// Validate checks the invariants every manager must preserve: unique,
// non-empty version ids and no two consecutive versions with one checksum.
func (h History) Validate() error {
	seen := make(map[string]bool, len(h))
	for i, v := range h {
		if v.VersionID == "" {
			return fmt.Errorf("history entry %d has no version id", i)
		}
		if seen[v.VersionID] {
			return fmt.Errorf("history has duplicate version id %q", v.VersionID)
		}
		seen[v.VersionID] = true
		if i > 0 && h[i-1].Checksum == v.Checksum && h[i-1].ChecksumAlgorithm == v.ChecksumAlgorithm {
			return fmt.Errorf("versions %q and %q share checksum %s", h[i-1].VersionID, v.VersionID, v.Checksum)
		}
	}
	return nil
}

// Clone returns a deep copy of the history.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	for i, v := range h {
		out[i] = v.Clone()
	}
	return out
}
