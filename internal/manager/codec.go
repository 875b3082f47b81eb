package manager

import (
	"encoding/json"
	"fmt"
	"time"

	"datafs-go/internal/datafs"
)

// timeLayout is the persisted timestamp format. Timestamps are stored in UTC.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	m := map[string]any{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return m, nil
}

func encodeDependencies(d map[string]string) (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encoding dependencies: %w", err)
	}
	return string(b), nil
}

func decodeDependencies(s string) (map[string]string, error) {
	d := map[string]string{}
	if s == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("decoding dependencies: %w", err)
	}
	return d, nil
}

// applyMetadata returns the metadata after a patch or a replacement.
func applyMetadata(current, patch map[string]any, replace bool) map[string]any {
	if replace {
		out := datafs.CloneMetadata(patch)
		if out == nil {
			out = map[string]any{}
		}
		return out
	}
	return datafs.MergeMetadata(current, patch)
}
