package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"datafs-go/internal/datafs"
)

// ParseDependencies turns "archive=version" arguments into dependency pins.
// A bare "archive" pins the latest version at read time.
func ParseDependencies(args []string) (map[string]string, error) {
	deps := make(map[string]string, len(args))
	for _, arg := range args {
		name, version, _ := strings.Cut(arg, "=")
		if err := datafs.ValidateArchiveName(name); err != nil {
			return nil, fmt.Errorf("dependency %q: %w", arg, err)
		}
		if version != "" {
			if err := datafs.ValidateVersionID(version); err != nil {
				return nil, fmt.Errorf("dependency %q: %w", arg, err)
			}
		}
		if _, dup := deps[name]; dup {
			return nil, fmt.Errorf("dependency %q listed twice", name)
		}
		deps[name] = version
	}
	return deps, nil
}

// ParseMetadata turns "key=value" arguments into a metadata mapping. Values
// that parse as JSON (numbers, booleans, arrays, objects, quoted strings)
// keep their type; anything else is stored as a plain string.
func ParseMetadata(args []string) (map[string]any, error) {
	md := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("metadata %q: want key=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		md[key] = v
	}
	return md, nil
}
