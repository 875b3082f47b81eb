package datafs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyExists is returned when an archive name is already registered.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when an archive, version, or blob key is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a version append raced past the expected tail.
	// Callers must retry the whole update.
	ErrConflict = errors.New("conflict")

	// ErrUnavailable is returned when every authority failed a read or write fan-out.
	ErrUnavailable = errors.New("unavailable")

	// ErrInvalidVersion is returned for malformed explicit version ids and
	// bump requests that cannot be applied to the current tail.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrBackendUnsupported is returned when a backend type or capability is not registered.
	ErrBackendUnsupported = errors.New("backend unsupported")

	// ErrCredentials is returned by backend constructors when required credentials are missing.
	ErrCredentials = errors.New("missing credentials")

	// ErrInvalidName is returned for archive names that cannot be used as keys.
	ErrInvalidName = errors.New("invalid archive name")

	// ErrChecksumMismatch is returned when fetched bytes do not match the recorded checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNoManager is returned when a session has no manager attached.
	ErrNoManager = errors.New("no manager attached")
)

// BackendFailure records the error a single backend returned during a fan-out.
type BackendFailure struct {
	Backend string
	Err     error
}

func (f BackendFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Backend, f.Err)
}

// FanoutError aggregates per-backend failures of a read or write fan-out.
// errors.Is matches Kind; the individual failures are available through errors.As.
type FanoutError struct {
	Op       string // "store" or "fetch"
	Key      Key
	Kind     error
	Failures []BackendFailure
}

func (e *FanoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Op, e.Key, e.Kind)
	if len(e.Failures) == 0 {
		b.WriteString(" (no authorities)")
		return b.String()
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	return b.String()
}

func (e *FanoutError) Unwrap() error { return e.Kind }

// Failed returns the names of the backends that failed.
func (e *FanoutError) Failed() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Backend)
	}
	return names
}
