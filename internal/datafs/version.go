package datafs

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Bump names the semantic version component to increment.
type Bump string

const (
	BumpNone  Bump = ""
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// TimestampLayout is the format of version ids generated for unversioned archives.
// Fixed width, so lexicographic order matches chronological order.
const TimestampLayout = "20060102-150405.000000"

const maxVersionIDLen = 128

var versionIDPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._+-]*$`)

// ParseBump converts a bump name to a Bump.
func ParseBump(s string) (Bump, error) {
	switch b := Bump(s); b {
	case BumpNone, BumpPatch, BumpMinor, BumpMajor:
		return b, nil
	}
	return BumpNone, fmt.Errorf("%w: unknown bump %q", ErrInvalidVersion, s)
}

// ValidateVersionID checks that id is usable as a version id.
func ValidateVersionID(id string) error {
	if id == "" || len(id) > maxVersionIDLen || !versionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: malformed version id %q", ErrInvalidVersion, id)
	}
	return nil
}

// VersionAfter reports whether a sorts after b. Ids that are both
// semantic versions compare numerically; anything else compares bytewise.
func VersionAfter(a, b string) bool {
	va, errA := semver.StrictNewVersion(a)
	vb, errB := semver.StrictNewVersion(b)
	if errA == nil && errB == nil {
		return va.GreaterThan(vb)
	}
	return a > b
}

// BumpVersion increments the named component of tail and zeroes lower ones.
// An empty tail accepts only a patch bump, which yields 0.0.1.
func BumpVersion(tail string, bump Bump) (string, error) {
	if tail == "" {
		if bump == BumpPatch {
			return "0.0.1", nil
		}
		return "", fmt.Errorf("%w: %s bump on an archive with no versions", ErrInvalidVersion, bump)
	}

	v, err := semver.StrictNewVersion(tail)
	if err != nil {
		return "", fmt.Errorf("%w: cannot bump non-semantic version %q", ErrInvalidVersion, tail)
	}

	var next semver.Version
	switch bump {
	case BumpPatch:
		next = v.IncPatch()
	case BumpMinor:
		next = v.IncMinor()
	case BumpMajor:
		next = v.IncMajor()
	default:
		return "", fmt.Errorf("%w: unknown bump %q", ErrInvalidVersion, bump)
	}
	return next.String(), nil
}

// TimestampVersion returns a timestamp-derived id strictly greater than tail.
func TimestampVersion(tail string, now time.Time) (string, error) {
	id := now.UTC().Format(TimestampLayout)
	if tail == "" || VersionAfter(id, tail) {
		return id, nil
	}

	// Clock did not advance past the tail; derive from the tail instead.
	prev, err := time.Parse(TimestampLayout, tail)
	if err != nil {
		return "", fmt.Errorf("%w: cannot derive a timestamp id after %q", ErrInvalidVersion, tail)
	}
	return prev.Add(time.Microsecond).Format(TimestampLayout), nil
}

// NextVersion computes the id of the version appended after tail.
// Precedence: an explicit id, then an explicit bump, then the archive default
// (patch bump when versioned, timestamp id otherwise).
func NextVersion(tail string, versioned bool, opts UpdateOptions, now time.Time) (string, error) {
	if opts.Version != "" {
		if err := ValidateVersionID(opts.Version); err != nil {
			return "", err
		}
		if tail != "" && !VersionAfter(opts.Version, tail) {
			return "", fmt.Errorf("%w: %q does not sort after latest version %q", ErrInvalidVersion, opts.Version, tail)
		}
		return opts.Version, nil
	}

	if opts.Bump != BumpNone {
		return BumpVersion(tail, opts.Bump)
	}

	if versioned {
		return BumpVersion(tail, BumpPatch)
	}
	return TimestampVersion(tail, now)
}
