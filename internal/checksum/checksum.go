// Package checksum computes streaming content digests used for change
// detection and version identity. Digests are rendered as lowercase hex
// without an algorithm prefix; the algorithm is recorded alongside.
package checksum

import (
	"crypto/md5"
	_ "crypto/sha256" // registers sha256 for go-digest
	_ "crypto/sha512" // registers sha384/sha512 for go-digest
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"regexp"

	"github.com/opencontainers/go-digest"
)

// Supported algorithm identifiers.
const (
	SHA256 = "sha256"
	SHA384 = "sha384"
	SHA512 = "sha512"
	MD5    = "md5" // kept for archives written with md5 checksums

	Default = SHA256
)

// ErrUnsupported is returned for unknown algorithm identifiers.
var ErrUnsupported = errors.New("unsupported checksum algorithm")

var md5Pattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// Engine computes digests with a single algorithm. It is safe for concurrent use.
type Engine struct {
	alg string
}

// New returns an Engine for alg. An empty alg selects Default.
func New(alg string) (*Engine, error) {
	if alg == "" {
		alg = Default
	}
	if !Supported(alg) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, alg)
	}
	return &Engine{alg: alg}, nil
}

// Supported reports whether alg can be computed.
func Supported(alg string) bool {
	if alg == MD5 {
		return true
	}
	switch digest.Algorithm(alg) {
	case digest.SHA256, digest.SHA384, digest.SHA512:
		return digest.Algorithm(alg).Available()
	}
	return false
}

// Algorithm returns the algorithm identifier.
func (e *Engine) Algorithm() string { return e.alg }

// NewHash returns a fresh hash.Hash for incremental hashing, e.g. behind an io.TeeReader.
func (e *Engine) NewHash() hash.Hash {
	if e.alg == MD5 {
		return md5.New()
	}
	return digest.Algorithm(e.alg).Hash()
}

// Encode renders the current state of h as a digest string.
func (e *Engine) Encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Sum reads r to EOF and returns its digest.
func (e *Engine) Sum(r io.Reader) (string, error) {
	if e.alg == MD5 {
		h := md5.New()
		if _, err := io.Copy(h, r); err != nil {
			return "", fmt.Errorf("hashing content: %w", err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	d, err := digest.Algorithm(e.alg).FromReader(r)
	if err != nil {
		return "", fmt.Errorf("hashing content: %w", err)
	}
	return d.Encoded(), nil
}

// SumFile returns the digest of the file at path.
func (e *Engine) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return e.Sum(f)
}

// SumBytes returns the digest of b.
func (e *Engine) SumBytes(b []byte) string {
	if e.alg == MD5 {
		s := md5.Sum(b)
		return hex.EncodeToString(s[:])
	}
	return digest.Algorithm(e.alg).FromBytes(b).Encoded()
}

// Validate checks that encoded is a well-formed digest for alg.
func Validate(alg, encoded string) error {
	if alg == MD5 {
		if !md5Pattern.MatchString(encoded) {
			return fmt.Errorf("invalid md5 digest %q", encoded)
		}
		return nil
	}
	if !Supported(alg) {
		return fmt.Errorf("%w: %q", ErrUnsupported, alg)
	}
	return digest.Algorithm(alg).Validate(encoded)
}

// Format renders a digest in "<algorithm>:<hex>" form for display.
func Format(alg, encoded string) string {
	if alg == MD5 {
		return MD5 + ":" + encoded
	}
	return digest.NewDigestFromEncoded(digest.Algorithm(alg), encoded).String()
}
