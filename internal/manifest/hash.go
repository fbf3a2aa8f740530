package manifest

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ralt/cvmfs-scraper/internal/utils"
)

// Hash is a CVMFS content hash: a digest plus the algorithm that produced it
type Hash struct {
	Algorithm utils.Algorithm
	Digest    []byte
}

// ParseHash parses "<hex>[-suffix]". The digest length must match the algorithm.
func ParseHash(s string) (Hash, error) {
	alg, hexPart, err := utils.AlgorithmFromSuffix(s)
	if err != nil {
		return Hash{}, err
	}
	return decodeHex(hexPart, alg)
}

// ParseMD5 parses a bare 32 character MD5 hex digest
func ParseMD5(s string) (Hash, error) {
	return decodeHex(s, utils.MD5)
}

func decodeHex(s string, alg utils.Algorithm) (Hash, error) {
	if want := alg.Size() * 2; len(s) != want {
		return Hash{}, fmt.Errorf("%s digest must be %d hex characters, got %d", alg, want, len(s))
	}
	digest, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex digest %q: %w", s, err)
	}
	return Hash{Algorithm: alg, Digest: digest}, nil
}

// Sum hashes data with alg
func Sum(alg utils.Algorithm, data []byte) (Hash, error) {
	d, err := utils.CalculateChecksum(data, alg)
	if err != nil {
		return Hash{}, err
	}
	return Hash{Algorithm: alg, Digest: d}, nil
}

// String returns the CVMFS textual form: lower-case hex followed by the algorithm suffix
func (h Hash) String() string {
	return hex.EncodeToString(h.Digest) + h.Algorithm.Suffix()
}

// IsZero reports whether the hash carries no digest
func (h Hash) IsZero() bool {
	return len(h.Digest) == 0
}

// Valid reports whether the digest length matches the algorithm
func (h Hash) Valid() bool {
	size := h.Algorithm.Size()
	return size > 0 && len(h.Digest) == size
}

// Equal compares algorithm and digest
func (h Hash) Equal(o Hash) bool {
	return h.Algorithm == o.Algorithm && bytes.Equal(h.Digest, o.Digest)
}

// ObjectPath returns the path of the content-addressed object relative to the
// repository root, e.g. "data/ab/cdef...X" for a certificate.
func (h Hash) ObjectPath(suffix byte) string {
	s := h.String()
	if len(s) < 3 {
		return ""
	}
	return fmt.Sprintf("data/%s/%s%c", s[:2], s[2:], suffix)
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(b []byte) error {
	v, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}
