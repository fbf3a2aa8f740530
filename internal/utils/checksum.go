package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/sha3"
)

// Algorithm is a content hash algorithm as used by CVMFS
type Algorithm int

const (
	SHA1 Algorithm = iota
	RMD160
	SHAKE128
	MD5
)

// shake128Size is the digest length CVMFS truncates SHAKE-128 output to
const shake128Size = 20

// String returns the algorithm name
func (a Algorithm) String() string {
	switch a {
	case SHA1:
		return "sha1"
	case RMD160:
		return "rmd160"
	case SHAKE128:
		return "shake128"
	case MD5:
		return "md5"
	default:
		return "unknown"
	}
}

// Suffix returns the suffix CVMFS appends to a hex digest of this algorithm.
// SHA-1 and MD5 carry none.
func (a Algorithm) Suffix() string {
	switch a {
	case RMD160:
		return "-rmd160"
	case SHAKE128:
		return "-shake128"
	default:
		return ""
	}
}

// Size returns the digest length in bytes, or 0 for an unknown algorithm
func (a Algorithm) Size() int {
	switch a {
	case SHA1, RMD160:
		return 20
	case SHAKE128:
		return shake128Size
	case MD5:
		return 16
	default:
		return 0
	}
}

// AlgorithmFromSuffix splits a trailing algorithm suffix off a hash string.
func AlgorithmFromSuffix(s string) (Algorithm, string, error) {
	i := strings.IndexByte(s, '-')
	if i < 0 {
		return SHA1, s, nil
	}
	switch s[i:] {
	case RMD160.Suffix():
		return RMD160, s[:i], nil
	case SHAKE128.Suffix():
		return SHAKE128, s[:i], nil
	}
	return 0, "", fmt.Errorf("unknown hash suffix %q", s[i:])
}

// CalculateChecksum calculates the digest of data with the given algorithm
func CalculateChecksum(data []byte, alg Algorithm) ([]byte, error) {
	if alg == SHAKE128 {
		out := make([]byte, shake128Size)
		sha3.ShakeSum128(out, data)
		return out, nil
	}

	var h hash.Hash
	switch alg {
	case SHA1:
		h = sha1.New()
	case RMD160:
		h = ripemd160.New()
	case MD5:
		h = md5.New()
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %d", alg)
	}

	h.Write(data)
	return h.Sum(nil), nil
}

// Fingerprint returns the colon-separated upper-case SHA-1 fingerprint of DER bytes,
// the format CVMFS whitelists list certificates in.
func Fingerprint(der []byte) string {
	sum := sha1.Sum(der)
	enc := strings.ToUpper(hex.EncodeToString(sum[:]))
	parts := make([]string, 0, len(sum))
	for i := 0; i < len(enc); i += 2 {
		parts = append(parts, enc[i:i+2])
	}
	return strings.Join(parts, ":")
}
