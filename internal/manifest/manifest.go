// Package manifest parses and validates CVMFS repository manifests (.cvmfspublished).
package manifest

import (
	"bytes"
	"fmt"
	"time"
)

// Manifest line tags
const (
	TagRootCatalog     = 'C'
	TagCatalogSize     = 'B'
	TagRootPathHash    = 'R'
	TagCertificate     = 'X'
	TagHistory         = 'H'
	TagTimestamp       = 'T'
	TagTTL             = 'D'
	TagRevision        = 'S'
	TagName            = 'N'
	TagMetadata        = 'M'
	TagReflog          = 'Y'
	TagMicroCatalog    = 'L'
	TagGarbageCollect  = 'G'
	TagAlternativePath = 'A'
)

// Terminator is the line separating the signed body from the signature block
const Terminator = "--"

// requiredTags must each appear exactly once
var requiredTags = []byte{TagRootCatalog, TagCatalogSize, TagRevision, TagName, TagTimestamp, TagTTL}

// Manifest is the parsed content of a .cvmfspublished resource
type Manifest struct {
	RootCatalog  Hash
	CatalogSize  uint64
	RootPathHash *Hash
	Certificate  *Hash
	History      *Hash
	Metadata     *Hash
	Reflog       *Hash
	MicroCatalog *Hash

	// Timestamp is the publication time in Unix seconds
	Timestamp uint64
	// TTL is the time-to-live in seconds
	TTL      uint64
	Revision uint64
	Name     string

	GarbageCollectable bool
	AlternativePath    bool

	// Signature is nil when the manifest carries no signature block
	Signature *Signature

	signed []byte
}

// Signature is the detached block following the terminator line
type Signature struct {
	// ContentHash is the digest of the signed body, as written by the signer
	ContentHash Hash
	// HashText is the hash line exactly as it appears after the terminator.
	// The RSA signature covers these bytes, whatever their letter case.
	HashText []byte
	// Bytes is the raw RSA signature over HashText
	Bytes []byte
}

// SignedText returns the bytes the RSA signature covers. Signatures built in
// code without HashText fall back to the canonical rendering of ContentHash.
func (s *Signature) SignedText() []byte {
	if len(s.HashText) > 0 {
		return s.HashText
	}
	return []byte(s.ContentHash.String())
}

// SignedContent returns the exact bytes preceding the terminator line
func (m *Manifest) SignedContent() []byte {
	return m.signed
}

// PublishedAt returns the publication timestamp as a time.Time
func (m *Manifest) PublishedAt() time.Time {
	return time.Unix(int64(m.Timestamp), 0).UTC()
}

// TTLDuration returns the time-to-live as a duration
func (m *Manifest) TTLDuration() time.Duration {
	return time.Duration(m.TTL) * time.Second
}

// IsSigned reports whether a signature block is present
func (m *Manifest) IsSigned() bool {
	return m.Signature != nil
}

// MarshalText writes the signed body in canonical tag order.
// Verification never uses this; it exists to build manifests, not to check them.
func (m *Manifest) MarshalText() ([]byte, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("manifest has no repository name")
	}
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%c%s\n", TagRootCatalog, m.RootCatalog)
	fmt.Fprintf(&buf, "%c%d\n", TagCatalogSize, m.CatalogSize)
	writeHash(&buf, TagRootPathHash, m.RootPathHash)
	fmt.Fprintf(&buf, "%c%d\n", TagTTL, m.TTL)
	fmt.Fprintf(&buf, "%c%d\n", TagRevision, m.Revision)
	writeHash(&buf, TagMicroCatalog, m.MicroCatalog)
	fmt.Fprintf(&buf, "%c%s\n", TagGarbageCollect, yesNo(m.GarbageCollectable))
	fmt.Fprintf(&buf, "%c%s\n", TagAlternativePath, yesNo(m.AlternativePath))
	fmt.Fprintf(&buf, "%c%s\n", TagName, m.Name)
	writeHash(&buf, TagCertificate, m.Certificate)
	writeHash(&buf, TagHistory, m.History)
	fmt.Fprintf(&buf, "%c%d\n", TagTimestamp, m.Timestamp)
	writeHash(&buf, TagMetadata, m.Metadata)
	writeHash(&buf, TagReflog, m.Reflog)

	return buf.Bytes(), nil
}

func writeHash(buf *bytes.Buffer, tag byte, h *Hash) {
	if h == nil {
		return
	}
	fmt.Fprintf(buf, "%c%s\n", tag, h)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
