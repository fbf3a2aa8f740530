package manifest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ralt/cvmfs-scraper/internal/models"
)

// ParseManifest parses the raw bytes of a .cvmfspublished resource.
// The manifest is all or nothing: any malformed required field rejects it whole.
func ParseManifest(raw []byte) (*Manifest, error) {
	signed, block, hasBlock := splitSignature(raw)

	m, err := parseBody(signed)
	if err != nil {
		return nil, malformed(err)
	}
	m.signed = append([]byte(nil), signed...)

	if hasBlock && len(block) > 0 {
		sig, err := parseSignatureBlock(block)
		if err != nil {
			return nil, malformed(err)
		}
		m.Signature = sig
	}

	return m, nil
}

func malformed(err error) error {
	return &models.ScrapeError{Type: models.ErrMalformedManifest, Err: err}
}

// splitSignature cuts raw at the first line that is exactly the terminator.
// signed keeps the newline that ends the last body line.
func splitSignature(raw []byte) (signed, block []byte, found bool) {
	pos := 0
	for pos < len(raw) {
		end := bytes.IndexByte(raw[pos:], '\n')
		var line []byte
		next := len(raw)
		if end >= 0 {
			line = raw[pos : pos+end]
			next = pos + end + 1
		} else {
			line = raw[pos:]
		}
		if string(line) == Terminator {
			return raw[:pos], raw[next:], true
		}
		pos = next
	}
	return raw, nil, false
}

func parseBody(body []byte) (*Manifest, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}

	text := string(body)
	text = strings.TrimSuffix(text, "\n")

	m := &Manifest{}
	seen := make(map[byte]bool)

	for i, line := range strings.Split(text, "\n") {
		if line == "" {
			return nil, fmt.Errorf("line %d: empty line", i+1)
		}
		tag, value := line[0], line[1:]

		known, err := m.setField(tag, value)
		if err != nil {
			return nil, fmt.Errorf("line %d (%c): %w", i+1, tag, err)
		}
		if !known {
			continue
		}
		if seen[tag] {
			return nil, fmt.Errorf("line %d: duplicate tag %c", i+1, tag)
		}
		seen[tag] = true
	}

	var missing []string
	for _, tag := range requiredTags {
		if !seen[tag] {
			missing = append(missing, string(tag))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required tags: %s", strings.Join(missing, ", "))
	}

	return m, nil
}

// setField stores one tagged value. It reports false for tags it does not know,
// which are skipped for forward compatibility.
func (m *Manifest) setField(tag byte, value string) (bool, error) {
	var err error
	switch tag {
	case TagRootCatalog:
		m.RootCatalog, err = ParseHash(value)
	case TagCatalogSize:
		m.CatalogSize, err = parseUint(value)
	case TagRootPathHash:
		m.RootPathHash, err = parseHashPtr(value, ParseMD5)
	case TagCertificate:
		m.Certificate, err = parseHashPtr(value, ParseHash)
	case TagHistory:
		m.History, err = parseHashPtr(value, ParseHash)
	case TagMetadata:
		m.Metadata, err = parseHashPtr(value, ParseHash)
	case TagReflog:
		m.Reflog, err = parseHashPtr(value, ParseHash)
	case TagMicroCatalog:
		m.MicroCatalog, err = parseHashPtr(value, ParseHash)
	case TagTimestamp:
		m.Timestamp, err = parseUint(value)
	case TagTTL:
		m.TTL, err = parseUint(value)
	case TagRevision:
		m.Revision, err = parseUint(value)
	case TagName:
		if value == "" || strings.ContainsAny(value, " \t\r/") {
			err = fmt.Errorf("invalid repository name %q", value)
		}
		m.Name = value
	case TagGarbageCollect:
		m.GarbageCollectable, err = parseYesNo(value)
	case TagAlternativePath:
		m.AlternativePath, err = parseYesNo(value)
	default:
		return false, nil
	}
	return true, err
}

func parseSignatureBlock(block []byte) (*Signature, error) {
	nl := bytes.IndexByte(block, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("signature block has no signature after the content hash")
	}
	contentHash, err := ParseHash(string(block[:nl]))
	if err != nil {
		return nil, fmt.Errorf("signature block content hash: %w", err)
	}
	sig := block[nl+1:]
	if len(sig) == 0 {
		return nil, fmt.Errorf("signature block has an empty signature")
	}
	return &Signature{
		ContentHash: contentHash,
		HashText:    append([]byte(nil), block[:nl]...),
		Bytes:       append([]byte(nil), sig...),
	}, nil
}

func parseHashPtr(value string, parse func(string) (Hash, error)) (*Hash, error) {
	h, err := parse(value)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func parseUint(value string) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty numeric value")
	}
	return strconv.ParseUint(value, 10, 64)
}

func parseYesNo(value string) (bool, error) {
	switch value {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	return false, fmt.Errorf("expected yes or no, got %q", value)
}
