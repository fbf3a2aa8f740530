package scanner

import (
	"bytes"
	"os"
	"path/filepath"
)

// Leading bytes used for detection
var (
	// Manifests start with the root catalog line
	manifestMagic = []byte("C")

	// Status documents are JSON objects
	jsonMagic = []byte("{")
)

// DetectEntryType determines the entry type based on file name and leading bytes.
// A well-known name with unexpected content is reported as unknown.
func DetectEntryType(path string) (EntryType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	// Read first 64 bytes for detection
	header := make([]byte, 64)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return TypeUnknown, err
	}
	header = bytes.TrimLeft(header[:n], " \t\r\n")

	switch filepath.Base(path) {
	case ManifestFile:
		if bytes.HasPrefix(header, manifestMagic) {
			return TypeManifest, nil
		}
	case StatusFile:
		if bytes.HasPrefix(header, jsonMagic) {
			return TypeStatus, nil
		}
	case WhitelistFile:
		// Whitelists start with a 14 digit creation timestamp
		if len(header) >= 14 && isDigits(header[:14]) {
			return TypeWhitelist, nil
		}
	}

	return TypeUnknown, nil
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
