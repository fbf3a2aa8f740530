// Package status parses .cvmfs_status.json and reconciles it against a manifest.
package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/utils"
)

// Status is the per-repository health snapshot written by the publish or
// replication pipeline
type Status struct {
	LastSnapshot *time.Time     `json:"last_snapshot,omitempty"`
	LastGC       *time.Time     `json:"last_gc,omitempty"`
	RootHash     *manifest.Hash `json:"root_hash,omitempty"`
	Revision     *uint64        `json:"revision,omitempty"`
}

type statusDocument struct {
	LastSnapshot string          `json:"last_snapshot"`
	LastGC       string          `json:"last_gc"`
	RootHash     string          `json:"root_hash"`
	Revision     json.RawMessage `json:"revision"`
}

// ParseStatus parses a status document. Errors are MalformedStatus.
func ParseStatus(raw []byte) (*Status, error) {
	var doc statusDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, malformed("invalid JSON: %w", err)
	}

	st := &Status{}
	var err error
	if st.LastSnapshot, err = utils.ParseDate(doc.LastSnapshot); err != nil {
		return nil, malformed("last_snapshot: %w", err)
	}
	if st.LastGC, err = utils.ParseDate(doc.LastGC); err != nil {
		return nil, malformed("last_gc: %w", err)
	}
	if doc.RootHash != "" {
		h, err := manifest.ParseHash(doc.RootHash)
		if err != nil {
			return nil, malformed("root_hash: %w", err)
		}
		st.RootHash = &h
	}
	if rev, ok, err := parseRevision(doc.Revision); err != nil {
		return nil, malformed("revision: %w", err)
	} else if ok {
		st.Revision = &rev
	}

	return st, nil
}

// parseRevision accepts a JSON number or a quoted number
func parseRevision(raw json.RawMessage) (uint64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false, err
		}
	}
	rev, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("not an unsigned integer: %s", raw)
	}
	return rev, true, nil
}

func malformed(format string, args ...any) error {
	return models.NewError(models.ErrMalformedStatus, format, args...)
}
