package status

import (
	"fmt"

	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/models"
)

// Verdict is the outcome of cross-checking a manifest against a status document
type Verdict int

const (
	// NotReconciled is the zero value: there was no manifest to compare against
	NotReconciled Verdict = iota
	Consistent
	RootHashMismatch
	RevisionMismatch
	StatusMissing
	StatusMalformed
	// StatusIncomplete means the status document lacks the root hash or the
	// revision, so agreement cannot be established
	StatusIncomplete
)

// String returns the string representation of Verdict
func (v Verdict) String() string {
	switch v {
	case NotReconciled:
		return "NotReconciled"
	case Consistent:
		return "Consistent"
	case RootHashMismatch:
		return "RootHashMismatch"
	case RevisionMismatch:
		return "RevisionMismatch"
	case StatusMissing:
		return "StatusMissing"
	case StatusMalformed:
		return "StatusMalformed"
	case StatusIncomplete:
		return "StatusIncomplete"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Reconciliation is a verdict plus what each source said
type Reconciliation struct {
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
}

// Reconcile compares m with st. statusErr is the error from fetching or
// parsing the status document, if any; it never invalidates the manifest.
func Reconcile(m *manifest.Manifest, st *Status, statusErr error) Reconciliation {
	if statusErr != nil {
		if models.IsType(statusErr, models.ErrMalformedStatus) {
			return Reconciliation{Verdict: StatusMalformed, Detail: statusErr.Error()}
		}
		return Reconciliation{Verdict: StatusMissing, Detail: statusErr.Error()}
	}
	if st == nil {
		return Reconciliation{Verdict: StatusMissing}
	}

	if st.RootHash != nil && !st.RootHash.Equal(m.RootCatalog) {
		return Reconciliation{
			Verdict: RootHashMismatch,
			Detail:  fmt.Sprintf("manifest %s, status %s", m.RootCatalog, st.RootHash),
		}
	}
	if st.Revision != nil && *st.Revision != m.Revision {
		return Reconciliation{
			Verdict: RevisionMismatch,
			Detail:  fmt.Sprintf("manifest %d, status %d", m.Revision, *st.Revision),
		}
	}
	if st.RootHash == nil || st.Revision == nil {
		return Reconciliation{Verdict: StatusIncomplete, Detail: "status has no root hash or revision"}
	}
	return Reconciliation{Verdict: Consistent}
}
