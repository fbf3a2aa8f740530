package manifest

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"time"
)

// CheckResult is the outcome of a single check. Skipped means the check could
// not be run, never that it passed.
type CheckResult int

const (
	Skipped CheckResult = iota
	Pass
	Fail
)

// String returns the string representation of CheckResult
func (r CheckResult) String() string {
	switch r {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	default:
		return "skipped"
	}
}

// MarshalText implements encoding.TextMarshaler
func (r CheckResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Check names reported by Validate
const (
	CheckRootCatalog  = "root_catalog_hash"
	CheckCatalogSize  = "catalog_size"
	CheckRootPath     = "root_path_hash"
	CheckCertificate  = "certificate_hash"
	CheckHistory      = "history_hash"
	CheckMetadata     = "metadata_hash"
	CheckReflog       = "reflog_hash"
	CheckMicroCatalog = "micro_catalog_hash"
	CheckRevision     = "revision"
	CheckName         = "repository_name"
	CheckTimestamp    = "timestamp"
	CheckTTL          = "ttl"
)

// Epoch is the earliest plausible publication time of a CVMFS manifest
var Epoch = time.Date(2008, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultClockSkew is how far in the future a timestamp may lie
const DefaultClockSkew = time.Hour

// Check is one named structural check
type Check struct {
	Name   string      `json:"name"`
	Result CheckResult `json:"result"`
	Detail string      `json:"detail,omitempty"`
}

// SignatureReason explains a signature verdict
type SignatureReason int

const (
	// ReasonNotChecked is the zero value: no manifest was available to verify
	ReasonNotChecked SignatureReason = iota
	ReasonVerified
	ReasonUnsigned
	ReasonNoTrustMaterial
	ReasonMissingCertificateReference
	ReasonCertificateUnavailable
	ReasonCertificateMismatch
	ReasonContentHashMismatch
	ReasonBadSignature
	ReasonUntrusted
)

func (r SignatureReason) String() string {
	switch r {
	case ReasonNotChecked:
		return "not checked"
	case ReasonVerified:
		return "verified"
	case ReasonUnsigned:
		return "unsigned"
	case ReasonNoTrustMaterial:
		return "no trust material"
	case ReasonMissingCertificateReference:
		return "no certificate reference"
	case ReasonCertificateUnavailable:
		return "certificate unavailable"
	case ReasonCertificateMismatch:
		return "certificate hash mismatch"
	case ReasonContentHashMismatch:
		return "content hash mismatch"
	case ReasonBadSignature:
		return "bad signature"
	case ReasonUntrusted:
		return "untrusted certificate"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (r SignatureReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// SignatureReport is the signature verdict of a manifest
type SignatureReport struct {
	Result CheckResult     `json:"result"`
	Reason SignatureReason `json:"reason"`
	Detail string          `json:"detail,omitempty"`
}

// Unverifiable reports whether a signature exists but could not be verified
func (s SignatureReport) Unverifiable() bool {
	return s.Result == Skipped && s.Reason != ReasonUnsigned && s.Reason != ReasonNotChecked
}

// ValidateOptions carries everything Validate needs beyond the manifest itself
type ValidateOptions struct {
	// ExpectedName is the repository the manifest was fetched for. Empty skips the check.
	ExpectedName string
	// Now is the reference time for timestamp checks. Zero means time.Now().
	Now       time.Time
	ClockSkew time.Duration
	// MinRevision is the last revision known to the caller, if any
	MinRevision *uint64
	// Certificate is the signing certificate resolved from the X reference
	Certificate *Certificate
	Trust       *TrustAnchor
}

// Report gathers the results of Validate
type Report struct {
	Structural []Check         `json:"structural"`
	Signature  SignatureReport `json:"signature"`
}

// StructuralResult folds the structural checks: Fail if any failed, else Pass
func (r *Report) StructuralResult() CheckResult {
	for _, c := range r.Structural {
		if c.Result == Fail {
			return Fail
		}
	}
	return Pass
}

// Failed returns the names of failed structural checks
func (r *Report) Failed() []string {
	var names []string
	for _, c := range r.Structural {
		if c.Result == Fail {
			names = append(names, c.Name)
		}
	}
	return names
}

// Lookup returns the structural check called name
func (r *Report) Lookup(name string) (Check, bool) {
	for _, c := range r.Structural {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Validate runs the structural checks and the signature check
func Validate(m *Manifest, opts ValidateOptions) *Report {
	return &Report{
		Structural: CheckStructure(m, opts),
		Signature:  VerifySignature(m, opts.Certificate, opts.Trust),
	}
}

// CheckStructure runs the field-level checks. Each field is judged on its own.
func CheckStructure(m *Manifest, opts ValidateOptions) []Check {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	skew := opts.ClockSkew
	if skew <= 0 {
		skew = DefaultClockSkew
	}

	checks := []Check{
		checkHash(CheckRootCatalog, &m.RootCatalog, true),
		checkPositive(CheckCatalogSize, m.CatalogSize),
		checkHash(CheckRootPath, m.RootPathHash, false),
		checkHash(CheckCertificate, m.Certificate, false),
		checkHash(CheckHistory, m.History, false),
		checkHash(CheckMetadata, m.Metadata, false),
		checkHash(CheckReflog, m.Reflog, false),
		checkHash(CheckMicroCatalog, m.MicroCatalog, false),
		checkRevision(m.Revision, opts.MinRevision),
		checkName(m.Name, opts.ExpectedName),
		checkTimestamp(m.PublishedAt(), now, skew),
		checkPositive(CheckTTL, m.TTL),
	}
	return checks
}

func checkHash(name string, h *Hash, required bool) Check {
	if h == nil || (h.IsZero() && !required) {
		return Check{Name: name, Result: Skipped, Detail: "absent"}
	}
	if !h.Valid() {
		return Check{
			Name:   name,
			Result: Fail,
			Detail: fmt.Sprintf("%s digest is %d bytes, want %d", h.Algorithm, len(h.Digest), h.Algorithm.Size()),
		}
	}
	return Check{Name: name, Result: Pass}
}

func checkPositive(name string, v uint64) Check {
	if v == 0 {
		return Check{Name: name, Result: Fail, Detail: "must be positive"}
	}
	return Check{Name: name, Result: Pass}
}

func checkRevision(rev uint64, min *uint64) Check {
	if min != nil && rev < *min {
		return Check{
			Name:   CheckRevision,
			Result: Fail,
			Detail: fmt.Sprintf("revision %d is older than known revision %d", rev, *min),
		}
	}
	return Check{Name: CheckRevision, Result: Pass}
}

func checkName(name, expected string) Check {
	switch {
	case name == "":
		return Check{Name: CheckName, Result: Fail, Detail: "empty"}
	case expected == "":
		return Check{Name: CheckName, Result: Pass}
	case name != expected:
		return Check{Name: CheckName, Result: Fail, Detail: fmt.Sprintf("manifest is for %q", name)}
	}
	return Check{Name: CheckName, Result: Pass}
}

func checkTimestamp(ts, now time.Time, skew time.Duration) Check {
	if ts.Before(Epoch) {
		return Check{Name: CheckTimestamp, Result: Fail, Detail: fmt.Sprintf("%s predates %s", ts.Format(time.RFC3339), Epoch.Format("2006"))}
	}
	if ts.After(now.Add(skew)) {
		return Check{Name: CheckTimestamp, Result: Fail, Detail: fmt.Sprintf("%s is in the future", ts.Format(time.RFC3339))}
	}
	return Check{Name: CheckTimestamp, Result: Pass}
}

// VerifySignature checks the detached signature of m. Without trust material
// the result is Skipped; a signature is never reported as Pass unless it
// verifies against a trusted certificate.
func VerifySignature(m *Manifest, cert *Certificate, trust *TrustAnchor) SignatureReport {
	if m.Signature == nil {
		if !trust.Empty() {
			return SignatureReport{Result: Fail, Reason: ReasonUnsigned, Detail: "trust material supplied but manifest is unsigned"}
		}
		return SignatureReport{Result: Skipped, Reason: ReasonUnsigned}
	}
	if trust.Empty() {
		return SignatureReport{Result: Skipped, Reason: ReasonNoTrustMaterial}
	}
	if m.Certificate == nil {
		return SignatureReport{Result: Fail, Reason: ReasonMissingCertificateReference}
	}

	sig := m.Signature
	computed, err := Sum(sig.ContentHash.Algorithm, m.signed)
	if err != nil {
		return SignatureReport{Result: Fail, Reason: ReasonContentHashMismatch, Detail: err.Error()}
	}
	if !computed.Equal(sig.ContentHash) {
		return SignatureReport{
			Result: Fail,
			Reason: ReasonContentHashMismatch,
			Detail: fmt.Sprintf("signed content hashes to %s, block says %s", computed, sig.ContentHash),
		}
	}

	if cert == nil || cert.Cert == nil {
		return SignatureReport{Result: Skipped, Reason: ReasonCertificateUnavailable}
	}
	if cert.Object != nil {
		objHash, err := Sum(m.Certificate.Algorithm, cert.Object)
		if err != nil || !objHash.Equal(*m.Certificate) {
			return SignatureReport{Result: Fail, Reason: ReasonCertificateMismatch, Detail: fmt.Sprintf("object hashes to %s", objHash)}
		}
	}

	pub, ok := cert.Cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return SignatureReport{Result: Fail, Reason: ReasonBadSignature, Detail: "certificate key is not RSA"}
	}
	digest := sha1.Sum(sig.SignedText())
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig.Bytes); err != nil {
		return SignatureReport{Result: Fail, Reason: ReasonBadSignature, Detail: err.Error()}
	}

	if err := trust.Verify(cert.Cert, m.PublishedAt()); err != nil {
		return SignatureReport{Result: Skipped, Reason: ReasonUntrusted, Detail: err.Error()}
	}
	return SignatureReport{Result: Pass, Reason: ReasonVerified}
}
