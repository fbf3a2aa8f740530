package manifest

import (
	"bufio"
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/utils"
)

// ErrUntrusted is returned when a certificate matches no trust material
var ErrUntrusted = errors.New("certificate is not trusted")

// TrustAnchor holds the material a signing certificate is checked against:
// CA or self-signed certificates, and accepted certificate fingerprints.
// The zero value trusts nothing.
type TrustAnchor struct {
	roots        *x509.CertPool
	rootCount    int
	fingerprints map[string]struct{}
}

// NewTrustAnchor creates an empty trust anchor
func NewTrustAnchor() *TrustAnchor {
	return &TrustAnchor{fingerprints: make(map[string]struct{})}
}

// Empty reports whether the anchor holds no trust material
func (t *TrustAnchor) Empty() bool {
	return t == nil || (t.rootCount == 0 && len(t.fingerprints) == 0)
}

// AddCertificate trusts cert as a root
func (t *TrustAnchor) AddCertificate(cert *x509.Certificate) {
	if t.roots == nil {
		t.roots = x509.NewCertPool()
	}
	t.roots.AddCert(cert)
	t.rootCount++
}

// AddPEM adds every certificate of a PEM bundle as a root
func (t *TrustAnchor) AddPEM(data []byte) error {
	added := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}
		t.AddCertificate(cert)
		added++
	}
	if added == 0 {
		return fmt.Errorf("no certificates found in PEM data")
	}
	return nil
}

// AddFingerprint accepts a certificate by its SHA-1 fingerprint,
// with or without colon separators.
func (t *TrustAnchor) AddFingerprint(fp string) error {
	norm, err := normalizeFingerprint(fp)
	if err != nil {
		return err
	}
	if t.fingerprints == nil {
		t.fingerprints = make(map[string]struct{})
	}
	t.fingerprints[norm] = struct{}{}
	return nil
}

// LoadFingerprints reads one fingerprint per line. The body of a .cvmfswhitelist
// is accepted as is: its timestamp, expiry and name lines are skipped and
// reading stops at the signature terminator.
func (t *TrustAnchor) LoadFingerprints(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == Terminator {
			break
		}
		if isWhitelistHeader(line) {
			continue
		}
		if err := t.AddFingerprint(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

// Verify checks cert against the anchor at time at. A fingerprint match is
// sufficient; otherwise the certificate must chain to a root.
func (t *TrustAnchor) Verify(cert *x509.Certificate, at time.Time) error {
	if t.Empty() {
		return ErrUntrusted
	}
	if _, ok := t.fingerprints[utils.Fingerprint(cert.Raw)]; ok {
		return nil
	}
	if t.roots == nil {
		return fmt.Errorf("%w: fingerprint %s not accepted", ErrUntrusted, utils.Fingerprint(cert.Raw))
	}
	if at.IsZero() {
		at = time.Now()
	}
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:       t.roots,
		CurrentTime: at,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrusted, err)
	}
	return nil
}

func normalizeFingerprint(fp string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(fp), ":", "")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 20 {
		return "", fmt.Errorf("invalid SHA-1 fingerprint %q", fp)
	}
	var buf bytes.Buffer
	for i, c := range strings.ToUpper(hex.EncodeToString(b)) {
		if i > 0 && i%2 == 0 {
			buf.WriteByte(':')
		}
		buf.WriteRune(c)
	}
	return buf.String(), nil
}

// isWhitelistHeader matches the "YYYYMMDDhhmmss", "E<expiry>" and "N<repo>" lines
func isWhitelistHeader(line string) bool {
	if len(line) == 14 && isDigits(line) {
		return true
	}
	if line[0] == 'E' && len(line) == 15 && isDigits(line[1:]) {
		return true
	}
	return line[0] == 'N' && !strings.Contains(line, ":")
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
