package signer

import "github.com/ralt/cvmfs-scraper/internal/manifest"

// Signer interface for signing repository manifests
type Signer interface {
	// SignManifest appends the detached signature block to a manifest body
	SignManifest(body []byte) ([]byte, error)

	// GetCertificate returns the signing certificate in PEM format
	GetCertificate() ([]byte, error)

	// CertificateObject returns the compressed certificate object and its hash
	CertificateObject() ([]byte, manifest.Hash, error)
}

var _ Signer = (*RSASigner)(nil)
