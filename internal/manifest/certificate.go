package manifest

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/ralt/cvmfs-scraper/internal/utils"
)

// CertificateSuffix is the object type suffix of certificates in the CAS
const CertificateSuffix = 'X'

// Certificate is a signing certificate resolved from the manifest's X reference
type Certificate struct {
	// Object is the certificate as stored (zlib compressed). Nil when the
	// certificate did not come from the repository's object store.
	Object []byte
	Cert   *x509.Certificate
}

// ParseCertificateObject decodes a certificate object fetched from the CAS:
// a zlib stream wrapping a PEM (or DER) encoded X.509 certificate.
func ParseCertificateObject(object []byte) (*Certificate, error) {
	inflated, err := utils.ZlibDecompress(object)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress certificate object: %w", err)
	}

	cert, err := parseCertificate(inflated)
	if err != nil {
		return nil, err
	}

	return &Certificate{Object: object, Cert: cert}, nil
}

// NewCertificateObject builds the CAS object for a certificate and returns it
// together with its content hash, the value a manifest's X line carries.
func NewCertificateObject(cert *x509.Certificate, alg utils.Algorithm) ([]byte, Hash, error) {
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	object, err := utils.ZlibCompress(pemBytes)
	if err != nil {
		return nil, Hash{}, err
	}
	h, err := Sum(alg, object)
	if err != nil {
		return nil, Hash{}, err
	}
	return object, h, nil
}

func parseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}
