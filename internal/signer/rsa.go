package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/utils"
)

// RSASigner signs manifests the way cvmfs_server does: the body is hashed,
// and the textual hash is signed with RSA PKCS1v15 over SHA1.
type RSASigner struct {
	privateKey  *rsa.PrivateKey
	certificate *x509.Certificate
	algorithm   utils.Algorithm
}

// NewRSASigner creates a signer from an in-memory key and certificate
func NewRSASigner(key *rsa.PrivateKey, cert *x509.Certificate, alg utils.Algorithm) (*RSASigner, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is nil")
	}
	if cert != nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok || !pub.Equal(&key.PublicKey) {
			return nil, fmt.Errorf("certificate does not match private key")
		}
	}
	return &RSASigner{privateKey: key, certificate: cert, algorithm: alg}, nil
}

// NewRSASignerFromFiles loads a PEM private key and an optional PEM certificate
func NewRSASignerFromFiles(keyPath, passphrase, certPath string) (*RSASigner, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is empty")
	}

	// Read private key file
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	privateKey, err := decodePrivateKey(keyData, passphrase)
	if err != nil {
		return nil, err
	}

	var cert *x509.Certificate
	if certPath != "" {
		certData, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file: %w", err)
		}
		block, _ := pem.Decode(certData)
		if block == nil {
			return nil, fmt.Errorf("failed to decode certificate PEM block")
		}
		cert, err = x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
	}

	return NewRSASigner(privateKey, cert, utils.SHA1)
}

func decodePrivateKey(keyData []byte, passphrase string) (*rsa.PrivateKey, error) {
	// Parse PEM block
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Check if key is encrypted
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return nil, fmt.Errorf("key is encrypted but no passphrase provided")
		}

		decryptedData, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key: %w", err)
		}
		return parseRSAPrivateKey(decryptedData)
	}

	return parseRSAPrivateKey(block.Bytes)
}

// parseRSAPrivateKey tries to parse RSA private key in PKCS1 or PKCS8 format
func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	// Try PKCS1 first
	key, err := x509.ParsePKCS1PrivateKey(data)
	if err == nil {
		return key, nil
	}

	// Try PKCS8
	parsedKey, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA private key")
	}

	return rsaKey, nil
}

// SignManifest returns body followed by "--", the body hash and the signature
func (s *RSASigner) SignManifest(body []byte) ([]byte, error) {
	if len(body) == 0 || body[len(body)-1] != '\n' {
		return nil, fmt.Errorf("manifest body must end with a newline")
	}

	contentHash, err := manifest.Sum(s.algorithm, body)
	if err != nil {
		return nil, err
	}
	hashText := contentHash.String()

	hashed := sha1.Sum([]byte(hashText))
	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA1, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(body)
	buf.WriteString(manifest.Terminator + "\n")
	buf.WriteString(hashText + "\n")
	buf.Write(signature)

	return buf.Bytes(), nil
}

// GetCertificate returns the certificate in PEM format
func (s *RSASigner) GetCertificate() ([]byte, error) {
	if s.certificate == nil {
		return nil, fmt.Errorf("signer has no certificate")
	}
	block := &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: s.certificate.Raw,
	}
	return pem.EncodeToMemory(block), nil
}

// CertificateObject returns the zlib-compressed certificate object and the hash
// a manifest should reference it by.
func (s *RSASigner) CertificateObject() ([]byte, manifest.Hash, error) {
	if s.certificate == nil {
		return nil, manifest.Hash{}, fmt.Errorf("signer has no certificate")
	}
	return manifest.NewCertificateObject(s.certificate, s.algorithm)
}

// GetPublicKey returns the public key in PEM format
func (s *RSASigner) GetPublicKey() ([]byte, error) {
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	block := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	}

	return pem.EncodeToMemory(block), nil
}
