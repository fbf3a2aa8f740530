package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/fetch"
	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/signer"
	"github.com/ralt/cvmfs-scraper/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type signFlags struct {
	keyPath    string
	passphrase string
	certPath   string
	output     string
	root       string
}

// NewSignCmd creates the sign command
func NewSignCmd() *cobra.Command {
	var flags signFlags

	cmd := &cobra.Command{
		Use:   "sign <manifest>",
		Short: "Sign a manifest body",
		Long: `Parses a manifest, points its X line at the signing certificate, and
writes it back in canonical order followed by its signature block.

With --root the signed manifest and the certificate object are written
into a server storage tree, ready for "scan".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.output == "" && flags.root == "" {
				return fmt.Errorf("one of --output or --root is required")
			}
			return runSign(args[0], &flags)
		},
	}

	cmd.Flags().StringVarP(&flags.keyPath, "key", "k", "", "Path to RSA private key")
	cmd.Flags().StringVarP(&flags.passphrase, "passphrase", "p", "", "Private key passphrase")
	cmd.Flags().StringVar(&flags.certPath, "cert", "", "Path to the PEM certificate matching the key")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the signed manifest to this file")
	cmd.Flags().StringVar(&flags.root, "root", "", "Write manifest and certificate object into this storage tree")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func runSign(path string, flags *signFlags) error {
	raw, err := utils.ReadFileLimited(path, fetch.DefaultMaxBytes)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := manifest.ParseManifest(raw)
	if err != nil {
		return err
	}

	s, err := signer.NewRSASignerFromFiles(flags.keyPath, flags.passphrase, flags.certPath)
	if err != nil {
		return fmt.Errorf("failed to initialize RSA signer: %w", err)
	}

	signed, object, err := signManifest(s, m, flags.certPath != "")
	if err != nil {
		return err
	}

	if flags.output != "" {
		if err := utils.WriteFile(flags.output, signed, 0644); err != nil {
			return err
		}
		logrus.Infof("Signed manifest written to %s", flags.output)
	}

	if flags.root != "" {
		dest := filepath.Join(flags.root, filepath.FromSlash(fetch.ManifestPath(m.Name)))
		if err := utils.WriteFile(dest, signed, 0644); err != nil {
			return err
		}
		logrus.Infof("Signed manifest written to %s", dest)

		if object != nil {
			objPath := fetch.ObjectPath(m.Name, m.Certificate.ObjectPath(manifest.CertificateSuffix))
			dest := filepath.Join(flags.root, filepath.FromSlash(objPath))
			if err := utils.WriteFile(dest, object, 0644); err != nil {
				return err
			}
			logrus.Infof("Certificate object written to %s", dest)
		}
	}

	return nil
}

// signManifest signs m with s. With attachCert the X line is pointed at the
// signer's certificate and the certificate object is returned alongside.
func signManifest(s signer.Signer, m *manifest.Manifest, attachCert bool) (signed, object []byte, err error) {
	if attachCert {
		var h manifest.Hash
		object, h, err = s.CertificateObject()
		if err != nil {
			return nil, nil, err
		}
		m.Certificate = &h
	}

	body, err := m.MarshalText()
	if err != nil {
		return nil, nil, err
	}
	signed, err = s.SignManifest(body)
	if err != nil {
		return nil, nil, err
	}
	return signed, object, nil
}

// NewKeygenCmd creates the keygen command
func NewKeygenCmd() *cobra.Command {
	var (
		outDir   string
		validity time.Duration
	)

	cmd := &cobra.Command{
		Use:   "keygen <repository>",
		Short: "Generate a repository key, public key and self-signed certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			key, cert, err := signer.GenerateSelfSigned(name, validity)
			if err != nil {
				return err
			}

			keyPath := filepath.Join(outDir, name+".key")
			if err := utils.WriteFile(keyPath, signer.EncodePrivateKey(key), 0600); err != nil {
				return err
			}

			s, err := signer.NewRSASigner(key, cert, utils.SHA1)
			if err != nil {
				return err
			}
			certPEM, err := s.GetCertificate()
			if err != nil {
				return err
			}
			certPath := filepath.Join(outDir, name+".crt")
			if err := utils.WriteFile(certPath, certPEM, 0644); err != nil {
				return err
			}

			pubPEM, err := s.GetPublicKey()
			if err != nil {
				return err
			}
			pubPath := filepath.Join(outDir, name+".pub")
			if err := utils.WriteFile(pubPath, pubPEM, 0644); err != nil {
				return err
			}

			logrus.Infof("Wrote %s, %s and %s (fingerprint %s)", keyPath, certPath, pubPath, utils.Fingerprint(cert.Raw))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output-dir", "o", ".", "Directory to write the key and certificate")
	cmd.Flags().DurationVar(&validity, "validity", 365*24*time.Hour, "Certificate validity")

	return cmd
}
