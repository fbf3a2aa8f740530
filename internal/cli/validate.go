package cli

import (
	"fmt"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/config"
	"github.com/ralt/cvmfs-scraper/internal/fetch"
	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/status"
	"github.com/ralt/cvmfs-scraper/internal/utils"
	"github.com/spf13/cobra"
)

type validateFlags struct {
	repository  string
	trust       config.TrustMaterial
	certObject  string
	statusFile  string
	minRevision uint64
	clockSkew   time.Duration
	jsonOutput  bool
}

type validateView struct {
	Report      *manifest.Report       `json:"report"`
	Consistency *status.Reconciliation `json:"consistency,omitempty"`
}

// NewValidateCmd creates the validate command
func NewValidateCmd() *cobra.Command {
	var flags validateFlags

	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a local .cvmfspublished file",
		Long: `Parses and validates a manifest file. The signature is verified when
trust material (--ca, --fingerprint, --fingerprints) and the certificate
object (--cert-object) are given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], &flags)
		},
	}

	cmd.Flags().StringVarP(&flags.repository, "repo", "r", "", "Expected repository name")
	cmd.Flags().StringSliceVar(&flags.trust.CAFiles, "ca", nil, "PEM file of trusted CA or repository certificates")
	cmd.Flags().StringSliceVar(&flags.trust.Fingerprints, "fingerprint", nil, "Accepted SHA1 certificate fingerprint")
	cmd.Flags().StringSliceVar(&flags.trust.FingerprintFiles, "fingerprints", nil, "File of accepted fingerprints, e.g. a .cvmfswhitelist")
	cmd.Flags().StringVar(&flags.certObject, "cert-object", "", "Compressed certificate object referenced by the X line")
	cmd.Flags().StringVar(&flags.statusFile, "status", "", ".cvmfs_status.json to reconcile against")
	cmd.Flags().Uint64Var(&flags.minRevision, "min-revision", 0, "Last known revision, 0 to skip the check")
	cmd.Flags().DurationVar(&flags.clockSkew, "clock-skew", manifest.DefaultClockSkew, "Accepted clock skew for the timestamp")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, flags *validateFlags) error {
	raw, err := utils.ReadFileLimited(path, fetch.DefaultMaxBytes)
	if err != nil {
		return &models.ScrapeError{Type: models.ErrTransport, Err: err}
	}
	m, err := manifest.ParseManifest(raw)
	if err != nil {
		return err
	}

	trust, err := flags.trust.Anchor()
	if err != nil {
		return err
	}

	opts := manifest.ValidateOptions{
		ExpectedName: flags.repository,
		Now:          time.Now(),
		ClockSkew:    flags.clockSkew,
		Trust:        trust,
	}
	if flags.minRevision > 0 {
		opts.MinRevision = &flags.minRevision
	}
	if flags.certObject != "" {
		obj, err := utils.ReadFileLimited(flags.certObject, fetch.DefaultMaxBytes)
		if err != nil {
			return &models.ScrapeError{Type: models.ErrTransport, Err: err}
		}
		cert, err := manifest.ParseCertificateObject(obj)
		if err != nil {
			return models.NewError(models.ErrSignatureUnverifiable, "%s: %w", flags.certObject, err)
		}
		opts.Certificate = cert
	}

	report := manifest.Validate(m, opts)

	var rec *status.Reconciliation
	if flags.statusFile != "" {
		var st *status.Status
		data, statusErr := utils.ReadFileLimited(flags.statusFile, fetch.DefaultMaxBytes)
		if statusErr != nil {
			statusErr = &models.ScrapeError{Type: models.ErrTransport, Err: statusErr}
		} else {
			st, statusErr = status.ParseStatus(data)
		}
		r := status.Reconcile(m, st, statusErr)
		rec = &r
	}

	out := cmd.OutOrStdout()
	if flags.jsonOutput {
		if err := writeJSON(out, validateView{Report: report, Consistency: rec}); err != nil {
			return err
		}
	} else if err := printReport(out, report, rec); err != nil {
		return err
	}

	if failed := report.Failed(); len(failed) > 0 {
		return models.NewError(models.ErrMalformedManifest, "failed checks: %v", failed)
	}
	if report.Signature.Result == manifest.Fail {
		return fmt.Errorf("signature: %s", report.Signature.Reason)
	}
	return nil
}
