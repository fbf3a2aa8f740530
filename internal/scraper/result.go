package scraper

import (
	"fmt"

	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/metadata"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/status"
)

// RepositoryResult is the outcome for one repository of one server.
// Manifest and Status are reported side by side, never merged.
type RepositoryResult struct {
	Name string `json:"name"`

	// Manifest is nil when Err is set
	Manifest   *manifest.Manifest       `json:"-"`
	Structural []manifest.Check         `json:"structural,omitempty"`
	Signature  manifest.SignatureReport `json:"signature"`

	Status      *status.Status        `json:"status,omitempty"`
	StatusErr   error                 `json:"-"`
	Consistency status.Reconciliation `json:"consistency"`

	// Advertised says whether repositories.json lists the repository.
	// Skipped when the server publishes no repositories.json.
	Advertised manifest.CheckResult `json:"advertised"`

	// Err is the transport or parse error that prevented validating the manifest
	Err error `json:"-"`
}

// Failed reports whether the manifest could not be fetched, parsed, or
// failed a structural check
func (r *RepositoryResult) Failed() bool {
	if r.Err != nil || r.Manifest == nil {
		return true
	}
	for _, c := range r.Structural {
		if c.Result == manifest.Fail {
			return true
		}
	}
	return false
}

// Problems lists every typed error behind this result
func (r *RepositoryResult) Problems() []error {
	var errs []error
	if r.Err != nil {
		errs = append(errs, r.Err)
		return errs
	}
	for _, c := range r.Structural {
		if c.Result == manifest.Fail {
			errs = append(errs, &models.ScrapeError{
				Type:       models.ErrMalformedManifest,
				Repository: r.Name,
				Err:        fmt.Errorf("%s: %s", c.Name, c.Detail),
			})
		}
	}
	if r.Signature.Unverifiable() {
		errs = append(errs, &models.ScrapeError{
			Type:       models.ErrSignatureUnverifiable,
			Repository: r.Name,
			Err:        fmt.Errorf("%s", r.Signature.Reason),
		})
	}
	if r.StatusErr != nil && models.IsType(r.StatusErr, models.ErrMalformedStatus) {
		errs = append(errs, r.StatusErr)
	}
	return errs
}

// Revision returns the manifest revision, or 0 without a manifest
func (r *RepositoryResult) Revision() uint64 {
	if r.Manifest == nil {
		return 0
	}
	return r.Manifest.Revision
}

// PopulatedServer is the read-only snapshot of a successfully scraped server
type PopulatedServer struct {
	Server models.Server `json:"server"`
	// BackendDetected is never AutoDetect
	BackendDetected models.BackendType      `json:"backend_detected"`
	Metadata        metadata.ServerMetadata `json:"metadata"`
	Repositories    []RepositoryResult      `json:"repositories"`
}

// Repository returns the result for name
func (p *PopulatedServer) Repository(name string) (*RepositoryResult, bool) {
	for i := range p.Repositories {
		if p.Repositories[i].Name == name {
			return &p.Repositories[i], true
		}
	}
	return nil, false
}

// FailedServer is a server whose metadata could not be obtained.
// No repository results exist for it.
type FailedServer struct {
	Server models.Server `json:"server"`
	Err    error         `json:"-"`
}

// ScrapedServer holds exactly one of Populated or Failed
type ScrapedServer struct {
	Populated *PopulatedServer
	Failed    *FailedServer
}

// IsFailed reports whether the server scrape failed as a whole
func (s ScrapedServer) IsFailed() bool {
	return s.Failed != nil
}

// Server returns the server the result belongs to
func (s ScrapedServer) Server() models.Server {
	if s.Failed != nil {
		return s.Failed.Server
	}
	return s.Populated.Server
}
