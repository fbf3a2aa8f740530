// Package scraper drives fetching and validation of a server's metadata and
// repositories.
package scraper

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/fetch"
	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/metadata"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/status"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FetcherFactory returns the transport for a server
type FetcherFactory func(server models.Server) fetch.Fetcher

// HTTPFetchers builds HTTP fetchers sharing client
func HTTPFetchers(client fetch.HTTPClient) FetcherFactory {
	return func(server models.Server) fetch.Fetcher {
		return fetch.NewHTTPFetcher(server.BaseURL(), client)
	}
}

// Trust maps repositories to trust material. Default applies to repositories
// without their own entry; nil means no trust material.
type Trust struct {
	Default       *manifest.TrustAnchor
	PerRepository map[string]*manifest.TrustAnchor
}

// For returns the trust anchor for repo
func (t Trust) For(repo string) *manifest.TrustAnchor {
	if a, ok := t.PerRepository[repo]; ok {
		return a
	}
	return t.Default
}

// Options tune a Scraper
type Options struct {
	// Concurrency bounds the repositories scraped at once per server
	Concurrency int
	// ServerConcurrency bounds the servers scraped at once by ScrapeAll
	ServerConcurrency int
	// AllowMissingMeta keeps a CVMFS server whose meta.json cannot be fetched
	AllowMissingMeta bool
	Trust            Trust
	// MinRevisions holds the last known revision per repository
	MinRevisions map[string]uint64
	ClockSkew    time.Duration
	// Now defaults to time.Now
	Now func() time.Time
}

// Scraper scrapes servers. It holds no mutable state and is safe for concurrent use.
type Scraper struct {
	newFetcher FetcherFactory
	opts       Options
}

// New creates a scraper
func New(factory FetcherFactory, opts Options) *Scraper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ServerConcurrency <= 0 {
		opts.ServerConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scraper{newFetcher: factory, opts: opts}
}

// ScrapeAll scrapes servers concurrently. Results are sorted by hostname.
func (s *Scraper) ScrapeAll(ctx context.Context, servers []models.Server, repos []string) []ScrapedServer {
	results := make([]ScrapedServer, len(servers))

	var g errgroup.Group
	g.SetLimit(s.opts.ServerConcurrency)
	for i, server := range servers {
		i, server := i, server
		g.Go(func() error {
			results[i] = s.Scrape(ctx, server, repos)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Server().Hostname < results[j].Server().Hostname
	})
	return results
}

// Scrape fetches the server metadata, then validates every requested and
// advertised repository. Only a server metadata failure fails the server.
func (s *Scraper) Scrape(ctx context.Context, server models.Server, repos []string) ScrapedServer {
	log := logrus.WithFields(logrus.Fields{"server": server.Hostname, "type": server.Type})
	log.Debug("Scraping server")

	f := s.newFetcher(server)
	fail := func(err error) ScrapedServer {
		log.WithError(err).Warn("Server scrape failed")
		return ScrapedServer{Failed: &FailedServer{Server: server, Err: asServerMetadata(err)}}
	}

	names := make(map[string]bool)
	for _, r := range repos {
		names[r] = true
	}

	var reposDoc *metadata.RepositoriesDoc
	detected := server.Backend

	switch server.Backend {
	case models.AutoDetect:
		doc, err := fetchRepositories(ctx, f)
		switch {
		case err == nil:
			log.Debug("Detected CVMFS backend")
			detected = models.BackendCVMFS
			reposDoc = doc
		case fetch.IsMissing(err):
			log.Debug("Detected S3 backend")
			detected = models.BackendS3
		default:
			return fail(err)
		}
	case models.BackendCVMFS:
		doc, err := fetchRepositories(ctx, f)
		if err != nil {
			return fail(err)
		}
		reposDoc = doc
	case models.BackendS3:
	}

	var metaDoc *metadata.MetaDoc
	if reposDoc != nil {
		if err := metadata.ValidateServerType(server.Type, reposDoc); err != nil {
			return fail(err)
		}
		for _, n := range reposDoc.Names() {
			names[n] = true
		}

		doc, err := fetchMeta(ctx, f)
		switch {
		case err == nil:
			metaDoc = doc
		case s.opts.AllowMissingMeta && models.IsType(err, models.ErrTransport):
			log.WithError(err).Debug("meta.json unavailable")
		default:
			return fail(err)
		}
	}

	if detected == models.BackendS3 && len(names) == 0 {
		return fail(models.NewError(models.ErrServerMetadata, "empty repository list with S3 backend"))
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	results := s.scrapeRepositories(ctx, f, sorted, reposDoc)
	log.WithField("repositories", len(results)).Info("Server scraped")

	return ScrapedServer{Populated: &PopulatedServer{
		Server:          server,
		BackendDetected: detected,
		Metadata:        metadata.Merge(reposDoc, metaDoc),
		Repositories:    results,
	}}
}

func (s *Scraper) scrapeRepositories(ctx context.Context, f fetch.Fetcher, names []string, doc *metadata.RepositoriesDoc) []RepositoryResult {
	results := make([]RepositoryResult, len(names))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = s.scrapeRepository(ctx, f, name, doc)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Scraper) scrapeRepository(ctx context.Context, f fetch.Fetcher, name string, doc *metadata.RepositoriesDoc) RepositoryResult {
	log := logrus.WithField("repository", name)
	res := RepositoryResult{Name: name, Advertised: advertised(doc, name)}

	raw, err := f.Fetch(ctx, fetch.ManifestPath(name))
	if err != nil {
		log.WithError(err).Warn("Failed to fetch manifest")
		res.Err = attribute(err, name)
		return res
	}
	m, err := manifest.ParseManifest(raw)
	if err != nil {
		log.WithError(err).Warn("Failed to parse manifest")
		res.Err = attribute(err, name)
		return res
	}
	res.Manifest = m

	trust := s.opts.Trust.For(name)
	var cert *manifest.Certificate
	var certErr error
	if m.IsSigned() && !trust.Empty() && m.Certificate != nil && m.Certificate.Valid() {
		cert, certErr = fetchCertificate(ctx, f, name, *m.Certificate)
		if certErr != nil {
			log.WithError(certErr).Debug("Certificate unavailable")
		}
	}

	opts := manifest.ValidateOptions{
		ExpectedName: name,
		Now:          s.opts.Now(),
		ClockSkew:    s.opts.ClockSkew,
		Certificate:  cert,
		Trust:        trust,
	}
	if min, ok := s.opts.MinRevisions[name]; ok {
		opts.MinRevision = &min
	}
	report := manifest.Validate(m, opts)
	res.Structural = report.Structural
	res.Signature = report.Signature
	if certErr != nil && res.Signature.Reason == manifest.ReasonCertificateUnavailable {
		res.Signature.Detail = certErr.Error()
	}

	rawStatus, statusErr := f.Fetch(ctx, fetch.StatusPath(name))
	if statusErr == nil {
		res.Status, statusErr = status.ParseStatus(rawStatus)
	}
	if statusErr != nil {
		statusErr = attribute(statusErr, name)
	}
	res.StatusErr = statusErr
	res.Consistency = status.Reconcile(m, res.Status, statusErr)

	log.WithFields(logrus.Fields{
		"revision":    m.Revision,
		"structural":  report.StructuralResult(),
		"signature":   res.Signature.Reason,
		"consistency": res.Consistency.Verdict,
	}).Debug("Repository scraped")

	return res
}

func fetchRepositories(ctx context.Context, f fetch.Fetcher) (*metadata.RepositoriesDoc, error) {
	raw, err := f.Fetch(ctx, metadata.RepositoriesPath)
	if err != nil {
		return nil, err
	}
	return metadata.ParseRepositories(raw)
}

func fetchMeta(ctx context.Context, f fetch.Fetcher) (*metadata.MetaDoc, error) {
	raw, err := f.Fetch(ctx, metadata.MetaPath)
	if err != nil {
		return nil, err
	}
	return metadata.ParseMeta(raw)
}

func fetchCertificate(ctx context.Context, f fetch.Fetcher, repo string, h manifest.Hash) (*manifest.Certificate, error) {
	raw, err := f.Fetch(ctx, fetch.ObjectPath(repo, h.ObjectPath(manifest.CertificateSuffix)))
	if err != nil {
		return nil, err
	}
	return manifest.ParseCertificateObject(raw)
}

func advertised(doc *metadata.RepositoriesDoc, name string) manifest.CheckResult {
	if doc == nil {
		return manifest.Skipped
	}
	if _, ok := doc.Lookup(name); ok {
		return manifest.Pass
	}
	return manifest.Fail
}

// asServerMetadata files any server-level failure under ErrServerMetadata,
// keeping the original error reachable through Unwrap
func asServerMetadata(err error) error {
	if models.IsType(err, models.ErrServerMetadata) {
		return err
	}
	return &models.ScrapeError{Type: models.ErrServerMetadata, Err: err}
}

func attribute(err error, repo string) error {
	var se *models.ScrapeError
	if errors.As(err, &se) && se.Repository == "" {
		return se.WithRepository(repo)
	}
	return err
}
