package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ralt/cvmfs-scraper/internal/fetch"
	"github.com/ralt/cvmfs-scraper/internal/manifest"
	"github.com/ralt/cvmfs-scraper/internal/metadata"
	"github.com/ralt/cvmfs-scraper/internal/models"
	"github.com/ralt/cvmfs-scraper/internal/signer"
	"github.com/ralt/cvmfs-scraper/internal/status"
	"github.com/ralt/cvmfs-scraper/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	repoA    = "a.example.org"
	repoB    = "b.example.org"
	rootHash = "ee1a1bfa5d8e8c93ffd2a2b9b3bdda77f1a2b6c7"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeServer serves a fixed set of files and records every request path
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{files: make(map[string][]byte)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		fs.mu.Lock()
		fs.requests = append(fs.requests, path)
		data, ok := fs.files[path]
		fs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) put(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = data
}

func (fs *fakeServer) requested(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, p := range fs.requests {
		if p == path {
			return true
		}
	}
	return false
}

func (fs *fakeServer) server(t *testing.T, st models.ServerType, b models.BackendType) models.Server {
	t.Helper()
	s, err := models.NewServer(st, b, strings.TrimPrefix(fs.URL, "http://"))
	require.NoError(t, err)
	return s
}

func (fs *fakeServer) putRepositories(repos, replicas []string) {
	entries := func(names []string) string {
		var parts []string
		for _, n := range names {
			parts = append(parts, fmt.Sprintf(`{"name": %q, "url": "/cvmfs/%s"}`, n, n))
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	fs.put(metadata.RepositoriesPath, []byte(fmt.Sprintf(
		`{"schema": 1, "cvmfs_version": "2.11.2", "repositories": %s, "replicas": %s}`,
		entries(repos), entries(replicas))))
	fs.put(metadata.MetaPath, []byte(`{"administrator": "Ops", "email": "ops@example.org"}`))
}

// publisher signs manifests for repositories and stores them on the fake server
type publisher struct {
	signer *signer.RSASigner
	anchor *manifest.TrustAnchor
	object []byte
	hash   manifest.Hash
}

func newPublisher(t *testing.T) *publisher {
	t.Helper()
	key, cert, err := signer.GenerateSelfSigned("example.org", 24*time.Hour)
	require.NoError(t, err)
	s, err := signer.NewRSASigner(key, cert, utils.SHA1)
	require.NoError(t, err)
	object, h, err := s.CertificateObject()
	require.NoError(t, err)

	anchor := manifest.NewTrustAnchor()
	anchor.AddCertificate(cert)
	return &publisher{signer: s, anchor: anchor, object: object, hash: h}
}

func (p *publisher) publish(t *testing.T, fs *fakeServer, repo string, rev uint64) {
	t.Helper()
	body := "C" + rootHash + "\n" +
		"B4096\n" +
		"D240\n" +
		"S" + strconv.FormatUint(rev, 10) + "\n" +
		"N" + repo + "\n" +
		"X" + p.hash.String() + "\n" +
		"T" + strconv.FormatInt(time.Now().Unix(), 10) + "\n"
	signed, err := p.signer.SignManifest([]byte(body))
	require.NoError(t, err)

	fs.put(fetch.ManifestPath(repo), signed)
	fs.put(fetch.ObjectPath(repo, p.hash.ObjectPath(manifest.CertificateSuffix)), p.object)
}

func putStatus(fs *fakeServer, repo, root string, rev uint64) {
	fs.put(fetch.StatusPath(repo), []byte(fmt.Sprintf(`{"root_hash": %q, "revision": %d, "last_snapshot": "Tue Mar 26 11:09:46 UTC 2024"}`, root, rev)))
}

func newTestScraper(opts Options) *Scraper {
	return New(HTTPFetchers(fetch.NewHTTPClient(5*time.Second)), opts)
}

func TestScrapeServer(t *testing.T) {
	fs := newFakeServer(t)
	pub := newPublisher(t)

	fs.putRepositories(nil, []string{repoA, repoB})
	pub.publish(t, fs, repoA, 5)
	putStatus(fs, repoA, rootHash, 5)
	// repoB is advertised but its manifest is missing

	sc := newTestScraper(Options{Trust: Trust{Default: pub.anchor}})
	result := sc.Scrape(context.Background(), fs.server(t, models.Stratum1, models.AutoDetect), []string{repoA, "extra.example.org"})

	require.False(t, result.IsFailed())
	p := result.Populated
	assert.Equal(t, models.BackendCVMFS, p.BackendDetected)
	assert.Equal(t, "Ops", p.Metadata.Administrator)
	assert.Equal(t, "2.11.2", p.Metadata.CVMFSVersion)
	require.Len(t, p.Repositories, 3)

	a, ok := p.Repository(repoA)
	require.True(t, ok)
	require.NoError(t, a.Err)
	assert.False(t, a.Failed())
	assert.Equal(t, uint64(5), a.Revision())
	assert.Equal(t, manifest.Pass, a.Signature.Result, a.Signature.Detail)
	assert.Equal(t, manifest.ReasonVerified, a.Signature.Reason)
	assert.Equal(t, status.Consistent, a.Consistency.Verdict, a.Consistency.Detail)
	assert.Equal(t, manifest.Pass, a.Advertised)
	require.NotNil(t, a.Status)
	assert.NotNil(t, a.Status.LastSnapshot)
	assert.Empty(t, a.Problems())

	b, ok := p.Repository(repoB)
	require.True(t, ok)
	assert.Nil(t, b.Manifest)
	// Nothing was verified or reconciled for a manifest that never arrived
	assert.Equal(t, manifest.Skipped, b.Signature.Result)
	assert.Equal(t, manifest.ReasonNotChecked, b.Signature.Reason)
	assert.Equal(t, status.NotReconciled, b.Consistency.Verdict)
	assert.Empty(t, b.Structural)
	assert.True(t, b.Failed())
	assert.True(t, models.IsType(b.Err, models.ErrTransport))
	assert.ErrorIs(t, b.Err, fetch.ErrNotFound)
	assert.Contains(t, b.Err.Error(), repoB)
	assert.Equal(t, manifest.Pass, b.Advertised)
	assert.Len(t, b.Problems(), 1)

	extra, ok := p.Repository("extra.example.org")
	require.True(t, ok)
	assert.Equal(t, manifest.Fail, extra.Advertised)

	// Results are sorted by repository name
	assert.Equal(t, repoA, p.Repositories[0].Name)
	assert.Equal(t, repoB, p.Repositories[1].Name)
	assert.Equal(t, "extra.example.org", p.Repositories[2].Name)
}

func TestScrapeRepositoriesUnreachable(t *testing.T) {
	fs := newFakeServer(t)
	pub := newPublisher(t)
	pub.publish(t, fs, repoA, 5)

	result := newTestScraper(Options{}).Scrape(context.Background(), fs.server(t, models.Stratum1, models.BackendCVMFS), []string{repoA})

	require.True(t, result.IsFailed())
	assert.Nil(t, result.Populated)
	assert.True(t, models.IsType(result.Failed.Err, models.ErrServerMetadata), "got %v", result.Failed.Err)
	assert.ErrorIs(t, result.Failed.Err, fetch.ErrNotFound)
	assert.False(t, fs.requested(fetch.ManifestPath(repoA)), "no repository may be scraped for a failed server")
}

func TestScrapeServerMetadataFailures(t *testing.T) {
	tests := []struct {
		name    string
		st      models.ServerType
		backend models.BackendType
		setup   func(fs *fakeServer)
	}{
		{
			name: "stratum0 with replicas", st: models.Stratum0, backend: models.AutoDetect,
			setup: func(fs *fakeServer) { fs.putRepositories(nil, []string{repoA}) },
		},
		{
			name: "stratum1 without replicas", st: models.Stratum1, backend: models.BackendCVMFS,
			setup: func(fs *fakeServer) { fs.putRepositories([]string{repoA}, nil) },
		},
		{
			name: "malformed repositories.json", st: models.Stratum1, backend: models.AutoDetect,
			setup: func(fs *fakeServer) { fs.put(metadata.RepositoriesPath, []byte("{")) },
		},
		{
			name: "missing meta.json", st: models.Stratum1, backend: models.BackendCVMFS,
			setup: func(fs *fakeServer) {
				fs.putRepositories(nil, []string{repoA})
				delete(fs.files, metadata.MetaPath)
			},
		},
		{
			name: "s3 without repositories", st: models.Stratum1, backend: models.BackendS3,
			setup: func(fs *fakeServer) {},
		},
		{
			name: "autodetected s3 without repositories", st: models.Stratum1, backend: models.AutoDetect,
			setup: func(fs *fakeServer) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t)
			tt.setup(fs)

			result := newTestScraper(Options{}).Scrape(context.Background(), fs.server(t, tt.st, tt.backend), nil)
			require.True(t, result.IsFailed())
			assert.True(t, models.IsType(result.Failed.Err, models.ErrServerMetadata), "got %v", result.Failed.Err)
		})
	}
}

func TestScrapeAutodetectUnreachableServer(t *testing.T) {
	timeout := fetch.FetcherFunc(func(ctx context.Context, path string) ([]byte, error) {
		return nil, &models.ScrapeError{Type: models.ErrTransport, Err: &fetch.TransportError{URL: path, Err: context.DeadlineExceeded}}
	})
	sc := New(func(models.Server) fetch.Fetcher { return timeout }, Options{})
	server, err := models.NewServer(models.Stratum1, models.AutoDetect, "cvmfs.example.org")
	require.NoError(t, err)

	result := sc.Scrape(context.Background(), server, []string{repoA})
	require.True(t, result.IsFailed(), "a timeout is not an S3 backend")
	assert.True(t, models.IsType(result.Failed.Err, models.ErrServerMetadata))
	assert.ErrorIs(t, result.Failed.Err, context.DeadlineExceeded)

	// A server that refuses connections fails the same way
	down := newFakeServer(t)
	downServer := down.server(t, models.Stratum1, models.AutoDetect)
	down.Close()
	result = newTestScraper(Options{}).Scrape(context.Background(), downServer, []string{repoA})
	require.True(t, result.IsFailed())
	assert.True(t, models.IsType(result.Failed.Err, models.ErrServerMetadata))
}

func TestScrapeAutodetectForbiddenIsS3(t *testing.T) {
	f := fetch.FetcherFunc(func(ctx context.Context, path string) ([]byte, error) {
		return nil, &models.ScrapeError{Type: models.ErrTransport, Err: &fetch.TransportError{URL: path, StatusCode: http.StatusForbidden, Err: errors.New("unexpected status 403")}}
	})
	sc := New(func(models.Server) fetch.Fetcher { return f }, Options{})
	server, err := models.NewServer(models.Stratum1, models.AutoDetect, "bucket.example.org")
	require.NoError(t, err)

	result := sc.Scrape(context.Background(), server, []string{repoA})
	require.False(t, result.IsFailed())
	assert.Equal(t, models.BackendS3, result.Populated.BackendDetected)
}

func TestScrapeAllowMissingMeta(t *testing.T) {
	fs := newFakeServer(t)
	fs.putRepositories(nil, []string{repoA})
	delete(fs.files, metadata.MetaPath)
	newPublisher(t).publish(t, fs, repoA, 1)

	result := newTestScraper(Options{AllowMissingMeta: true}).Scrape(context.Background(), fs.server(t, models.Stratum1, models.AutoDetect), nil)
	require.False(t, result.IsFailed(), "%v", result.Failed)
	assert.Empty(t, result.Populated.Metadata.Administrator)
	assert.Len(t, result.Populated.Repositories, 1)
}

func TestScrapeS3Backend(t *testing.T) {
	fs := newFakeServer(t)
	pub := newPublisher(t)
	pub.publish(t, fs, repoA, 3)
	putStatus(fs, repoA, rootHash, 3)

	for _, backend := range []models.BackendType{models.AutoDetect, models.BackendS3} {
		result := newTestScraper(Options{}).Scrape(context.Background(), fs.server(t, models.Stratum1, backend), []string{repoA})
		require.False(t, result.IsFailed())
		assert.Equal(t, models.BackendS3, result.Populated.BackendDetected)
		assert.Nil(t, result.Populated.Metadata.SchemaVersion)

		a := result.Populated.Repositories[0]
		assert.Equal(t, manifest.Skipped, a.Advertised)
		assert.Equal(t, manifest.Skipped, a.Signature.Result)
		assert.Equal(t, manifest.ReasonNoTrustMaterial, a.Signature.Reason)
		assert.Equal(t, status.Consistent, a.Consistency.Verdict)
	}

	assert.False(t, fs.requested(metadata.MetaPath), "meta.json is not part of an S3 backend")
	assert.False(t, fs.requested(fetch.ObjectPath(repoA, pub.hash.ObjectPath(manifest.CertificateSuffix))),
		"the certificate is only fetched when trust material exists")
}

func TestScrapeRepositoryVerdicts(t *testing.T) {
	fs := newFakeServer(t)
	pub := newPublisher(t)
	fs.putRepositories(nil, []string{repoA, repoB, "c.example.org", "d.example.org"})

	// a: status lags one revision behind
	pub.publish(t, fs, repoA, 5)
	putStatus(fs, repoA, rootHash, 4)

	// b: status is not JSON
	pub.publish(t, fs, repoB, 5)
	fs.put(fetch.StatusPath(repoB), []byte("<html>"))

	// c: certificate object is missing
	pub.publish(t, fs, "c.example.org", 5)
	delete(fs.files, fetch.ObjectPath("c.example.org", pub.hash.ObjectPath(manifest.CertificateSuffix)))

	// d: manifest is truncated
	fs.put(fetch.ManifestPath("d.example.org"), []byte("C"+rootHash+"\nB4096\n"))

	sc := newTestScraper(Options{
		Trust:        Trust{Default: pub.anchor},
		MinRevisions: map[string]uint64{repoB: 9},
		Concurrency:  2,
	})
	result := sc.Scrape(context.Background(), fs.server(t, models.Stratum1, models.AutoDetect), nil)
	require.False(t, result.IsFailed())
	require.Len(t, result.Populated.Repositories, 4)

	a, _ := result.Populated.Repository(repoA)
	assert.Equal(t, status.RevisionMismatch, a.Consistency.Verdict)
	assert.Equal(t, manifest.Pass, a.Signature.Result)
	assert.False(t, a.Failed(), "a status mismatch does not fail the manifest")

	b, _ := result.Populated.Repository(repoB)
	assert.Equal(t, status.StatusMalformed, b.Consistency.Verdict)
	assert.True(t, models.IsType(b.StatusErr, models.ErrMalformedStatus))
	assert.True(t, b.Failed(), "revision rollback below the known revision")
	var kinds []models.ErrorType
	for _, err := range b.Problems() {
		kind, _ := models.TypeOf(err)
		kinds = append(kinds, kind)
	}
	assert.ElementsMatch(t, []models.ErrorType{models.ErrMalformedManifest, models.ErrMalformedStatus}, kinds)

	c, _ := result.Populated.Repository("c.example.org")
	assert.Equal(t, manifest.Skipped, c.Signature.Result)
	assert.Equal(t, manifest.ReasonCertificateUnavailable, c.Signature.Reason)
	assert.Contains(t, c.Signature.Detail, "404")
	assert.Equal(t, status.StatusMissing, c.Consistency.Verdict)
	require.Len(t, c.Problems(), 1)
	assert.True(t, models.IsType(c.Problems()[0], models.ErrSignatureUnverifiable))

	d, _ := result.Populated.Repository("d.example.org")
	assert.Nil(t, d.Manifest)
	assert.True(t, models.IsType(d.Err, models.ErrMalformedManifest))
}

func TestScrapePerRepositoryTrust(t *testing.T) {
	fs := newFakeServer(t)
	pubA := newPublisher(t)
	pubB := newPublisher(t)
	fs.putRepositories(nil, []string{repoA, repoB})
	pubA.publish(t, fs, repoA, 1)
	pubB.publish(t, fs, repoB, 1)

	sc := newTestScraper(Options{Trust: Trust{
		Default:       pubA.anchor,
		PerRepository: map[string]*manifest.TrustAnchor{repoB: pubB.anchor},
	}})
	result := sc.Scrape(context.Background(), fs.server(t, models.Stratum1, models.AutoDetect), nil)
	require.False(t, result.IsFailed())

	for _, r := range result.Populated.Repositories {
		assert.Equal(t, manifest.Pass, r.Signature.Result, "%s: %s", r.Name, r.Signature.Detail)
	}

	// With only the default anchor, b's signer is untrusted
	sc = newTestScraper(Options{Trust: Trust{Default: pubA.anchor}})
	result = sc.Scrape(context.Background(), fs.server(t, models.Stratum1, models.AutoDetect), nil)
	b, _ := result.Populated.Repository(repoB)
	assert.Equal(t, manifest.Skipped, b.Signature.Result)
	assert.Equal(t, manifest.ReasonUntrusted, b.Signature.Reason)
}

func TestScrapeAll(t *testing.T) {
	good := newFakeServer(t)
	good.putRepositories(nil, []string{repoA})
	newPublisher(t).publish(t, good, repoA, 2)

	bad := newFakeServer(t)
	bad.putRepositories([]string{repoA}, nil) // a Stratum1 must list replicas

	goodServer := good.server(t, models.Stratum1, models.AutoDetect)
	badServer := bad.server(t, models.Stratum1, models.AutoDetect)
	results := newTestScraper(Options{}).ScrapeAll(context.Background(), []models.Server{goodServer, badServer}, nil)
	require.Len(t, results, 2)

	assert.True(t, results[0].Server().Hostname < results[1].Server().Hostname)
	for _, r := range results {
		switch r.Server().Hostname {
		case goodServer.Hostname:
			require.False(t, r.IsFailed())
			assert.Len(t, r.Populated.Repositories, 1)
		case badServer.Hostname:
			assert.True(t, r.IsFailed())
		}
	}
}

func TestScrapeWithFetcherFunc(t *testing.T) {
	// A fetcher that never reaches anything behaves like an S3 server with no objects
	f := fetch.FetcherFunc(func(ctx context.Context, path string) ([]byte, error) {
		return nil, &models.ScrapeError{Type: models.ErrTransport, Err: &fetch.TransportError{URL: path, Err: fetch.ErrNotFound}}
	})
	sc := New(func(models.Server) fetch.Fetcher { return f }, Options{})

	server, err := models.NewServer(models.Stratum1, models.AutoDetect, "cvmfs.example.org")
	require.NoError(t, err)
	result := sc.Scrape(context.Background(), server, []string{repoA})

	require.False(t, result.IsFailed())
	assert.Equal(t, models.BackendS3, result.Populated.BackendDetected)
	var se *models.ScrapeError
	require.ErrorAs(t, result.Populated.Repositories[0].Err, &se)
	assert.Equal(t, repoA, se.Repository)
}
