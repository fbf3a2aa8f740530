// Package fetch retrieves CVMFS resources relative to a server root.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ralt/cvmfs-scraper/internal/models"
)

// DefaultMaxBytes caps any single resource; manifests and JSON documents are tiny
const DefaultMaxBytes = 8 << 20

// Fetcher retrieves a resource by its path relative to the server root,
// e.g. "cvmfs/info/v1/repositories.json".
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, path string) ([]byte, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// ErrNotFound is wrapped by TransportError when the resource does not exist
var ErrNotFound = errors.New("resource not found")

// TransportError describes a failed retrieval
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

// Unwrap returns the wrapped error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsMissing reports whether err says the resource does not exist on a
// reachable server: a 404 or 403 answer, or a missing local file. Connection
// failures and timeouts are not missing resources.
func IsMissing(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	if errors.Is(te.Err, ErrNotFound) {
		return true
	}
	return te.StatusCode == http.StatusForbidden
}

// transportError wraps a TransportError into the scrape error taxonomy
func transportError(url string, status int, err error) error {
	return &models.ScrapeError{
		Type: models.ErrTransport,
		Err:  &TransportError{URL: url, StatusCode: status, Err: err},
	}
}

// ManifestPath returns the path of a repository's .cvmfspublished
func ManifestPath(repo string) string {
	return fmt.Sprintf("cvmfs/%s/.cvmfspublished", repo)
}

// StatusPath returns the path of a repository's .cvmfs_status.json
func StatusPath(repo string) string {
	return fmt.Sprintf("cvmfs/%s/.cvmfs_status.json", repo)
}

// ObjectPath returns the path of a content-addressed object in a repository
func ObjectPath(repo, object string) string {
	return fmt.Sprintf("cvmfs/%s/%s", repo, object)
}
