package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPClient is the subset of *http.Client the fetcher needs
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient wraps *http.Client, which follows redirects on its own
type DefaultHTTPClient struct{ *http.Client }

// NewHTTPClient creates a client with an overall per-request timeout
func NewHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{Client: &http.Client{Timeout: timeout}}
}

// HTTPFetcher fetches resources from a server base URL
type HTTPFetcher struct {
	BaseURL  string
	Client   HTTPClient
	MaxBytes int64
	// UserAgent is sent with every request when set
	UserAgent string
}

// NewHTTPFetcher creates a fetcher for baseURL ("http://host[:port]")
func NewHTTPFetcher(baseURL string, client HTTPClient) *HTTPFetcher {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	return &HTTPFetcher{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Client:   client,
		MaxBytes: DefaultMaxBytes,
	}
}

// Fetch performs a single GET. Failures are never retried here.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	url := f.BaseURL + "/" + strings.TrimPrefix(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, transportError(url, 0, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	logrus.Debugf("GET %s", url)
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, transportError(url, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, transportError(url, resp.StatusCode, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transportError(url, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var src io.Reader = resp.Body
	if f.MaxBytes > 0 {
		src = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, transportError(url, resp.StatusCode, err)
	}
	if f.MaxBytes > 0 && int64(len(body)) > f.MaxBytes {
		return nil, transportError(url, resp.StatusCode, fmt.Errorf("response exceeds %d bytes", f.MaxBytes))
	}
	return body, nil
}
