package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// FetchOptions tunes a network fetch.
type FetchOptions struct {
	// NoCredentials requests a permissive, credentials-less fetch. Used
	// for cross-origin image hosts that reject credentialed requests.
	NoCredentials bool
}

// Fetcher performs the actual network fetch for a cache miss or a
// network-first attempt. The Manager owns all fallback behavior; a Fetcher
// just reports success or failure.
type Fetcher interface {
	Fetch(ctx context.Context, method, url string, opts FetchOptions) (Response, error)
}

// maxCachedBody bounds how much of a response the cache will hold.
const maxCachedBody = 8 << 20 // 8 MiB

// HTTPFetcher fetches over HTTP, resolving origin-relative URLs against a
// base origin. Credentialed fetches share a cookie jar; credentials-less
// fetches use a bare client.
type HTTPFetcher struct {
	origin string
	with   *http.Client
	bare   *http.Client
}

// NewHTTPFetcher creates a fetcher for the given origin.
func NewHTTPFetcher(origin string) *HTTPFetcher {
	jar, _ := cookiejar.New(nil)
	return &HTTPFetcher{
		origin: origin,
		with:   &http.Client{Timeout: 30 * time.Second, Jar: jar},
		bare:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch performs the request and reads the body up to the cache bound.
func (f *HTTPFetcher) Fetch(ctx context.Context, method, rawURL string, opts FetchOptions) (Response, error) {
	url := rawURL
	if len(url) > 0 && url[0] == '/' {
		url = f.origin + url
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	client := f.with
	if opts.NoCredentials {
		client = f.bare
	}

	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody))
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}

	return Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
