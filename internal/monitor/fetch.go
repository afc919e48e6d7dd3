package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"
)

// ErrFetch marks a page that could not be retrieved. The check for that
// source is abandoned for the cycle.
var ErrFetch = errors.New("page fetch failed")

const (
	defaultPageTimeout = 15 * time.Second
	defaultPageAgent   = "SignalRadar/1.0"
	maxPageBytes       = 5 << 20
	maxRedirects       = 10
)

// Page is a fetched document decoded to UTF-8.
type Page struct {
	URL  string
	HTML string
}

// PageGetter retrieves a monitored page.
type PageGetter interface {
	Get(ctx context.Context, pageURL string) (*Page, error)
}

// PageFetcher fetches pages over HTTP, following redirects.
type PageFetcher struct {
	client    *http.Client
	userAgent string
}

// NewPageFetcher creates a page fetcher.
func NewPageFetcher(timeout time.Duration, userAgent string) *PageFetcher {
	if timeout == 0 {
		timeout = defaultPageTimeout
	}
	if userAgent == "" {
		userAgent = defaultPageAgent
	}
	return &PageFetcher{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Get fetches pageURL. Network errors, timeouts and HTTP error statuses are
// returned wrapped in ErrFetch.
func (f *PageFetcher) Get(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpError{url: pageURL, code: resp.StatusCode}
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrFetch, pageURL, err)
	}
	data, err := io.ReadAll(io.LimitReader(body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFetch, pageURL, err)
	}

	return &Page{URL: resp.Request.URL.String(), HTML: string(data)}, nil
}

type httpError struct {
	url  string
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.url, e.code, http.StatusText(e.code))
}

func (e *httpError) Is(target error) bool { return target == ErrFetch }
