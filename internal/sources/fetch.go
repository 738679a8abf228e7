package sources

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 2 << 20

// Page is a fetched HTTP response with its body read.
type Page struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher performs polite GET requests shared by the site scraper and the
// technology detector.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = hc }
}

// WithRateLimit caps outbound requests per second. Zero disables the cap.
func WithRateLimit(rps float64) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = nil
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// NewFetcher creates a Fetcher that follows redirects and identifies itself
// with userAgent.
func NewFetcher(userAgent string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		userAgent: userAgent,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Get fetches url. Responses with status >= 400 and bot-challenge pages are
// returned as errors.
func (f *Fetcher) Get(ctx context.Context, url string) (*Page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch: %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "fetch: read body")
	}

	if challenged(resp, body) {
		return nil, eris.Errorf("fetch: %s: bot challenge (status %d)", url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("fetch: %s: HTTP error: %d", url, resp.StatusCode)
	}

	return &Page{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// challenged reports an interstitial anti-bot page. A page that merely embeds
// a captcha widget is not a challenge.
func challenged(resp *http.Response, body []byte) bool {
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || strings.EqualFold(resp.Header.Get("server"), "cloudflare") {
			return true
		}
	}
	if len(body) > 64<<10 {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge")
}
