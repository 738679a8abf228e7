// Package serpapi is a minimal client for the SerpApi Google Jobs engine.
package serpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://serpapi.com"

// Client performs job searches.
type Client interface {
	SearchJobs(ctx context.Context, query string) (*JobsResponse, error)
}

// JobsResponse is the subset of the google_jobs response we read.
type JobsResponse struct {
	Error       string      `json:"error,omitempty"`
	JobsResults []JobResult `json:"jobs_results"`
}

// JobResult is one posting.
type JobResult struct {
	Title              string             `json:"title"`
	CompanyName        string             `json:"company_name"`
	Location           string             `json:"location"`
	Via                string             `json:"via"`
	DetectedExtensions DetectedExtensions `json:"detected_extensions"`
}

// DetectedExtensions carries structured hints SerpApi extracts.
type DetectedExtensions struct {
	PostedAt     string `json:"posted_at"`
	ScheduleType string `json:"schedule_type"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a SerpApi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchJobs(ctx context.Context, query string) (*JobsResponse, error) {
	q := url.Values{}
	q.Set("engine", "google_jobs")
	q.Set("q", query)
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: read response")
	}

	var result JobsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("serpapi: unexpected status %d: %s", resp.StatusCode, string(body))
		}
		return nil, eris.Wrap(err, "serpapi: unmarshal response")
	}

	// SerpApi reports "no results" as an error string with a 200; only
	// non-200 responses are transport failures.
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("serpapi: unexpected status %d: %s", resp.StatusCode, result.Error)
	}

	return &result, nil
}
