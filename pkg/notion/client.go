// Package notion is a throttled client for the Notion databases that back
// the manual review queue.
package notion

import (
	"context"
	"errors"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Notion allows an average of three requests per second per integration.
const defaultRPS = 3

var (
	// ErrNotFound means the database or page does not exist or is not
	// shared with the integration.
	ErrNotFound = eris.New("notion: not found")
	// ErrRateLimited means Notion kept answering 429 after its retries.
	ErrRateLimited = eris.New("notion: rate limited")
)

// Client is the part of the Notion API the review queue uses.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

type settings struct {
	rps     float64
	retries int
	hc      *http.Client
}

// ClientOption configures NewClient.
type ClientOption func(*settings)

// WithRateLimit sets requests per second. Zero or less turns throttling off.
func WithRateLimit(rps float64) ClientOption {
	return func(s *settings) { s.rps = rps }
}

// WithRetries sets how many 429 responses are retried before ErrRateLimited.
func WithRetries(n int) ClientOption {
	return func(s *settings) { s.retries = n }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(s *settings) { s.hc = hc }
}

type client struct {
	api  *notionapi.Client
	gate *rate.Limiter
}

// NewClient returns a Client authenticated with an integration token.
func NewClient(token string, opts ...ClientOption) Client {
	s := settings{rps: defaultRPS}
	for _, opt := range opts {
		opt(&s)
	}

	var apiOpts []notionapi.ClientOption
	if s.retries > 0 {
		apiOpts = append(apiOpts, notionapi.WithRetry(s.retries))
	}
	if s.hc != nil {
		apiOpts = append(apiOpts, notionapi.WithHTTPClient(s.hc))
	}

	c := &client{api: notionapi.NewClient(notionapi.Token(token), apiOpts...)}
	if s.rps > 0 {
		c.gate = rate.NewLimiter(rate.Limit(s.rps), max(int(s.rps), 1))
	}
	return c
}

func (c *client) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return call(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *client) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "create page", func() (*notionapi.Page, error) {
		return c.api.Page.Create(ctx, req)
	})
}

func (c *client) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	return call(ctx, c, "update page "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), req)
	})
}

// call waits for the rate limiter, runs fn and maps Notion failures onto
// the package errors.
func call[T any](ctx context.Context, c *client, op string, fn func() (T, error)) (T, error) {
	var zero T
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "notion: %s: rate limit", op)
		}
	}
	v, err := fn()
	if err != nil {
		return zero, classify(op, err)
	}
	return v, nil
}

func classify(op string, err error) error {
	var apiErr *notionapi.Error
	var limited *notionapi.RateLimitedError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return eris.Wrapf(ErrNotFound, "notion: %s: %s", op, apiErr.Message)
	case errors.As(err, &limited):
		return eris.Wrapf(ErrRateLimited, "notion: %s: %s", op, limited.Message)
	default:
		return eris.Wrapf(err, "notion: %s", op)
	}
}
