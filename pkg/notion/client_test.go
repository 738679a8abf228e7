package notion

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// replying returns an HTTP client that answers every request with status
// and body without touching the network.
func replying(status int, body string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}
}

func TestNewClient_Options(t *testing.T) {
	t.Parallel()

	c := NewClient("secret").(*client)
	require.NotNil(t, c.gate)
	assert.Equal(t, rate.Limit(defaultRPS), c.gate.Limit())

	c = NewClient("secret", WithRateLimit(0)).(*client)
	assert.Nil(t, c.gate)

	c = NewClient("secret", WithRateLimit(10)).(*client)
	assert.Equal(t, 10, c.gate.Burst())
}

func TestCall_RateLimitWaitCancelled(t *testing.T) {
	t.Parallel()

	c := NewClient("secret", WithRateLimit(0.001)).(*client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := 0
	fn := func() (int, error) { ran++; return ran, nil }

	// The first token is available immediately; the second must wait.
	_, err := call(context.Background(), c, "op", fn)
	require.NoError(t, err)
	_, err = call(ctx, c, "op", fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: op: rate limit")
	assert.Equal(t, 1, ran)
}

func TestUpdatePage_Success(t *testing.T) {
	t.Parallel()

	c := NewClient("secret", WithRateLimit(0), WithHTTPClient(replying(http.StatusOK,
		`{"object":"page","id":"page-1","properties":{}}`)))
	page, err := c.UpdatePage(context.Background(), "page-1", &notionapi.PageUpdateRequest{})
	require.NoError(t, err)
	assert.Equal(t, notionapi.ObjectID("page-1"), page.ID)
}

func TestUpdatePage_NotFound(t *testing.T) {
	t.Parallel()

	c := NewClient("secret", WithRateLimit(0), WithHTTPClient(replying(http.StatusNotFound,
		`{"object":"error","status":404,"code":"object_not_found","message":"Could not find page"}`)))
	_, err := c.UpdatePage(context.Background(), "page-1", &notionapi.PageUpdateRequest{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "update page page-1")
}

func TestCreatePage_RateLimited(t *testing.T) {
	t.Parallel()

	// A 429 without Retry-After is not retried by notionapi.
	c := NewClient("secret", WithRateLimit(0), WithRetries(2), WithHTTPClient(replying(http.StatusTooManyRequests, `{}`)))
	_, err := c.CreatePage(context.Background(), &notionapi.PageCreateRequest{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRateLimited))
}

func TestQueryDatabase_OtherError(t *testing.T) {
	t.Parallel()

	c := NewClient("secret", WithRateLimit(0), WithHTTPClient(replying(http.StatusBadGateway,
		`{"object":"error","status":502,"code":"internal_server_error","message":"upstream"}`)))
	_, err := c.QueryDatabase(context.Background(), "db-1", &notionapi.DatabaseQueryRequest{})
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrNotFound))
	assert.False(t, eris.Is(err, ErrRateLimited))
	assert.Contains(t, err.Error(), "notion: query database db-1")
}
