package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.rating")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.websiteUri")

		var body textSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acme Plumbing", body.TextQuery)
		assert.Equal(t, 5, body.MaxResultCount)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"places":[{
			"id":"ChIJ123",
			"displayName":{"text":"Acme Plumbing"},
			"rating":4.6,
			"userRatingCount":212,
			"formattedAddress":"12 Main St, Carmel, IN 46032",
			"primaryTypeDisplayName":{"text":"Plumber"},
			"nationalPhoneNumber":"(317) 555-0100",
			"websiteUri":"https://acmeplumbing.com/"
		}]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "Acme Plumbing")

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "ChIJ123", p.ID)
	assert.Equal(t, "Acme Plumbing", p.DisplayName.Text)
	assert.InDelta(t, 4.6, p.Rating, 0.001)
	assert.Equal(t, 212, p.UserRatingCount)
	assert.Equal(t, "Plumber", p.PrimaryTypeDisplayName.Text)
	assert.Equal(t, "(317) 555-0100", p.NationalPhoneNumber)
	assert.Equal(t, "https://acmeplumbing.com/", p.WebsiteURI)
}

func TestTextSearch_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "Nonexistent Corp")

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
}

func TestTextSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "test query")

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := client.TextSearch(ctx, "test")

	assert.Error(t, err)
	assert.Nil(t, resp)
}
