package serpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchJobs_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search.json", r.URL.Path)
		assert.Equal(t, "google_jobs", r.URL.Query().Get("engine"))
		assert.Equal(t, "Acme Plumbing jobs", r.URL.Query().Get("q"))
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs_results":[
			{"title":"Senior Service Technician","company_name":"Acme Plumbing","location":"Carmel, IN",
			 "detected_extensions":{"posted_at":"3 days ago","schedule_type":"Full-time"}},
			{"title":"Dispatcher","company_name":"Acme Plumbing","location":"Carmel, IN"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchJobs(context.Background(), "Acme Plumbing jobs")

	require.NoError(t, err)
	require.Len(t, resp.JobsResults, 2)
	assert.Equal(t, "Senior Service Technician", resp.JobsResults[0].Title)
	assert.Equal(t, "3 days ago", resp.JobsResults[0].DetectedExtensions.PostedAt)
	assert.Empty(t, resp.Error)
}

func TestSearchJobs_NoResultsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Google hasn't returned any results for this query."}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).SearchJobs(context.Background(), "nobody jobs")
	require.NoError(t, err)
	assert.Empty(t, resp.JobsResults)
	assert.NotEmpty(t, resp.Error)
}

func TestSearchJobs_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API key."}`))
	}))
	defer srv.Close()

	_, err := NewClient("bad", WithBaseURL(srv.URL)).SearchJobs(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestSearchJobs_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).SearchJobs(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
