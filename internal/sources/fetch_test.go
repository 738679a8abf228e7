package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Get(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("X-Powered-By", "Express")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	f := NewFetcher("opsprofile-test/1.0")
	page, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "opsprofile-test/1.0", gotUA)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.Equal(t, "Express", page.Header.Get("X-Powered-By"))
	assert.Contains(t, string(page.Body), "<title>ok</title>")
}

func TestFetcher_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/home", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("home"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	page, err := NewFetcher("ua").Get(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/home", page.URL)
}

func TestFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher("ua").Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP error: 404")
}

func TestFetcher_BotChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewFetcher("ua").Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot challenge")
}

func TestFetcher_EmbeddedCaptchaIsNotChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><script src="https://www.google.com/recaptcha/api.js"></script><form></form></html>`))
	}))
	defer srv.Close()

	_, err := NewFetcher("ua").Get(context.Background(), srv.URL)
	assert.NoError(t, err)
}

func TestFetcher_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFetcher("ua", WithRateLimit(1)).Get(ctx, srv.URL)
	assert.Error(t, err)
}

func TestWithRateLimit_ZeroDisables(t *testing.T) {
	f := NewFetcher("ua", WithRateLimit(5), WithRateLimit(0))
	assert.Nil(t, f.limiter)

	f = NewFetcher("ua", WithRateLimit(0.5))
	require.NotNil(t, f.limiter)
	assert.Equal(t, 1, f.limiter.Burst())
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{}
	f := NewFetcher("ua", WithHTTPClient(hc))
	assert.Same(t, hc, f.client)
}
