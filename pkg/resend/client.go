// Package resend sends transactional email through the Resend HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.resend.com"

// Client sends email.
type Client interface {
	Send(ctx context.Context, email Email) (string, error)
}

// Email is a single outbound message.
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
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

// NewClient creates a Resend client.
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

// Send posts the email and returns the provider's message id.
func (c *httpClient) Send(ctx context.Context, email Email) (string, error) {
	body, err := json.Marshal(email)
	if err != nil {
		return "", eris.Wrap(err, "resend: marshal email")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "resend: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "resend: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "resend: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", eris.Errorf("resend: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", eris.Wrap(err, "resend: unmarshal response")
	}
	return out.ID, nil
}
