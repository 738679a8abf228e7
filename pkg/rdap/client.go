// Package rdap looks up domain registration data over the Registration Data
// Access Protocol (RFC 9083), the structured successor to WHOIS.
package rdap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://rdap.org"

// ErrNotFound is returned when the registry has no record for the domain.
var ErrNotFound = eris.New("rdap: domain not found")

// Client performs RDAP domain lookups.
type Client interface {
	Domain(ctx context.Context, domain string) (*Registration, error)
}

// Registration is the subset of an RDAP domain object we use.
type Registration struct {
	Domain     string
	Registrar  string
	Registered *time.Time
	Expires    *time.Time
}

// AgeYears returns whole calendar years between registration and now.
func (r *Registration) AgeYears(now time.Time) int {
	if r.Registered == nil {
		return 0
	}
	return now.Year() - r.Registered.Year()
}

type domainResponse struct {
	LDHName  string   `json:"ldhName"`
	Events   []event  `json:"events"`
	Entities []entity `json:"entities"`
}

type event struct {
	Action string `json:"eventAction"`
	Date   string `json:"eventDate"`
}

type entity struct {
	Roles      []string          `json:"roles"`
	VCardArray []json.RawMessage `json:"vcardArray"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the bootstrap server.
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
	baseURL string
	http    *http.Client
}

// NewClient creates an RDAP client. The default base URL is the rdap.org
// bootstrap service, which redirects to the authoritative registry.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Domain(ctx context.Context, domain string) (*Registration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/domain/"+domain, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rdap: create request")
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "rdap: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, eris.Wrapf(ErrNotFound, "%s", domain)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "rdap: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("rdap: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var dr domainResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, eris.Wrap(err, "rdap: unmarshal response")
	}

	reg := &Registration{Domain: strings.ToLower(dr.LDHName)}
	for _, ev := range dr.Events {
		ts, err := time.Parse(time.RFC3339, ev.Date)
		if err != nil {
			continue
		}
		switch ev.Action {
		case "registration":
			reg.Registered = &ts
		case "expiration":
			reg.Expires = &ts
		}
	}
	for _, ent := range dr.Entities {
		if hasRole(ent.Roles, "registrar") {
			reg.Registrar = vcardName(ent.VCardArray)
			break
		}
	}
	return reg, nil
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// vcardName extracts the "fn" property from a jCard array:
// ["vcard", [["version",{},"text","4.0"], ["fn",{},"text","Name"]]].
func vcardName(card []json.RawMessage) string {
	if len(card) < 2 {
		return ""
	}
	var props [][]json.RawMessage
	if err := json.Unmarshal(card[1], &props); err != nil {
		return ""
	}
	for _, p := range props {
		if len(p) < 4 {
			continue
		}
		var name, value string
		if json.Unmarshal(p[0], &name) != nil || name != "fn" {
			continue
		}
		if json.Unmarshal(p[3], &value) == nil {
			return value
		}
	}
	return ""
}
