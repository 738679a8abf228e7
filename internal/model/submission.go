package model

import (
	"net/url"
	"strings"
	"time"
)

// Review reasons recorded on a flagged submission.
const (
	ReviewPublicWebmail  = "public_webmail"
	ReviewDomainMismatch = "domain_mismatch"
)

// Submission is one intake request tracked through the state machine.
type Submission struct {
	JobID          string     `json:"job_id"`
	CompanyName    string     `json:"company_name"`
	CompanyURL     string     `json:"company_url"`
	Email          string     `json:"email"`
	Status         Status     `json:"status"`
	ReviewReason   string     `json:"review_reason,omitempty"`
	ClientIP       string     `json:"client_ip,omitempty"`
	AuthToken      string     `json:"-"`
	TokenIssuedAt  *time.Time `json:"token_issued_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Flagged reports whether intake marked the submission for operator review.
func (s *Submission) Flagged() bool {
	return s.ReviewReason != ""
}

// Token returns the stored access token. ok is false until one is issued.
func (s *Submission) Token() (tok AccessToken, ok bool) {
	if s.AuthToken == "" || s.TokenIssuedAt == nil || s.TokenExpiresAt == nil {
		return AccessToken{}, false
	}
	return AccessToken{Value: s.AuthToken, IssuedAt: *s.TokenIssuedAt, ExpiresAt: *s.TokenExpiresAt}, true
}

// Company returns the adapter input for this submission.
func (s *Submission) Company() Company {
	return Company{
		Name:   s.CompanyName,
		URL:    s.CompanyURL,
		Domain: DomainOf(s.CompanyURL),
	}
}

// Company is the input every data source adapter receives.
type Company struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// NormalizeURL prepends https:// when no scheme is present, lowercases the
// host and trims trailing slashes.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if lower := strings.ToLower(raw); !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}
	raw = strings.TrimRight(raw, "/")

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	return strings.TrimRight(u.String(), "/")
}

// DomainOf returns the lowercased host of a URL with any port and leading
// "www." removed. It returns "" when no host can be parsed.
func DomainOf(raw string) string {
	u, err := url.Parse(NormalizeURL(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
