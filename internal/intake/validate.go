// Package intake accepts new submissions: per-IP rate limiting, field and
// email-domain validation, persistence in the queued state and dispatch.
package intake

import (
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/opsprofile/internal/model"
)

// RejectMismatch is the message returned when the email domain does not
// belong to the company.
const RejectMismatch = "Please use a business email address matching your company domain."

// Mismatch policies.
const (
	MismatchReject = "reject"
	MismatchFlag   = "flag"
)

// DefaultWebmailDomains are public mailbox providers. Submissions from them
// are accepted but flagged for review.
var DefaultWebmailDomains = []string{
	"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
	"aol.com", "icloud.com", "protonmail.com", "mail.com",
}

// Decision is the intake verdict.
type Decision int

const (
	Accepted Decision = iota
	AcceptedFlagged
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case AcceptedFlagged:
		return "flagged"
	default:
		return "rejected"
	}
}

// Outcome is a Decision plus its reason: the review reason when flagged, the
// user-facing message when rejected.
type Outcome struct {
	Decision Decision
	Reason   string
}

// Request is the intake payload.
type Request struct {
	CompanyName string `json:"company_name" validate:"required,max=200"`
	CompanyURL  string `json:"company_url" validate:"required,max=2048"`
	Email       string `json:"email" validate:"required,email,max=320"`
}

// Validator applies the field and email-domain rules.
type Validator struct {
	validate *validator.Validate
	webmail  map[string]bool
	policy   string
}

// NewValidator creates a Validator. A nil webmail list uses
// DefaultWebmailDomains; an unknown policy behaves as MismatchReject.
func NewValidator(webmail []string, mismatchPolicy string) *Validator {
	if webmail == nil {
		webmail = DefaultWebmailDomains
	}
	set := make(map[string]bool, len(webmail))
	for _, d := range webmail {
		set[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		webmail:  set,
		policy:   mismatchPolicy,
	}
}

// Validate decides whether a submission may enter the pipeline.
func (v *Validator) Validate(companyName, companyURL, email string) Outcome {
	req := Request{
		CompanyName: strings.TrimSpace(companyName),
		CompanyURL:  strings.TrimSpace(companyURL),
		Email:       strings.TrimSpace(email),
	}
	if err := v.validate.Struct(req); err != nil {
		return Outcome{Decision: Rejected, Reason: fieldMessage(err)}
	}

	siteDomain := model.DomainOf(req.CompanyURL)
	if !validHost(req.CompanyURL, siteDomain) {
		return Outcome{Decision: Rejected, Reason: "company_url must be a valid website address"}
	}

	mailDomain := strings.ToLower(req.Email[strings.LastIndex(req.Email, "@")+1:])
	if v.webmail[mailDomain] {
		return Outcome{Decision: AcceptedFlagged, Reason: model.ReviewPublicWebmail}
	}
	if DomainsMatch(mailDomain, siteDomain) {
		return Outcome{Decision: Accepted}
	}
	if v.policy == MismatchFlag {
		return Outcome{Decision: AcceptedFlagged, Reason: model.ReviewDomainMismatch}
	}
	return Outcome{Decision: Rejected, Reason: RejectMismatch}
}

// DomainsMatch reports whether an email domain belongs to a website domain:
// equal, either one a subdomain of the other, or the same registrable domain.
func DomainsMatch(mailDomain, siteDomain string) bool {
	a := strings.TrimPrefix(strings.ToLower(mailDomain), "www.")
	b := strings.TrimPrefix(strings.ToLower(siteDomain), "www.")
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a) {
		return true
	}
	ra, errA := publicsuffix.EffectiveTLDPlusOne(a)
	rb, errB := publicsuffix.EffectiveTLDPlusOne(b)
	return errA == nil && errB == nil && ra == rb
}

func validHost(raw, domain string) bool {
	if domain == "" || !strings.Contains(domain, ".") || strings.ContainsAny(domain, " _") {
		return false
	}
	u, err := url.Parse(model.NormalizeURL(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func fieldMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid submission"
	}
	fe := verrs[0]
	name := map[string]string{
		"CompanyName": "company_name",
		"CompanyURL":  "company_url",
		"Email":       "email",
	}[fe.StructField()]

	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "email":
		return "email must be a valid email address"
	case "max":
		return name + " is too long"
	default:
		return name + " is invalid"
	}
}
