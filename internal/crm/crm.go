// Package crm syncs completed submissions into Salesforce as leads.
package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/pkg/salesforce"
)

// LeadSource tags every lead created from a profile request.
const LeadSource = "Operational Profile"

// Syncer upserts one lead per submitter email.
type Syncer struct {
	client  salesforce.Client
	baseURL string
}

// NewSyncer returns a Syncer. baseURL is used to link the delivered profile.
func NewSyncer(c salesforce.Client, baseURL string) *Syncer {
	return &Syncer{client: c, baseURL: strings.TrimRight(baseURL, "/")}
}

// SyncLead creates or updates the lead for sub and returns its id.
func (s *Syncer) SyncLead(ctx context.Context, sub *model.Submission, p *model.Profile) (string, error) {
	id, err := salesforce.UpsertLead(ctx, s.client, LeadFields(sub, p, s.baseURL))
	if err != nil {
		return "", eris.Wrapf(err, "crm: sync lead for %s", sub.JobID)
	}
	return id, nil
}

// LeadFields maps a submission and its profile onto Lead fields.
func LeadFields(sub *model.Submission, p *model.Profile, baseURL string) map[string]any {
	fields := map[string]any{
		"Email":      sub.Email,
		"Company":    sub.CompanyName,
		"Website":    sub.CompanyURL,
		"LastName":   lastName(sub.Email),
		"LeadSource": LeadSource,
	}
	if p == nil {
		return fields
	}

	doc := p.Document
	if doc.IndustryClassification != "" {
		fields["Industry"] = truncate(doc.IndustryClassification, 40)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Industry: %s\n", doc.IndustryClassification)
	fmt.Fprintf(&b, "Size: %s\n", doc.EstimatedSize)
	fmt.Fprintf(&b, "Location: %s\n", doc.Location)
	fmt.Fprintf(&b, "Confidence: %s\n", p.ConfidenceScore)
	if sub.AuthToken != "" && baseURL != "" {
		fmt.Fprintf(&b, "Profile: %s/profile/%s\n", baseURL, sub.AuthToken)
	}
	fields["Description"] = truncate(b.String(), 32000)
	return fields
}

// lastName derives a placeholder surname from the email local part. Lead
// requires one and intake does not collect names.
func lastName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "Unknown"
	}
	return truncate(local, 80)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
