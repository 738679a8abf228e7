package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead is the subset of a Salesforce Lead we read and write.
type Lead struct {
	ID          string `json:"Id" salesforce:"Id"`
	Email       string `json:"Email" salesforce:"Email"`
	Company     string `json:"Company" salesforce:"Company"`
	Website     string `json:"Website" salesforce:"Website"`
	Description string `json:"Description" salesforce:"Description"`
}

// FindLeadByEmail returns the most recent Lead with the given email, or nil
// when none exists.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Email, Company, Website, Description FROM Lead WHERE Email = '%s' ORDER BY CreatedDate DESC LIMIT 1",
		escapeSoql(email),
	)
	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrapf(err, "sf: find lead by email %s", email)
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpsertLead updates the Lead matching fields["Email"] or creates one. It
// returns the Lead ID.
func UpsertLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	email, _ := fields["Email"].(string)
	company, _ := fields["Company"].(string)
	if email == "" || company == "" {
		return "", eris.New("sf: lead Email and Company are required")
	}

	existing, err := FindLeadByEmail(ctx, c, email)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := c.UpdateOne(ctx, "Lead", existing.ID, fields); err != nil {
			return "", eris.Wrap(err, "sf: upsert lead")
		}
		return existing.ID, nil
	}

	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: upsert lead")
	}
	return id, nil
}

// escapeSoql escapes single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
