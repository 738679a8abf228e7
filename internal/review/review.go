// Package review records flagged submissions in a Notion database so an
// operator can follow up.
package review

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/pkg/notion"
)

// Database property names.
const (
	PropCompany = "Company"
	PropJobID   = "Job ID"
	PropEmail   = "Email"
	PropWebsite = "Website"
	PropReason  = "Reason"
	PropStatus  = "Status"
	PropUpdated = "Last Updated"
)

// StatusManualReview is the status a page is created with.
const StatusManualReview = "Manual Review"

var statusLabels = map[model.Status]string{
	model.StatusQueued:           StatusManualReview,
	model.StatusProcessing:       StatusManualReview,
	model.StatusManualReview:     StatusManualReview,
	model.StatusComplete:         "Profile Delivered",
	model.StatusInsufficientData: "Insufficient Data",
	model.StatusFailed:           "Failed",
}

// Label returns the queue status shown for a submission status.
func Label(s model.Status) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return StatusManualReview
}

// Queue is the Notion-backed review queue.
type Queue struct {
	client notion.Client
	dbID   string
	now    func() time.Time
}

// NewQueue returns a queue writing to the given database.
func NewQueue(c notion.Client, dbID string) *Queue {
	return &Queue{client: c, dbID: dbID, now: time.Now}
}

// Enqueue creates a page for a flagged submission.
func (q *Queue) Enqueue(ctx context.Context, sub *model.Submission) error {
	now := notionapi.Date(q.now())
	_, err := q.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(q.dbID),
		},
		Properties: notionapi.Properties{
			PropCompany: notionapi.TitleProperty{
				Type:  notionapi.PropertyTypeTitle,
				Title: richText(sub.CompanyName),
			},
			PropJobID: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(sub.JobID),
			},
			PropReason: notionapi.RichTextProperty{
				Type:     notionapi.PropertyTypeRichText,
				RichText: richText(sub.ReviewReason),
			},
			PropEmail: notionapi.EmailProperty{
				Type:  notionapi.PropertyTypeEmail,
				Email: sub.Email,
			},
			PropWebsite: notionapi.URLProperty{
				Type: notionapi.PropertyTypeURL,
				URL:  sub.CompanyURL,
			},
			PropStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: StatusManualReview},
			},
			PropUpdated: notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &now},
			},
		},
	})
	return eris.Wrapf(err, "review: enqueue %s", sub.JobID)
}

// Resolve updates the page for jobID to reflect its final status. A missing
// or archived page is not an error.
func (q *Queue) Resolve(ctx context.Context, jobID string, status model.Status) error {
	page, err := notion.FindByText(ctx, q.client, q.dbID, PropJobID, jobID)
	if err != nil {
		return eris.Wrapf(err, "review: find %s", jobID)
	}
	if page == nil {
		return nil
	}

	now := notionapi.Date(q.now())
	_, err = q.client.UpdatePage(ctx, string(page.ID), &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			PropStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: Label(status)},
			},
			PropUpdated: notionapi.DateProperty{
				Date: &notionapi.DateObject{Start: &now},
			},
		},
	})
	if eris.Is(err, notion.ErrNotFound) {
		// Archived by an operator between lookup and update.
		return nil
	}
	return eris.Wrapf(err, "review: update %s", jobID)
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}
