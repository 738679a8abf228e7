// Package store persists submissions, profiles and feedback.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
)

// Sentinel errors shared by every Store implementation.
var (
	ErrNotFound = eris.New("store: not found")
	// ErrStaleStatus means the submission was no longer in the expected
	// status when a transition was attempted.
	ErrStaleStatus = eris.New("store: stale status")
)

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	Statuses      []model.Status `json:"statuses,omitempty"`
	CreatedBefore time.Time      `json:"created_before,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}

// Store defines the persistence gateway for the pipeline.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, s *model.Submission) error
	GetSubmission(ctx context.Context, jobID string) (*model.Submission, error)
	GetSubmissionByToken(ctx context.Context, token string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)
	// TransitionStatus moves jobID from one status to another, failing with
	// ErrStaleStatus when the stored status is no longer from.
	TransitionStatus(ctx context.Context, jobID string, from, to model.Status) error
	// SetAuthToken stores tok unless the submission already has a token, and
	// returns whichever token is stored afterwards.
	SetAuthToken(ctx context.Context, jobID string, tok model.AccessToken) (model.AccessToken, error)
	// FindRecentComplete returns the most recently completed submission for
	// companyURL that finished at or after since.
	FindRecentComplete(ctx context.Context, companyURL string, since time.Time) (*model.Submission, error)

	// Profiles
	UpsertProfile(ctx context.Context, p *model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileBySubmission(ctx context.Context, jobID string) (*model.Profile, error)

	// Feedback
	CreateFeedback(ctx context.Context, f *model.Feedback) error
	ListFeedback(ctx context.Context, limit int) ([]model.Feedback, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const submissionColumns = `job_id, company_name, company_url, email, status, review_reason, client_ip, ` +
	`auth_token, token_issued_at, token_expires_at, created_at, updated_at, completed_at`

const profileColumns = `id, submission_id, profile_json, data_sources_used, data_sources_unavailable, confidence_score, created_at`

const feedbackColumns = `id, profile_id, rating, comment, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanSubmission(row scannable) (*model.Submission, error) {
	var s model.Submission
	var status string
	var token *string
	err := row.Scan(&s.JobID, &s.CompanyName, &s.CompanyURL, &s.Email, &status,
		&s.ReviewReason, &s.ClientIP, &token, &s.TokenIssuedAt, &s.TokenExpiresAt,
		&s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, eris.Wrapf(err, "submission %s", s.JobID)
	}
	s.Status = st
	if token != nil {
		s.AuthToken = *token
	}
	return &s, nil
}

func scanProfile(row scannable) (*model.Profile, error) {
	var p model.Profile
	var doc, used, unavailable []byte
	err := row.Scan(&p.ID, &p.SubmissionID, &doc, &used, &unavailable, &p.ConfidenceScore, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &p.Document); err != nil {
		return nil, eris.Wrap(err, "unmarshal profile document")
	}
	if err := json.Unmarshal(used, &p.DataSourcesUsed); err != nil {
		return nil, eris.Wrap(err, "unmarshal data_sources_used")
	}
	if err := json.Unmarshal(unavailable, &p.DataSourcesUnavailable); err != nil {
		return nil, eris.Wrap(err, "unmarshal data_sources_unavailable")
	}
	return &p, nil
}

func scanFeedback(row scannable) (*model.Feedback, error) {
	var f model.Feedback
	if err := row.Scan(&f.ID, &f.ProfileID, &f.Rating, &f.Comment, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// profileJSON encodes the JSON columns of p.
func profileJSON(p *model.Profile) (doc, used, unavailable []byte, err error) {
	if doc, err = json.Marshal(p.Document); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal profile document")
	}
	if used, err = json.Marshal(nonNil(p.DataSourcesUsed)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal data_sources_used")
	}
	if unavailable, err = json.Marshal(nonNil(p.DataSourcesUnavailable)); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal data_sources_unavailable")
	}
	return doc, used, unavailable, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// completedAt is set only when entering a terminal status.
func completedAt(to model.Status, now time.Time) *time.Time {
	if !to.Terminal() {
		return nil
	}
	return &now
}

// listSubmissionsQuery builds the filtered listing. ph renders the n-th
// (1-based) placeholder for the dialect.
func listSubmissionsQuery(filter SubmissionFilter, ph func(n int) string) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`)
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = next(string(st))
		}
		fmt.Fprintf(&b, ` AND status IN (%s)`, strings.Join(marks, ", "))
	}
	if !filter.CreatedBefore.IsZero() {
		fmt.Fprintf(&b, ` AND created_at < %s`, next(filter.CreatedBefore.UTC()))
	}
	b.WriteString(` ORDER BY created_at DESC`)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	fmt.Fprintf(&b, ` LIMIT %s`, next(limit))
	if filter.Offset > 0 {
		fmt.Fprintf(&b, ` OFFSET %s`, next(filter.Offset))
	}
	return b.String(), args
}

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func question(int) string { return "?" }
