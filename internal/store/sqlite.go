package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/opsprofile/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	job_id           TEXT PRIMARY KEY,
	company_name     TEXT NOT NULL,
	company_url      TEXT NOT NULL,
	email            TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'queued',
	review_reason    TEXT NOT NULL DEFAULT '',
	client_ip        TEXT NOT NULL DEFAULT '',
	auth_token       TEXT UNIQUE,
	token_issued_at  DATETIME,
	token_expires_at DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_url_completed ON submissions(company_url, completed_at);

CREATE TABLE IF NOT EXISTS profiles (
	id                       TEXT PRIMARY KEY,
	submission_id            TEXT NOT NULL UNIQUE REFERENCES submissions(job_id),
	profile_json             TEXT NOT NULL,
	data_sources_used        TEXT NOT NULL DEFAULT '[]',
	data_sources_unavailable TEXT NOT NULL DEFAULT '[]',
	confidence_score         TEXT NOT NULL DEFAULT '',
	created_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS feedback (
	id         TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL REFERENCES profiles(id),
	rating     INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_feedback_profile_id ON feedback(profile_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (job_id, company_name, company_url, email, status, review_reason, client_ip, created_at, updated_at) `+
			`VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.JobID, sub.CompanyName, sub.CompanyURL, sub.Email, string(sub.Status),
		sub.ReviewReason, sub.ClientIP, sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert submission %s", sub.JobID)
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, jobID string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: submission %s", jobID)
	}
	return sub, eris.Wrapf(err, "sqlite: get submission %s", jobID)
}

func (s *SQLiteStore) GetSubmissionByToken(ctx context.Context, token string) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE auth_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: submission by token")
	}
	return sub, eris.Wrap(err, "sqlite: get submission by token")
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query, args := listSubmissionsQuery(filter, question)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan submission")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "sqlite: list submissions iterate")
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, jobID string, from, to model.Status) error {
	if err := model.CheckTransition(from, to); err != nil {
		return eris.Wrapf(err, "sqlite: transition %s", jobID)
	}
	now := s.clock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, updated_at = ?, completed_at = COALESCE(?, completed_at) `+
			`WHERE job_id = ? AND status = ?`,
		string(to), now, completedAt(to, now), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition %s %s->%s", jobID, from, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM submissions WHERE job_id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: submission %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition %s", jobID)
	}
	return eris.Wrapf(ErrStaleStatus, "sqlite: submission %s is %s, expected %s", jobID, current, from)
}

func (s *SQLiteStore) SetAuthToken(ctx context.Context, jobID string, tok model.AccessToken) (model.AccessToken, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET auth_token = ?, token_issued_at = ?, token_expires_at = ?, updated_at = ? `+
			`WHERE job_id = ? AND auth_token IS NULL`,
		tok.Value, tok.IssuedAt.UTC(), tok.ExpiresAt.UTC(), s.clock(), jobID,
	)
	if err != nil {
		return model.AccessToken{}, eris.Wrapf(err, "sqlite: set auth token %s", jobID)
	}

	var value sql.NullString
	var issued, expires sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT auth_token, token_issued_at, token_expires_at FROM submissions WHERE job_id = ?`, jobID,
	).Scan(&value, &issued, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccessToken{}, eris.Wrapf(ErrNotFound, "sqlite: submission %s", jobID)
	}
	if err != nil {
		return model.AccessToken{}, eris.Wrapf(err, "sqlite: read auth token %s", jobID)
	}
	if !value.Valid || !issued.Valid || !expires.Valid {
		return model.AccessToken{}, eris.Errorf("sqlite: auth token for %s was not stored", jobID)
	}
	return model.AccessToken{Value: value.String, IssuedAt: issued.Time, ExpiresAt: expires.Time}, nil
}

func (s *SQLiteStore) FindRecentComplete(ctx context.Context, companyURL string, since time.Time) (*model.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions `+
			`WHERE company_url = ? AND status = ? AND completed_at >= ? `+
			`ORDER BY completed_at DESC LIMIT 1`,
		companyURL, string(model.StatusComplete), since.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: recent profile for %s", companyURL)
	}
	return sub, eris.Wrapf(err, "sqlite: find recent complete %s", companyURL)
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock()
	}
	doc, used, unavailable, err := profileJSON(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert profile")
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?) `+
			`ON CONFLICT (submission_id) DO UPDATE SET profile_json = excluded.profile_json, `+
			`data_sources_used = excluded.data_sources_used, `+
			`data_sources_unavailable = excluded.data_sources_unavailable, `+
			`confidence_score = excluded.confidence_score `+
			`RETURNING id`,
		p.ID, p.SubmissionID, string(doc), string(used), string(unavailable), p.ConfidenceScore, p.CreatedAt.UTC(),
	).Scan(&p.ID)
	return eris.Wrapf(err, "sqlite: upsert profile for %s", p.SubmissionID)
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: profile %s", id)
	}
	return p, eris.Wrapf(err, "sqlite: get profile %s", id)
}

func (s *SQLiteStore) GetProfileBySubmission(ctx context.Context, jobID string) (*model.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE submission_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: profile for submission %s", jobID)
	}
	return p, eris.Wrapf(err, "sqlite: get profile for submission %s", jobID)
}

func (s *SQLiteStore) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (`+feedbackColumns+`) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.ProfileID, f.Rating, f.Comment, f.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert feedback for profile %s", f.ProfileID)
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list feedback iterate")
}
