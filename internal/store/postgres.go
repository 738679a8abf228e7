package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/db"
	"github.com/sells-group/opsprofile/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submissions (
	job_id           TEXT PRIMARY KEY,
	company_name     TEXT NOT NULL,
	company_url      TEXT NOT NULL,
	email            TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'queued',
	review_reason    TEXT NOT NULL DEFAULT '',
	client_ip        TEXT NOT NULL DEFAULT '',
	auth_token       TEXT UNIQUE,
	token_issued_at  TIMESTAMPTZ,
	token_expires_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);
CREATE INDEX IF NOT EXISTS idx_submissions_url_completed ON submissions(company_url, completed_at DESC);

CREATE TABLE IF NOT EXISTS profiles (
	id                       TEXT PRIMARY KEY,
	submission_id            TEXT NOT NULL UNIQUE REFERENCES submissions(job_id),
	profile_json             JSONB NOT NULL,
	data_sources_used        JSONB NOT NULL DEFAULT '[]',
	data_sources_unavailable JSONB NOT NULL DEFAULT '[]',
	confidence_score         TEXT NOT NULL DEFAULT '',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feedback (
	id         TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL REFERENCES profiles(id),
	rating     INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_feedback_profile_id ON feedback(profile_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO submissions (job_id, company_name, company_url, email, status, review_reason, client_ip, created_at, updated_at) `+
			`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.JobID, sub.CompanyName, sub.CompanyURL, sub.Email, string(sub.Status),
		sub.ReviewReason, sub.ClientIP, sub.CreatedAt, sub.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert submission %s", sub.JobID)
}

func (s *PostgresStore) GetSubmission(ctx context.Context, jobID string) (*model.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE job_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: submission %s", jobID)
	}
	return sub, eris.Wrapf(err, "postgres: get submission %s", jobID)
}

func (s *PostgresStore) GetSubmissionByToken(ctx context.Context, token string) (*model.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE auth_token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: submission by token")
	}
	return sub, eris.Wrap(err, "postgres: get submission by token")
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error) {
	query, args := listSubmissionsQuery(filter, dollar)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list submissions")
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan submission")
		}
		subs = append(subs, *sub)
	}
	return subs, eris.Wrap(rows.Err(), "postgres: list submissions iterate")
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, jobID string, from, to model.Status) error {
	if err := model.CheckTransition(from, to); err != nil {
		return eris.Wrapf(err, "postgres: transition %s", jobID)
	}
	now := s.clock()
	tag, err := s.pool.Exec(ctx,
		`UPDATE submissions SET status = $1, updated_at = $2, completed_at = COALESCE($3, completed_at) `+
			`WHERE job_id = $4 AND status = $5`,
		string(to), now, completedAt(to, now), jobID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition %s %s->%s", jobID, from, to)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM submissions WHERE job_id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: submission %s", jobID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: transition %s", jobID)
	}
	return eris.Wrapf(ErrStaleStatus, "postgres: submission %s is %s, expected %s", jobID, current, from)
}

func (s *PostgresStore) SetAuthToken(ctx context.Context, jobID string, tok model.AccessToken) (model.AccessToken, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE submissions SET auth_token = $1, token_issued_at = $2, token_expires_at = $3, updated_at = $4 `+
			`WHERE job_id = $5 AND auth_token IS NULL`,
		tok.Value, tok.IssuedAt, tok.ExpiresAt, s.clock(), jobID,
	)
	if err != nil {
		return model.AccessToken{}, eris.Wrapf(err, "postgres: set auth token %s", jobID)
	}

	var stored model.AccessToken
	var value *string
	var issued, expires *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT auth_token, token_issued_at, token_expires_at FROM submissions WHERE job_id = $1`, jobID,
	).Scan(&value, &issued, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AccessToken{}, eris.Wrapf(ErrNotFound, "postgres: submission %s", jobID)
	}
	if err != nil {
		return model.AccessToken{}, eris.Wrapf(err, "postgres: read auth token %s", jobID)
	}
	if value == nil || issued == nil || expires == nil {
		return model.AccessToken{}, eris.Errorf("postgres: auth token for %s was not stored", jobID)
	}
	stored.Value, stored.IssuedAt, stored.ExpiresAt = *value, *issued, *expires
	return stored, nil
}

func (s *PostgresStore) FindRecentComplete(ctx context.Context, companyURL string, since time.Time) (*model.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions `+
			`WHERE company_url = $1 AND status = $2 AND completed_at >= $3 `+
			`ORDER BY completed_at DESC LIMIT 1`,
		companyURL, string(model.StatusComplete), since.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: recent profile for %s", companyURL)
	}
	return sub, eris.Wrapf(err, "postgres: find recent complete %s", companyURL)
}

var profileUpsert = func() string {
	q, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "profiles",
		Columns:      []string{"id", "submission_id", "profile_json", "data_sources_used", "data_sources_unavailable", "confidence_score", "created_at"},
		ConflictKeys: []string{"submission_id"},
		UpdateCols:   []string{"profile_json", "data_sources_used", "data_sources_unavailable", "confidence_score"},
		Returning:    []string{"id", "created_at"},
	})
	if err != nil {
		panic(err)
	}
	return q
}()

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock()
	}
	doc, used, unavailable, err := profileJSON(p)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert profile")
	}

	err = s.pool.QueryRow(ctx, profileUpsert,
		p.ID, p.SubmissionID, doc, used, unavailable, p.ConfidenceScore, p.CreatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert profile for %s", p.SubmissionID)
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: profile %s", id)
	}
	return p, eris.Wrapf(err, "postgres: get profile %s", id)
}

func (s *PostgresStore) GetProfileBySubmission(ctx context.Context, jobID string) (*model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE submission_id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: profile for submission %s", jobID)
	}
	return p, eris.Wrapf(err, "postgres: get profile for submission %s", jobID)
}

func (s *PostgresStore) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.clock()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (id, profile_id, rating, comment, created_at) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.ProfileID, f.Rating, f.Comment, f.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert feedback for profile %s", f.ProfileID)
}

func (s *PostgresStore) ListFeedback(ctx context.Context, limit int) ([]model.Feedback, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+feedbackColumns+` FROM feedback ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list feedback iterate")
}
