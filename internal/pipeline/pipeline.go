// Package pipeline takes a queued submission through collection, scoring,
// synthesis and delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/cache"
	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/notify"
	"github.com/sells-group/opsprofile/internal/store"
)

const tracerName = "github.com/sells-group/opsprofile/internal/pipeline"

// ReviewPolicy decides what happens to submissions flagged at intake.
type ReviewPolicy string

const (
	// PolicyAnnotate processes flagged submissions normally; the flag stays
	// on the record.
	PolicyAnnotate ReviewPolicy = "annotate"
	// PolicyGate parks flagged submissions in manual_review untouched.
	PolicyGate ReviewPolicy = "gate"
)

// ParseReviewPolicy maps a config value to a policy. Empty means annotate.
func ParseReviewPolicy(s string) (ReviewPolicy, error) {
	switch ReviewPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAnnotate:
		return PolicyAnnotate, nil
	case PolicyGate:
		return PolicyGate, nil
	default:
		return "", eris.Errorf("pipeline: unknown manual review policy %q", s)
	}
}

// Store is the persistence the pipeline drives.
type Store interface {
	GetSubmission(ctx context.Context, jobID string) (*model.Submission, error)
	TransitionStatus(ctx context.Context, jobID string, from, to model.Status) error
	FindRecentComplete(ctx context.Context, companyURL string, since time.Time) (*model.Submission, error)
	UpsertProfile(ctx context.Context, p *model.Profile) error
	GetProfileBySubmission(ctx context.Context, jobID string) (*model.Profile, error)
}

// Collector gathers evidence from every data source.
type Collector interface {
	Collect(ctx context.Context, company model.Company) *model.Evidence
}

// ProfileSynthesizer produces a profile document from evidence.
type ProfileSynthesizer interface {
	Synthesize(ctx context.Context, company model.Company, ev *model.Evidence) (*model.ProfileDoc, error)
}

// TokenIssuer mints the access token for a completed submission.
type TokenIssuer interface {
	Issue(ctx context.Context, sub *model.Submission) (model.AccessToken, error)
}

// ReviewQueue updates the operator queue entry of a flagged submission.
type ReviewQueue interface {
	Resolve(ctx context.Context, jobID string, status model.Status) error
}

// LeadSyncer pushes a completed submission to the CRM.
type LeadSyncer interface {
	SyncLead(ctx context.Context, sub *model.Submission, p *model.Profile) (string, error)
}

// Deps are the collaborators of a Pipeline. Notifier and Cache default to
// no-ops; Review and CRM are skipped when nil.
type Deps struct {
	Store       Store
	Collector   Collector
	Synthesizer ProfileSynthesizer
	Tokens      TokenIssuer
	Notifier    notify.Notifier
	Cache       cache.Profiles
	Review      ReviewQueue
	CRM         LeadSyncer
}

// Options tunes pipeline decisions.
type Options struct {
	MinPoints    int
	ReviewPolicy ReviewPolicy
	// ReuseWindow is how old a completed profile for the same URL may be
	// and still be copied. Zero disables reuse.
	ReuseWindow time.Duration
	// BaseURL prefixes the profile link sent to the submitter.
	BaseURL string
}

// PersistenceError marks a failed write. The run stops without touching
// the submission further so the dispatcher can redeliver it.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(err error, format string, args ...any) error {
	return &PersistenceError{Err: eris.Wrapf(err, format, args...)}
}

// Pipeline processes one submission at a time; it is safe for concurrent
// use across submissions.
type Pipeline struct {
	deps   Deps
	opts   Options
	now    func() time.Time
	tracer trace.Tracer
}

// New builds a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if opts.MinPoints <= 0 {
		opts.MinPoints = DefaultMinPoints
	}
	if opts.ReviewPolicy == "" {
		opts.ReviewPolicy = PolicyAnnotate
	}
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
}

// Process runs the submission identified by jobID to a final status.
//
// A submission already in a final status is left alone, which makes
// redelivery harmless. An unknown jobID yields an error wrapping
// store.ErrNotFound. Other errors mean the run should be retried
// (persistence failures and cancellation). Any other failure after
// the submission entered processing marks it failed and notifies the
// submitter.
func (p *Pipeline) Process(ctx context.Context, jobID string) (err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(attribute.String("job_id", jobID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	metrics.IncInFlight()
	defer metrics.DecInFlight()

	log := zap.L().With(zap.String("job_id", jobID))
	start := time.Now()

	sub, err := p.deps.Store.GetSubmission(ctx, jobID)
	if eris.Is(err, store.ErrNotFound) {
		return eris.Wrapf(err, "pipeline: submission %s", jobID)
	}
	if err != nil {
		return persistErr(err, "pipeline: load submission %s", jobID)
	}
	if sub.Status.Terminal() {
		log.Info("pipeline: submission already finished, skipping", zap.String("status", string(sub.Status)))
		return nil
	}

	if err := p.deps.Store.TransitionStatus(ctx, jobID, sub.Status, model.StatusProcessing); err != nil {
		if eris.Is(err, store.ErrStaleStatus) {
			log.Info("pipeline: submission claimed by another run, skipping", zap.Error(err))
			return nil
		}
		return persistErr(err, "pipeline: enter processing")
	}
	sub.Status = model.StatusProcessing
	log.Info("pipeline: processing", zap.String("company", sub.CompanyName), zap.String("url", sub.CompanyURL))

	err = p.run(ctx, sub, log)
	var perr *PersistenceError
	switch {
	case err == nil:
	case errors.As(err, &perr) || ctx.Err() != nil:
		log.Error("pipeline: run interrupted, left for redelivery", zap.Error(err))
		return err
	default:
		log.Error("pipeline: unexpected failure", zap.Error(err))
		if ferr := p.fail(ctx, sub, log); ferr != nil {
			return ferr
		}
	}

	span.SetAttributes(attribute.String("status", string(sub.Status)))
	log.Info("pipeline: finished",
		zap.String("status", string(sub.Status)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func (p *Pipeline) run(ctx context.Context, sub *model.Submission, log *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: panic: %v", r)
		}
	}()

	if sub.Flagged() && p.opts.ReviewPolicy == PolicyGate {
		log.Info("pipeline: flagged submission held for manual review", zap.String("reason", sub.ReviewReason))
		return p.finish(ctx, sub, model.StatusManualReview, log)
	}

	prev, err := p.reusable(ctx, sub, log)
	if err != nil {
		return err
	}
	if prev != nil {
		log.Info("pipeline: reusing recent profile", zap.String("source_job_id", prev.SubmissionID))
		profile := &model.Profile{
			ID:                     uuid.NewString(),
			SubmissionID:           sub.JobID,
			Document:               prev.Document,
			DataSourcesUsed:        prev.DataSourcesUsed,
			DataSourcesUnavailable: prev.DataSourcesUnavailable,
			ConfidenceScore:        prev.ConfidenceScore,
		}
		return p.deliver(ctx, sub, profile, false, log)
	}

	company := sub.Company()
	ev := p.collect(ctx, company, log)

	points, sufficient := Score(ev, p.opts.MinPoints)
	log.Info("pipeline: evidence scored",
		zap.Int("points", points),
		zap.Int("min_points", p.opts.MinPoints),
		zap.Bool("sufficient", sufficient),
	)
	if !sufficient {
		if err := p.finish(ctx, sub, model.StatusInsufficientData, log); err != nil {
			return err
		}
		p.notify(ctx, sub, notify.KindInsufficient, notify.Payload{CompanyName: sub.CompanyName}, log)
		return nil
	}

	doc, err := p.synthesize(ctx, company, ev, log)
	if eris.Is(err, ErrSynthesisFailed) {
		log.Warn("pipeline: synthesis failed", zap.Error(err))
		return p.fail(ctx, sub, log)
	}
	if err != nil {
		return err
	}

	if issues := ValidateProfile(doc, ev); len(issues) > 0 {
		log.Warn("pipeline: profile has validation issues", zap.Strings("issues", issues))
	}

	profile := &model.Profile{
		ID:                     uuid.NewString(),
		SubmissionID:           sub.JobID,
		Document:               *doc,
		DataSourcesUsed:        ev.SourcesUsed(),
		DataSourcesUnavailable: ev.SourcesUnavailable(),
		ConfidenceScore:        confidenceScore(doc),
	}
	return p.deliver(ctx, sub, profile, true, log)
}

func (p *Pipeline) collect(ctx context.Context, company model.Company, log *zap.Logger) *model.Evidence {
	ctx, span := p.tracer.Start(ctx, "pipeline.Collect")
	defer span.End()

	start := time.Now()
	ev := p.deps.Collector.Collect(ctx, company)
	span.SetAttributes(attribute.StringSlice("sources_used", ev.SourcesUsed()))
	log.Info("pipeline: phase complete",
		zap.String("phase", "collect"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return ev
}

func (p *Pipeline) synthesize(ctx context.Context, company model.Company, ev *model.Evidence, log *zap.Logger) (*model.ProfileDoc, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Synthesize")
	defer span.End()

	start := time.Now()
	doc, err := p.deps.Synthesizer.Synthesize(ctx, company, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	log.Info("pipeline: phase complete",
		zap.String("phase", "synthesize"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return doc, nil
}

// reusable returns a recent profile for the same company URL, checking the
// cache first and the store second. Cache errors are logged and ignored.
func (p *Pipeline) reusable(ctx context.Context, sub *model.Submission, log *zap.Logger) (*model.Profile, error) {
	if p.opts.ReuseWindow <= 0 {
		return nil, nil
	}

	jobID, ok, err := p.deps.Cache.Lookup(ctx, sub.CompanyURL)
	if err != nil {
		log.Warn("pipeline: profile cache unavailable", zap.Error(err))
	}
	if ok && jobID != sub.JobID {
		prof, err := p.deps.Store.GetProfileBySubmission(ctx, jobID)
		switch {
		case err == nil:
			return prof, nil
		case !eris.Is(err, store.ErrNotFound):
			return nil, persistErr(err, "pipeline: load cached profile %s", jobID)
		}
	}

	since := p.now().UTC().Add(-p.opts.ReuseWindow)
	prev, err := p.deps.Store.FindRecentComplete(ctx, sub.CompanyURL, since)
	if eris.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(err, "pipeline: find recent profile")
	}
	if prev.JobID == sub.JobID {
		return nil, nil
	}

	prof, err := p.deps.Store.GetProfileBySubmission(ctx, prev.JobID)
	if eris.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(err, "pipeline: load recent profile %s", prev.JobID)
	}
	return prof, nil
}

// deliver persists the profile, issues the token, completes the submission
// and runs the best-effort follow-ups. remember controls whether the cache
// is pointed at this submission; copies keep the original entry.
func (p *Pipeline) deliver(ctx context.Context, sub *model.Submission, profile *model.Profile, remember bool, log *zap.Logger) error {
	if err := p.deps.Store.UpsertProfile(ctx, profile); err != nil {
		return persistErr(err, "pipeline: save profile")
	}

	tok, err := p.deps.Tokens.Issue(ctx, sub)
	if err != nil {
		return persistErr(err, "pipeline: issue token")
	}

	if err := p.finish(ctx, sub, model.StatusComplete, log); err != nil {
		return err
	}

	p.notify(ctx, sub, notify.KindReady, notify.Payload{
		CompanyName: sub.CompanyName,
		ProfileURL:  p.profileURL(tok.Value),
		ExpiresIn:   tok.ExpiresAt.Sub(tok.IssuedAt),
	}, log)

	if remember {
		if err := p.deps.Cache.Remember(ctx, sub.CompanyURL, sub.JobID); err != nil {
			log.Warn("pipeline: profile cache write failed", zap.Error(err))
		}
	}

	if p.deps.CRM != nil {
		if leadID, err := p.deps.CRM.SyncLead(ctx, sub, profile); err != nil {
			log.Warn("pipeline: crm sync failed", zap.Error(err))
		} else {
			log.Debug("pipeline: crm lead synced", zap.String("lead_id", leadID))
		}
	}
	return nil
}

// finish persists a final status and settles the review queue entry of a
// flagged submission.
func (p *Pipeline) finish(ctx context.Context, sub *model.Submission, to model.Status, log *zap.Logger) error {
	if err := p.deps.Store.TransitionStatus(ctx, sub.JobID, sub.Status, to); err != nil {
		return persistErr(err, "pipeline: transition to %s", to)
	}
	sub.Status = to
	metrics.ObserveSubmission(string(to))

	if sub.Flagged() && p.deps.Review != nil && to != model.StatusManualReview {
		if err := p.deps.Review.Resolve(ctx, sub.JobID, to); err != nil {
			log.Warn("pipeline: review queue update failed", zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, sub *model.Submission, log *zap.Logger) error {
	if err := p.finish(ctx, sub, model.StatusFailed, log); err != nil {
		return err
	}
	p.notify(ctx, sub, notify.KindFailed, notify.Payload{CompanyName: sub.CompanyName}, log)
	return nil
}

func (p *Pipeline) notify(ctx context.Context, sub *model.Submission, kind notify.Kind, payload notify.Payload, log *zap.Logger) {
	if err := p.deps.Notifier.Send(ctx, kind, sub.Email, payload); err != nil {
		log.Warn("pipeline: notification failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (p *Pipeline) profileURL(token string) string {
	return fmt.Sprintf("%s/profile/%s", strings.TrimRight(p.opts.BaseURL, "/"), token)
}

func confidenceScore(doc *model.ProfileDoc) string {
	if s := strings.TrimSpace(doc.DataConfidence.OverallScore); s != "" {
		return s
	}
	return "Medium"
}
