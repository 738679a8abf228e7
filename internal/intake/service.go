package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/model"
)

// User-facing acknowledgements.
const (
	MessageQueued  = "Your operational profile is being generated. You'll receive an email when it's ready."
	MessageFlagged = "Your request has been received and will be reviewed by our team."
)

// ErrThrottled is returned when the client exceeded the submission rate.
var ErrThrottled = eris.New("intake: rate limit exceeded")

// ValidationError carries the user-facing rejection reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "intake: rejected: " + e.Reason }

// Store persists new submissions.
type Store interface {
	CreateSubmission(ctx context.Context, s *model.Submission) error
}

// Dispatcher hands a queued submission to the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// ReviewQueue records flagged submissions for operators.
type ReviewQueue interface {
	Enqueue(ctx context.Context, s *model.Submission) error
}

// Receipt is returned to the client on acceptance.
type Receipt struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
	Flagged bool   `json:"-"`
}

// Service runs the intake flow.
type Service struct {
	limiter      Limiter
	validator    *Validator
	store        Store
	dispatcher   Dispatcher
	review       ReviewQueue
	holdsFlagged bool
	now          func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFlaggedHeld tells submitters that flagged requests wait for an
// operator. Use it when the pipeline parks flagged submissions in
// manual_review instead of processing them.
func WithFlaggedHeld() ServiceOption {
	return func(s *Service) { s.holdsFlagged = true }
}

// NewService wires the intake flow. limiter and review may be nil.
func NewService(limiter Limiter, v *Validator, st Store, d Dispatcher, review ReviewQueue, opts ...ServiceOption) *Service {
	if limiter == nil {
		limiter = NopLimiter{}
	}
	s := &Service{
		limiter:    limiter,
		validator:  v,
		store:      st,
		dispatcher: d,
		review:     review,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit throttles, validates, persists and dispatches one request. It
// returns ErrThrottled, a *ValidationError, or a wrapped persistence error;
// nothing is persisted on the first two. A dispatch failure is logged only:
// the submission stays queued and the recovery sweep picks it up.
func (s *Service) Submit(ctx context.Context, req Request, clientIP string) (*Receipt, error) {
	log := zap.L().With(zap.String("client_ip", clientIP))

	allowed, err := s.limiter.Allow(ctx, clientIP)
	if err != nil {
		log.Warn("intake: rate limiter unavailable, allowing request", zap.Error(err))
	}
	if !allowed {
		metrics.ObserveIntake("throttled")
		return nil, ErrThrottled
	}

	out := s.validator.Validate(req.CompanyName, req.CompanyURL, req.Email)
	metrics.ObserveIntake(out.Decision.String())
	if out.Decision == Rejected {
		return nil, &ValidationError{Reason: out.Reason}
	}

	now := s.now().UTC()
	sub := &model.Submission{
		JobID:        uuid.NewString(),
		CompanyName:  req.CompanyName,
		CompanyURL:   model.NormalizeURL(req.CompanyURL),
		Email:        req.Email,
		Status:       model.StatusQueued,
		ReviewReason: out.Reason,
		ClientIP:     clientIP,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSubmission(ctx, sub); err != nil {
		return nil, eris.Wrap(err, "intake: persist submission")
	}
	log = log.With(zap.String("job_id", sub.JobID))

	if sub.Flagged() && s.review != nil {
		if err := s.review.Enqueue(ctx, sub); err != nil {
			log.Warn("intake: review queue unavailable", zap.Error(err))
		}
	}

	if err := s.dispatcher.Dispatch(ctx, sub.JobID); err != nil {
		log.Error("intake: dispatch failed, left queued for recovery", zap.Error(err))
	}

	log.Info("intake: submission accepted",
		zap.String("company", sub.CompanyName),
		zap.String("review_reason", sub.ReviewReason),
	)

	msg := MessageQueued
	if sub.Flagged() && s.holdsFlagged {
		msg = MessageFlagged
	}
	return &Receipt{JobID: sub.JobID, Message: msg, Flagged: sub.Flagged()}, nil
}
