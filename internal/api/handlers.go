package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/intake"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
	"github.com/sells-group/opsprofile/internal/token"
)

// Response messages.
const (
	msgThrottled      = "Rate limit exceeded. Please try again later."
	msgSubmitFailed   = "Failed to process submission. Please try again."
	msgJobNotFound    = "Job not found"
	msgProfileMissing = "Profile not found"
	msgExpired        = "This profile link has expired"
	msgPreparing      = "Your profile is being prepared"
	msgUnavailable    = "Unable to generate profile"
	msgBadRating      = "Rating must be between 1 and 5"
	msgThanks         = "Thank you for your feedback"
	msgInternal       = "Internal server error"
)

func (s *Server) submitIntake(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.intake.Submit(r.Context(), req, ClientIP(r))
	var verr *intake.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, rec)
	case eris.Is(err, intake.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, msgThrottled)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Reason)
	default:
		zap.L().Error("api: intake failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgSubmitFailed)
	}
}

type statusResponse struct {
	JobID        string       `json:"job_id"`
	Status       model.Status `json:"status"`
	ManualReview bool         `json:"manual_review"`
	ReviewReason string       `json:"review_reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	sub, err := s.store.GetSubmission(r.Context(), jobID)
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgJobNotFound)
		return
	}
	if err != nil {
		zap.L().Error("api: load submission", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:        sub.JobID,
		Status:       sub.Status,
		ManualReview: sub.Flagged() || sub.Status == model.StatusManualReview,
		ReviewReason: sub.ReviewReason,
		CreatedAt:    sub.CreatedAt,
		CompletedAt:  sub.CompletedAt,
	})
}

type profileResponse struct {
	Profile     model.ProfileDoc `json:"profile"`
	CompanyName string           `json:"company_name"`
	CreatedAt   time.Time        `json:"created_at"`
}

type pendingResponse struct {
	Status  model.Status `json:"status"`
	Message string       `json:"message"`
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	res, err := s.tokens.Resolve(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		zap.L().Error("api: resolve token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	switch res.Kind {
	case token.Fresh:
		writeJSON(w, http.StatusOK, profileResponse{
			Profile:     res.Profile.Document,
			CompanyName: res.Submission.CompanyName,
			CreatedAt:   res.Profile.CreatedAt,
		})
	case token.Pending:
		msg := msgUnavailable
		if !res.Submission.Status.Terminal() {
			msg = msgPreparing
		}
		writeJSON(w, http.StatusAccepted, pendingResponse{Status: res.Submission.Status, Message: msg})
	case token.Expired:
		writeError(w, http.StatusGone, msgExpired)
	default:
		writeError(w, http.StatusNotFound, msgProfileMissing)
	}
}

type feedbackRequest struct {
	ProfileID string `json:"profile_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// tokenFeedback records feedback against the profile behind an access token.
// Expired tokens may still leave feedback.
func (s *Server) tokenFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	sub, err := s.store.GetSubmissionByToken(ctx, chi.URLParam(r, "token"))
	if err != nil {
		s.lookupFailed(w, err)
		return
	}
	p, err := s.store.GetProfileBySubmission(ctx, sub.JobID)
	if err != nil {
		s.lookupFailed(w, err)
		return
	}
	s.saveFeedback(w, r, p.ID, req)
}

// feedback records feedback addressed by profile ID.
func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.ProfileID)
	if id == "" {
		writeError(w, http.StatusNotFound, msgProfileMissing)
		return
	}
	p, err := s.store.GetProfile(r.Context(), id)
	if err != nil {
		s.lookupFailed(w, err)
		return
	}
	s.saveFeedback(w, r, p.ID, req)
}

func (s *Server) saveFeedback(w http.ResponseWriter, r *http.Request, profileID string, req feedbackRequest) {
	if !model.ValidRating(req.Rating) {
		writeError(w, http.StatusBadRequest, msgBadRating)
		return
	}
	f := &model.Feedback{ProfileID: profileID, Rating: req.Rating, Comment: strings.TrimSpace(req.Comment)}
	if err := s.store.CreateFeedback(r.Context(), f); err != nil {
		zap.L().Error("api: save feedback", zap.String("profile_id", profileID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": msgThanks})
}

func (s *Server) lookupFailed(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgProfileMissing)
		return
	}
	zap.L().Error("api: profile lookup", zap.Error(err))
	writeError(w, http.StatusInternalServerError, msgInternal)
}
