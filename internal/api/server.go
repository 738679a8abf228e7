// Package api exposes the public HTTP interface: intake, job status, profile
// retrieval by access token, and feedback.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/intake"
	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/token"
)

const maxBodyBytes = 64 << 10

// Intake accepts new submissions.
type Intake interface {
	Submit(ctx context.Context, req intake.Request, clientIP string) (*intake.Receipt, error)
}

// Tokens resolves access tokens to profiles.
type Tokens interface {
	Resolve(ctx context.Context, tok string) (token.Resolution, error)
}

// Store is the read and feedback side of persistence the handlers need.
type Store interface {
	GetSubmission(ctx context.Context, jobID string) (*model.Submission, error)
	GetSubmissionByToken(ctx context.Context, tok string) (*model.Submission, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileBySubmission(ctx context.Context, jobID string) (*model.Profile, error)
	CreateFeedback(ctx context.Context, f *model.Feedback) error
}

// Options configures the router.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Server wires HTTP handlers to the intake service, token issuer and store.
type Server struct {
	router chi.Router
	intake Intake
	tokens Tokens
	store  Store
}

// NewServer constructs a Server with middleware and routes.
func NewServer(in Intake, tokens Tokens, st Store, opts Options) *Server {
	s := &Server{intake: in, tokens: tokens, store: st}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Post("/intake", s.submitIntake)
	r.Get("/status/{job_id}", s.getStatus)
	r.Get("/profile/{token}", s.getProfile)
	r.Post("/profile/{token}/feedback", s.tokenFeedback)
	r.Post("/feedback", s.feedback)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClientIP returns the first X-Forwarded-For entry when present, otherwise
// the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
