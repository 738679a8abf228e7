package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/resilience"
	"github.com/sells-group/opsprofile/pkg/anthropic"
)

// Synthesis defaults.
const (
	DefaultModel       = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens   = 2500
	DefaultTemperature = 0.3
)

// DefaultRetryDelays is the wait before the second, third and any later
// synthesis attempt.
var DefaultRetryDelays = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// ErrSynthesisFailed is returned when every synthesis attempt failed or an
// attempt failed permanently.
var ErrSynthesisFailed = eris.New("pipeline: synthesis failed")

// SynthesisConfig configures the model call and its retry schedule.
type SynthesisConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	Retry       resilience.RetryConfig
}

// DefaultSynthesisConfig returns three attempts on the default delay table.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Retry:       resilience.ScheduleConfig(3, DefaultRetryDelays),
	}
}

// Synthesizer turns evidence into a profile document with the model.
type Synthesizer struct {
	client anthropic.Client
	cfg    SynthesisConfig
	now    func() time.Time
}

// NewSynthesizer returns a Synthesizer. Zero config fields take defaults.
func NewSynthesizer(client anthropic.Client, cfg SynthesisConfig) *Synthesizer {
	def := DefaultSynthesisConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if len(cfg.Retry.Schedule) == 0 {
		cfg.Retry.Schedule = def.Retry.Schedule
	}
	return &Synthesizer{client: client, cfg: cfg, now: time.Now}
}

// Synthesize sends one prompt for the company and retries transient
// failures on the configured schedule. It returns ErrSynthesisFailed once
// attempts are exhausted or a permanent error occurs. If ctx ends first the
// context error is returned instead, so the run can be redelivered.
func (s *Synthesizer) Synthesize(ctx context.Context, company model.Company, ev *model.Evidence) (*model.ProfileDoc, error) {
	log := zap.L().With(zap.String("company", company.Name))

	user, err := UserMessage(company, ev, s.now())
	if err != nil {
		return nil, err
	}
	temp := s.cfg.Temperature
	req := anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      anthropic.CachedSystem(systemPrompt, ""),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	}

	retry := s.cfg.Retry
	retry.ShouldRetry = retryable
	retry.OnRetry = resilience.RetryLogger("anthropic", "synthesize", zap.String("company", company.Name))

	attempts := 0
	doc, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.ProfileDoc, error) {
		attempts++
		doc, err := s.attempt(ctx, req)
		metrics.ObserveSynthesisAttempt(attemptResult(err))
		return doc, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "pipeline: synthesis interrupted")
		}
		log.Warn("pipeline: synthesis gave up", zap.Int("attempts", attempts), zap.Error(err))
		return nil, eris.Wrapf(ErrSynthesisFailed, "after %d attempt(s): %v", attempts, err)
	}

	log.Debug("pipeline: synthesis complete", zap.Int("attempts", attempts))
	return doc, nil
}

func (s *Synthesizer) attempt(ctx context.Context, req anthropic.MessageRequest) (*model.ProfileDoc, error) {
	resp, err := s.client.CreateMessage(ctx, req)
	if err != nil {
		return nil, classifyModelError(err)
	}
	resp.Usage.LogCost(req.Model, "synthesis")

	if resp.Truncated() {
		return nil, resilience.NewTransientError(eris.New("pipeline: model output truncated"), 0)
	}

	var doc model.ProfileDoc
	if err := json.Unmarshal([]byte(stripFences(resp.Text())), &doc); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "pipeline: parse model output"), 0)
	}
	if missing := missingFields(&doc); len(missing) > 0 {
		return nil, resilience.NewTransientError(
			eris.Errorf("pipeline: model output missing %s", strings.Join(missing, ", ")), 0)
	}
	// The model echoes whatever it likes here; only the validator writes it.
	doc.ValidationIssues = nil
	return &doc, nil
}

var profileValidate = newProfileValidator()

// newProfileValidator reports fields by their JSON names.
func newProfileValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// missingFields lists the required document fields the model left empty,
// as dotted JSON paths.
func missingFields(doc *model.ProfileDoc) []string {
	err := profileValidate.Struct(doc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		out = append(out, path)
	}
	return out
}

// classifyModelError marks responses worth another attempt. A request that
// never got a response (StatusCode 0) is a network failure or timeout.
func classifyModelError(err error) error {
	var apiErr *anthropic.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.StatusCode == 0 || resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

// retryable rejects client errors outright; everything else falls back to
// the shared transient check.
func retryable(err error) bool {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && !resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return false
	}
	return resilience.IsTransient(err)
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case retryable(err):
		return "transient"
	default:
		return "permanent"
	}
}
