package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior. Delays between attempts come from
// Schedule when it is set, otherwise from exponential backoff with jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// Schedule is an explicit delay table. The delay after attempt n is
	// Schedule[n-1]; the last entry repeats if attempts outnumber entries.
	// No jitter is applied to scheduled delays.
	Schedule []time.Duration

	// InitialBackoff is the base delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%).
	JitterFraction float64

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// Sleep waits between attempts. Tests replace it to record delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns a sensible retry configuration for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// ScheduleConfig returns a RetryConfig driven entirely by a delay table.
func ScheduleConfig(maxAttempts int, delays []time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		Schedule:    delays,
	}
}

// Attempt is the typed outcome of one try.
type Attempt struct {
	Number int
	Err    error
	Retry  bool
	Delay  time.Duration
}

// Backoff is the retry state machine: it counts attempts and yields the
// delay before the next one.
type Backoff struct {
	cfg     RetryConfig
	attempt int
}

// NewBackoff returns a Backoff at attempt zero.
func NewBackoff(cfg RetryConfig) *Backoff {
	return &Backoff{cfg: applyDefaults(cfg)}
}

// Attempts returns how many attempts have been recorded.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Next records the result of an attempt and decides whether another one
// should follow.
func (b *Backoff) Next(err error) Attempt {
	b.attempt++
	a := Attempt{Number: b.attempt, Err: err}
	if err == nil || b.attempt >= b.cfg.MaxAttempts {
		return a
	}

	shouldRetry := b.cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	if !shouldRetry(err) {
		return a
	}

	a.Retry = true
	a.Delay = b.delay(b.attempt - 1)
	return a
}

func (b *Backoff) delay(retry int) time.Duration {
	if n := len(b.cfg.Schedule); n > 0 {
		return b.cfg.Schedule[min(retry, n-1)]
	}
	return computeBackoff(retry, b.cfg)
}

// Do executes fn with retry logic according to cfg. It retries only on
// errors deemed transient (via ShouldRetry or the default IsTransient check).
// Context cancellation stops retries immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	b := NewBackoff(cfg)

	var zero T
	for {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}

		a := b.Next(err)
		if !a.Retry {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(a.Number, err)
		}
		if serr := cfg.Sleep(ctx, a.Delay); serr != nil {
			return zero, err
		}
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string, fields ...zap.Field) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation", append([]zap.Field{
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		}, fields...)...)
	}
}
