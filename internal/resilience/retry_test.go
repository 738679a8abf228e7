package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordSleep returns a Sleep func that records delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call for non-transient error, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{MaxAttempts: 5, Schedule: []time.Duration{time.Hour}}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("503"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation did not interrupt sleep")
	}
}

func TestDoVal_ScheduleDelays(t *testing.T) {
	var delays []time.Duration
	cfg := ScheduleConfig(3, []time.Duration{time.Second, 4 * time.Second, 16 * time.Second})
	cfg.Sleep = recordSleep(&delays)

	var calls int
	_, err := DoVal(context.Background(), cfg, func(_ context.Context) (string, error) {
		calls++
		return "", NewTransientError(errors.New("rate limited"), 429)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
}

func TestDoVal_SuccessOnSecondAttempt(t *testing.T) {
	var delays []time.Duration
	cfg := ScheduleConfig(3, []time.Duration{time.Second, 4 * time.Second, 16 * time.Second})
	cfg.Sleep = recordSleep(&delays)

	var calls int
	val, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, NewTransientError(errors.New("overloaded"), 529)
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != 42 || calls != 2 {
		t.Errorf("expected 42 after 2 calls, got %d after %d", val, calls)
	}
	if len(delays) != 1 || delays[0] != time.Second {
		t.Errorf("expected a single 1s delay, got %v", delays)
	}
}

func TestBackoff_StateMachine(t *testing.T) {
	b := NewBackoff(ScheduleConfig(4, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}))
	transient := NewTransientError(errors.New("x"), 500)

	a := b.Next(transient)
	if !a.Retry || a.Number != 1 || a.Delay != 10*time.Millisecond {
		t.Errorf("attempt 1: %+v", a)
	}
	a = b.Next(transient)
	if !a.Retry || a.Delay != 20*time.Millisecond {
		t.Errorf("attempt 2: %+v", a)
	}
	// Schedule shorter than attempts: last delay repeats.
	a = b.Next(transient)
	if !a.Retry || a.Delay != 20*time.Millisecond {
		t.Errorf("attempt 3: %+v", a)
	}
	a = b.Next(transient)
	if a.Retry {
		t.Errorf("attempt 4 should be final: %+v", a)
	}
	if b.Attempts() != 4 {
		t.Errorf("expected 4 attempts, got %d", b.Attempts())
	}
}

func TestBackoff_SuccessStops(t *testing.T) {
	b := NewBackoff(DefaultRetryConfig())
	a := b.Next(nil)
	if a.Retry || a.Err != nil {
		t.Errorf("success should not retry: %+v", a)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(attempt int, _ error) { attempts = append(attempts, attempt) },
		Sleep:          func(context.Context, time.Duration) error { return nil },
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 500)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", attempts)
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := RetryConfig{
		MaxAttempts: 3,
		ShouldRetry: func(err error) bool { return err.Error() == "retry me" },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errors.New("retry me")
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestComputeBackoff_CappedByMax(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 2 * time.Second, Multiplier: 10}
	if d := computeBackoff(3, cfg); d != 2*time.Second {
		t.Errorf("expected cap of 2s, got %v", d)
	}
}
