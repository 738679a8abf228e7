// Package collect fans a company out to every data source adapter and joins
// the results into a single evidence record.
package collect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/opsprofile/internal/metrics"
	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/resilience"
	"github.com/sells-group/opsprofile/internal/sources"
)

// DefaultTimeout bounds each adapter when Options.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// ErrNotConfigured marks a source that has no adapter.
var ErrNotConfigured = eris.New("collect: source not configured")

// Options configures a Coordinator.
type Options struct {
	// Timeout is the per-adapter deadline.
	Timeout time.Duration
	// Breaker configures the per-source circuit breakers. ShouldTrip
	// defaults to ignoring sources.ErrNoData.
	Breaker resilience.BreakerConfig
}

// Coordinator runs all adapters concurrently under independent deadlines.
type Coordinator struct {
	adapters [model.SourceCount]sources.Adapter
	timeout  time.Duration
	breakers *resilience.Breakers
}

// New creates a coordinator. Adapters are slotted by their Source; a later
// adapter for the same source replaces an earlier one.
func New(adapters []sources.Adapter, opts Options) *Coordinator {
	c := &Coordinator{timeout: opts.Timeout}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		c.adapters[a.Source()] = a
	}

	bc := opts.Breaker
	if bc.ShouldTrip == nil {
		bc.ShouldTrip = func(err error) bool {
			return err != nil && !eris.Is(err, sources.ErrNoData)
		}
	}
	c.breakers = resilience.NewBreakers(bc)
	return c
}

// BreakerStates reports the circuit state of every source seen so far.
func (c *Coordinator) BreakerStates() map[string]string {
	return c.breakers.States()
}

// Collect runs every adapter and returns once each has reported or hit its
// deadline, whichever is first. It never fails: problems become failure
// markers in the evidence. An adapter that ignores cancellation is abandoned
// at its deadline and its eventual result is discarded.
func (c *Coordinator) Collect(ctx context.Context, company model.Company) *model.Evidence {
	ev := model.NewEvidence()
	log := zap.L().With(zap.String("company", company.Name), zap.String("domain", company.Domain))

	var g errgroup.Group
	for _, src := range model.Sources() {
		g.Go(func() error {
			r := c.run(ctx, src, company)
			ev.Set(r)
			metrics.ObserveAdapter(src.String(), resultLabel(r), r.Duration)
			if !r.OK() {
				log.Debug("collect: source failed",
					zap.Stringer("source", src),
					zap.Bool("timed_out", r.TimedOut),
					zap.Duration("duration", r.Duration),
					zap.String("error", r.ErrorString()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("collect: evidence gathered",
		zap.Strings("succeeded", ev.SourcesUsed()),
		zap.Strings("unavailable", ev.SourcesUnavailable()),
	)
	return ev
}

type outcome struct {
	payload any
	err     error
}

func (c *Coordinator) run(ctx context.Context, src model.Source, company model.Company) model.PartialResult {
	start := time.Now()
	adapter := c.adapters[src]
	if adapter == nil {
		return model.Failure(src, ErrNotConfigured, false, 0)
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := resilience.Call(actx, c.breakers.Get(src.String()), func(ctx context.Context) (any, error) {
		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- outcome{err: eris.Errorf("collect: %s adapter panicked: %v", src, p)}
				}
			}()
			v, err := adapter.Collect(ctx, company)
			done <- outcome{payload: v, err: err}
		}()

		select {
		case o := <-done:
			return o.payload, o.err
		case <-ctx.Done():
			return nil, eris.Wrapf(ctx.Err(), "collect: %s", src)
		}
	})
	d := time.Since(start)

	if err == nil && payload == nil {
		err = sources.ErrNoData
	}
	if err != nil {
		timedOut := errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return model.Failure(src, err, timedOut, d)
	}
	return model.Success(src, payload, d)
}

func resultLabel(r model.PartialResult) string {
	switch {
	case r.OK():
		return "ok"
	case r.TimedOut:
		return "timeout"
	case eris.Is(r.Err, sources.ErrNoData):
		return "no_data"
	case eris.Is(r.Err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case eris.Is(r.Err, ErrNotConfigured):
		return "not_configured"
	default:
		return "error"
	}
}

// Summary renders one "source=result" pair per source, in source order.
func Summary(ev *model.Evidence) string {
	parts := make([]string, 0, len(ev.Results))
	for _, r := range ev.Results {
		parts = append(parts, fmt.Sprintf("%s=%s", r.Source, resultLabel(r)))
	}
	return strings.Join(parts, " ")
}
