// Package monitoring watches submission outcomes and posts webhook alerts
// when failures or stranded work cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/config"
)

const (
	defaultWatchInterval = 5 * time.Minute
	defaultRealertAfter  = time.Hour
)

// Watch polls submission health on a fixed interval. An alert that keeps
// firing is delivered again only after the realert window; once its
// condition clears, the next occurrence is delivered immediately.
// Check is not safe for concurrent use.
type Watch struct {
	collector     *Collector
	alerter       *Alerter
	lookbackHours int
	strandedAfter time.Duration
	interval      time.Duration
	realertAfter  time.Duration
	now           func() time.Time
	log           *zap.Logger

	delivered map[AlertType]time.Time
}

// NewWatch builds a Watch from the monitoring config.
func NewWatch(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Watch {
	w := &Watch{
		collector:     collector,
		alerter:       alerter,
		lookbackHours: cfg.LookbackWindowHours,
		strandedAfter: time.Duration(cfg.StrandedAfterMins) * time.Minute,
		interval:      time.Duration(cfg.CheckIntervalSecs) * time.Second,
		realertAfter:  time.Duration(cfg.RealertAfterMins) * time.Minute,
		now:           time.Now,
		log:           zap.L().With(zap.String("component", "monitoring.watch")),
		delivered:     make(map[AlertType]time.Time),
	}
	if w.interval <= 0 {
		w.interval = defaultWatchInterval
	}
	if w.realertAfter <= 0 {
		w.realertAfter = defaultRealertAfter
	}
	return w
}

// Run checks once per interval until ctx is cancelled.
func (w *Watch) Run(ctx context.Context) {
	w.log.Info("watching submission health",
		zap.Duration("interval", w.interval),
		zap.Int("lookback_hours", w.lookbackHours),
		zap.Duration("stranded_after", w.strandedAfter),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("submission health watch stopped")
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check collects one snapshot and delivers the alerts that are due. It
// returns the due alerts, delivered or not.
func (w *Watch) Check(ctx context.Context) []Alert {
	snap, err := w.collector.Collect(ctx, w.lookbackHours, w.strandedAfter)
	if err != nil {
		w.log.Error("monitoring: collect submission counts", zap.Error(err))
		return nil
	}

	due := w.due(w.alerter.Evaluate(snap))
	if len(due) == 0 {
		return nil
	}

	delivered := 0
	for _, a := range due {
		// Undelivered alerts stay due and are retried on the next tick.
		if w.alerter.SendAlerts(ctx, []Alert{a}) == 1 {
			w.delivered[a.Type] = w.now()
			delivered++
		}
	}
	w.log.Info("monitoring: submission health degraded",
		zap.Int("in_flight", snap.InFlight),
		zap.Int("stranded", snap.Stranded),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_delivered", delivered),
	)
	return due
}

// due filters out alerts delivered within the realert window and forgets
// alert types that are no longer firing.
func (w *Watch) due(firing []Alert) []Alert {
	now := w.now()
	active := make(map[AlertType]bool, len(firing))
	var out []Alert
	for _, a := range firing {
		active[a.Type] = true
		if last, ok := w.delivered[a.Type]; ok && now.Sub(last) < w.realertAfter {
			continue
		}
		out = append(out, a)
	}
	for t := range w.delivered {
		if !active[t] {
			delete(w.delivered, t)
		}
	}
	return out
}
