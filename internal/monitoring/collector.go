package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
)

const pageSize = 500

// MetricsSnapshot holds a point-in-time view of submission health.
type MetricsSnapshot struct {
	// Submissions created within the lookback window.
	Total            int     `json:"total"`
	Complete         int     `json:"complete"`
	Failed           int     `json:"failed"`
	InsufficientData int     `json:"insufficient_data"`
	ManualReview     int     `json:"manual_review"`
	InFlight         int     `json:"in_flight"`
	Flagged          int     `json:"flagged"`
	FailRate         float64 `json:"fail_rate"`

	// Queued or processing submissions older than the stranded threshold,
	// regardless of the lookback window.
	Stranded int `json:"stranded"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished counts submissions that reached a terminal status.
func (s *MetricsSnapshot) Finished() int {
	return s.Complete + s.Failed + s.InsufficientData + s.ManualReview
}

// Lister is the store surface the collector reads.
type Lister interface {
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error)
}

// Collector gathers submission counts from the store.
type Collector struct {
	store Lister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st Lister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot over the lookback window and counts stranded
// submissions older than strandedAfter.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, strandedAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Listings are newest first, so stop at the first page that crosses the cutoff.
	for offset := 0; ; offset += pageSize {
		page, err := c.store.ListSubmissions(ctx, store.SubmissionFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list submissions")
		}
		done := len(page) < pageSize
		for i := range page {
			if page[i].CreatedAt.Before(cutoff) {
				done = true
				break
			}
			snap.count(&page[i])
		}
		if done {
			break
		}
	}
	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	for offset := 0; ; offset += pageSize {
		page, err := c.store.ListSubmissions(ctx, store.SubmissionFilter{
			Statuses:      []model.Status{model.StatusQueued, model.StatusProcessing},
			CreatedBefore: now.Add(-strandedAfter),
			Limit:         pageSize,
			Offset:        offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list stranded submissions")
		}
		snap.Stranded += len(page)
		if len(page) < pageSize {
			break
		}
	}

	return snap, nil
}

func (s *MetricsSnapshot) count(sub *model.Submission) {
	s.Total++
	if sub.Flagged() {
		s.Flagged++
	}
	switch sub.Status {
	case model.StatusComplete:
		s.Complete++
	case model.StatusFailed:
		s.Failed++
	case model.StatusInsufficientData:
		s.InsufficientData++
	case model.StatusManualReview:
		s.ManualReview++
	case model.StatusQueued, model.StatusProcessing:
		s.InFlight++
	}
}
