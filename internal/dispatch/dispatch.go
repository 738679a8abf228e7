// Package dispatch hands accepted submissions to the pipeline, either on
// local goroutines or as Temporal workflows.
package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
)

// ErrClosed is returned by Dispatch after shutdown has begun.
var ErrClosed = eris.New("dispatch: closed")

// Processor runs one submission to completion.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// Dispatcher starts processing for a submission without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Lister finds submissions by status.
type Lister interface {
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error)
}

const sweepPageSize = 100

// Sweep re-dispatches every submission still queued or processing that was
// created before cutoff. Those are runs that never started or died with
// their process. It returns how many were dispatched.
func Sweep(ctx context.Context, l Lister, d Dispatcher, cutoff time.Time) (int, error) {
	filter := store.SubmissionFilter{
		Statuses:      []model.Status{model.StatusQueued, model.StatusProcessing},
		CreatedBefore: cutoff,
		Limit:         sweepPageSize,
	}

	// Collect first: dispatching moves rows out of the filter while paging.
	var jobIDs []string
	for {
		page, err := l.ListSubmissions(ctx, filter)
		if err != nil {
			return 0, eris.Wrap(err, "dispatch: list stranded submissions")
		}
		for _, s := range page {
			jobIDs = append(jobIDs, s.JobID)
		}
		if len(page) < filter.Limit {
			break
		}
		filter.Offset += filter.Limit
	}

	dispatched := 0
	for _, id := range jobIDs {
		if err := d.Dispatch(ctx, id); err != nil {
			zap.L().Warn("dispatch: sweep could not dispatch", zap.String("job_id", id), zap.Error(err))
			continue
		}
		dispatched++
	}
	zap.L().Info("dispatch: sweep complete",
		zap.Int("found", len(jobIDs)),
		zap.Int("dispatched", dispatched),
	)
	return dispatched, nil
}
