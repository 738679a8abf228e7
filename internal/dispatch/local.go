package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight bounds concurrent runs when no limit is configured.
const DefaultMaxInFlight = 20

// Local runs submissions on goroutines in this process, at most maxInFlight
// at a time. A job id already waiting or running is not started twice.
// Failed runs are only logged; Sweep picks them up on the next start.
type Local struct {
	proc Processor
	sem  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
}

// NewLocal returns a local dispatcher.
func NewLocal(p Processor, maxInFlight int) *Local {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		proc:   p,
		sem:    semaphore.NewWeighted(int64(maxInFlight)),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

// Dispatch schedules jobID and returns immediately. The run does not
// inherit ctx: it outlives the request that accepted the submission.
func (d *Local) Dispatch(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.active[jobID]; ok {
		return nil
	}
	d.active[jobID] = struct{}{}

	d.wg.Add(1)
	go d.run(jobID)
	return nil
}

func (d *Local) run(jobID string) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.active, jobID)
		d.mu.Unlock()
	}()

	log := zap.L().With(zap.String("job_id", jobID))
	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		log.Warn("dispatch: shut down before run started")
		return
	}
	defer d.sem.Release(1)

	if err := d.proc.Process(d.ctx, jobID); err != nil {
		log.Error("dispatch: run failed, left for recovery", zap.Error(err))
	}
}

// Pending reports how many runs are waiting or in progress.
func (d *Local) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Close stops accepting work and waits for in-progress runs. If ctx ends
// first, outstanding runs are canceled and ctx's error is returned.
func (d *Local) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
