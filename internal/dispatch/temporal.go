package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/store"
)

// DefaultTaskQueue is the queue submissions are scheduled on.
const DefaultTaskQueue = "opsprofile-submissions"

// errTypeNotFound tags activity failures that must not be retried.
const errTypeNotFound = "SubmissionNotFound"

// WorkflowID is the Temporal workflow id for a submission. Starting the
// same id again while it runs attaches to the existing run.
func WorkflowID(jobID string) string {
	return "submission-" + jobID
}

// ActivityOptions bounds one pipeline run. Persistence failures surface as
// activity errors and are retried here; a missing submission is not.
func ActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        2 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{errTypeNotFound},
		},
	}
}

// ProcessSubmissionWorkflow runs the pipeline for one submission as a
// single activity.
func ProcessSubmissionWorkflow(ctx workflow.Context, jobID string) error {
	ctx = workflow.WithActivityOptions(ctx, ActivityOptions())
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.ProcessSubmission, jobID).Get(ctx, nil)
}

// Activities exposes the pipeline to Temporal workers.
type Activities struct {
	Processor Processor
}

// ProcessSubmission runs the pipeline. Temporal redelivers it on failure.
func (a *Activities) ProcessSubmission(ctx context.Context, jobID string) error {
	info := activity.GetInfo(ctx)
	err := a.Processor.Process(ctx, jobID)
	if eris.Is(err, store.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), errTypeNotFound, err)
	}
	if err != nil {
		zap.L().Warn("dispatch: activity attempt failed",
			zap.String("job_id", jobID),
			zap.Int32("attempt", info.Attempt),
			zap.Error(err),
		)
	}
	return err
}

// Temporal starts one workflow per submission.
type Temporal struct {
	client    client.Client
	taskQueue string
}

// NewTemporal returns a dispatcher scheduling on taskQueue.
func NewTemporal(c client.Client, taskQueue string) *Temporal {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Temporal{client: c, taskQueue: taskQueue}
}

// Dispatch starts the submission's workflow.
func (t *Temporal) Dispatch(ctx context.Context, jobID string) error {
	run, err := t.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(jobID),
		TaskQueue: t.taskQueue,
	}, ProcessSubmissionWorkflow, jobID)
	if err != nil {
		return eris.Wrapf(err, "dispatch: start workflow for %s", jobID)
	}
	zap.L().Debug("dispatch: workflow started",
		zap.String("job_id", jobID),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

// NewWorker registers the workflow and activities on taskQueue.
func NewWorker(c client.Client, taskQueue string, p Processor, maxInFlight int) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: maxInFlight,
	})
	w.RegisterWorkflow(ProcessSubmissionWorkflow)
	w.RegisterActivity(&Activities{Processor: p})
	return w
}

// Dial connects to the Temporal frontend, logging through zap.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    zapAdapter{zap.S().Named("temporal")},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dispatch: dial temporal %s", hostPort)
	}
	return c, nil
}

// zapAdapter satisfies the Temporal SDK logger interface.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (l zapAdapter) Debug(msg string, keyvals ...any) { l.s.Debugw(msg, keyvals...) }
func (l zapAdapter) Info(msg string, keyvals ...any)  { l.s.Infow(msg, keyvals...) }
func (l zapAdapter) Warn(msg string, keyvals ...any)  { l.s.Warnw(msg, keyvals...) }
func (l zapAdapter) Error(msg string, keyvals ...any) { l.s.Errorw(msg, keyvals...) }
