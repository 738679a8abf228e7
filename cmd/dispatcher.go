package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/dispatch"
)

// dispatcher couples a dispatch.Dispatcher with its shutdown.
type dispatcher struct {
	dispatch.Dispatcher
	// local is set when submissions run in this process.
	local bool
	close func(ctx context.Context) error
}

// Close waits for local runs (bounded by ctx) or closes the Temporal client.
func (d *dispatcher) Close(ctx context.Context) error {
	if d.close == nil {
		return nil
	}
	return d.close(ctx)
}

// initDispatcher builds the configured dispatcher over p.
func initDispatcher(p dispatch.Processor) (*dispatcher, error) {
	if cfg.Pipeline.Dispatcher == "temporal" {
		c, err := dispatch.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return nil, err
		}
		zap.L().Info("dispatching submissions to temporal",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		return &dispatcher{
			Dispatcher: dispatch.NewTemporal(c, cfg.Temporal.TaskQueue),
			close: func(context.Context) error {
				c.Close()
				return nil
			},
		}, nil
	}

	l := dispatch.NewLocal(p, cfg.Pipeline.MaxInFlight)
	zap.L().Info("dispatching submissions in process", zap.Int("max_in_flight", cfg.Pipeline.MaxInFlight))
	return &dispatcher{Dispatcher: l, local: true, close: l.Close}, nil
}
