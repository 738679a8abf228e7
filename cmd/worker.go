package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/dispatch"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker that processes submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dispatch.Dial(cfg.Temporal.HostPort, cfg.Temporal.Namespace)
		if err != nil {
			return err
		}
		defer c.Close()

		w := dispatch.NewWorker(c, cfg.Temporal.TaskQueue, env.Pipeline, cfg.Pipeline.MaxInFlight)
		if err := w.Start(); err != nil {
			return eris.Wrap(err, "start temporal worker")
		}
		zap.L().Info("temporal worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.Int("max_in_flight", cfg.Pipeline.MaxInFlight),
		)

		<-ctx.Done()
		zap.L().Info("stopping temporal worker")
		w.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
