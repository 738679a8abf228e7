package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/dispatch"
)

var (
	recoverOlderThan time.Duration
	recoverWait      time.Duration
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Re-dispatch submissions stuck in queued or processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		d, err := initDispatcher(env.Pipeline)
		if err != nil {
			return err
		}

		n, err := dispatch.Sweep(ctx, env.Store, d, time.Now().Add(-recoverOlderThan))
		if err != nil {
			_ = d.Close(ctx)
			return err
		}

		if d.local && n > 0 {
			zap.L().Info("waiting for recovered submissions", zap.Int("count", n))
		}
		wctx, cancel := context.WithTimeout(ctx, recoverWait)
		defer cancel()
		if err := d.Close(wctx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "re-dispatched %d submission(s)\n", n)
		return nil
	},
}

func init() {
	recoverCmd.Flags().DurationVar(&recoverOlderThan, "older-than", 10*time.Minute, "only submissions created at least this long ago")
	recoverCmd.Flags().DurationVar(&recoverWait, "wait", 30*time.Minute, "how long to wait for local runs to finish")
	rootCmd.AddCommand(recoverCmd)
}
