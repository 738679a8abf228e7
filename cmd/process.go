package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <job_id>",
	Short: "Run one submission through the pipeline in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobID := args[0]

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Process(ctx, jobID); err != nil {
			return eris.Wrapf(err, "process %s", jobID)
		}

		sub, err := env.Store.GetSubmission(ctx, jobID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", sub.JobID, sub.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
