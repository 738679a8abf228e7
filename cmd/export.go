package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/opsprofile/internal/export"
	"github.com/sells-group/opsprofile/internal/model"
)

var (
	exportOut      string
	exportStatuses string
	exportFeedback int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write submissions and feedback to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		statuses, err := parseStatuses(exportStatuses)
		if err != nil {
			return err
		}

		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := export.WriteFile(cmd.Context(), st, exportOut, export.Options{
			Statuses:      statuses,
			FeedbackLimit: exportFeedback,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d submission(s) and %d feedback row(s) to %s\n",
			sum.Submissions, sum.Feedback, exportOut)
		return nil
	},
}

// parseStatuses reads a comma-separated status list. Empty means all.
func parseStatuses(raw string) ([]model.Status, error) {
	var out []model.Status
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		s, err := model.ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "opsprofile-export.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportStatuses, "status", "", "comma-separated statuses to include (default all)")
	exportCmd.Flags().IntVar(&exportFeedback, "feedback-limit", 1000, "maximum feedback rows")
	rootCmd.AddCommand(exportCmd)
}
