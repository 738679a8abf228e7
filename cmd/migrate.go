package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
