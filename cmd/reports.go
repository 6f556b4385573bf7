package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Show the last processing outcome of each sitting",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "review")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		reports, err := st.ListReports(ctx, store.ReportFilter{
			Status: model.SittingStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "reports")
		}
		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}

		formatReports(os.Stdout, reports)
		return nil
	},
}

func init() {
	reportsCmd.Flags().String("status", "", "filter by status (success, schema_error, pending_escalation, known_defect_skipped, failed)")
	reportsCmd.Flags().Int("limit", 100, "max rows to show")
	rootCmd.AddCommand(reportsCmd)
}
