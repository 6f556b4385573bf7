package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

var parseCmd = &cobra.Command{
	Use:   "parse <sitting-id>...",
	Short: "Segment individual sittings",
	Long:  "Segments the named sittings one after another, replacing any blocks stored for them.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "parse")
		if err != nil {
			return err
		}
		defer env.Close()

		reports := make([]model.SittingReport, 0, len(args))
		for _, id := range args {
			report, err := env.Pipeline.Run(ctx, id)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}

		formatReports(os.Stdout, reports)
		for _, r := range reports {
			if !r.Complete() {
				return fmt.Errorf("%d of %d sittings incomplete", countIncomplete(reports), len(reports))
			}
		}
		return nil
	},
}

func countIncomplete(reports []model.SittingReport) int {
	n := 0
	for _, r := range reports {
		if !r.Complete() {
			n++
		}
	}
	return n
}

// formatReports writes sitting reports as an aligned table.
func formatReports(w io.Writer, reports []model.SittingReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SITTING\tSTATUS\tBLOCKS\tUPDATED\tDETAIL")
	for _, r := range reports {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.SittingID, r.Status, r.Blocks, updated, truncate(r.Detail, 80))
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
