package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

var (
	batchLimit       int
	batchConcurrency int
	batchResume      bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Segment every cached sitting",
	Long:  "Runs every sitting in the corpus through the pipeline concurrently. With --resume, sittings whose last report is complete are left alone.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := env.Source.Sittings(ctx)
		if err != nil {
			return eris.Wrap(err, "list sittings")
		}
		if batchResume {
			if ids, err = pendingSittings(ctx, env.Store, ids); err != nil {
				return err
			}
		}
		if batchLimit > 0 && len(ids) > batchLimit {
			ids = ids[:batchLimit]
		}

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Batch.MaxConcurrentSittings
		}

		result, err := env.Pipeline.Batch(ctx, ids, concurrency)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "%d sittings: %d success, %d pending escalation, %d schema error, %d skipped, %d failed\n",
			len(result.Reports),
			result.Counts[model.SittingSuccess],
			result.Counts[model.SittingPendingEscalation],
			result.Counts[model.SittingSchemaError],
			result.Counts[model.SittingDefectSkipped],
			result.Counts[model.SittingFailed],
		)
		if incomplete := result.Incomplete(); len(incomplete) > 0 {
			zap.L().Warn("batch: sittings incomplete", zap.Strings("sittings", incomplete))
		}
		return nil
	},
}

// pendingSittings drops the sittings whose last report is complete.
func pendingSittings(ctx context.Context, st store.Store, ids []string) ([]string, error) {
	reports, err := st.ListReports(ctx, store.ReportFilter{Limit: math.MaxInt32})
	if err != nil {
		return nil, eris.Wrap(err, "list reports")
	}
	done := make(map[string]bool, len(reports))
	for _, r := range reports {
		done[r.SittingID] = r.Complete()
	}
	out := ids[:0:0]
	for _, id := range ids {
		if !done[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of sittings to process (0 for all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "sittings in flight (default from config)")
	batchCmd.Flags().BoolVar(&batchResume, "resume", false, "skip sittings whose last report is complete")
	rootCmd.AddCommand(batchCmd)
}
