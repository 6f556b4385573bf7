package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// BatchResult summarizes a batch run.
type BatchResult struct {
	Reports []model.SittingReport
	Counts  map[model.SittingStatus]int
}

// Incomplete lists the sittings whose data cannot be considered final.
func (b *BatchResult) Incomplete() []string {
	var ids []string
	for _, r := range b.Reports {
		if !r.Complete() {
			ids = append(ids, r.SittingID)
		}
	}
	return ids
}

// Batch runs every sitting with at most limit in flight. A sitting that fails
// or waits on an escalation does not stop the others; cancellation and report
// write failures do.
func (p *Pipeline) Batch(ctx context.Context, sittingIDs []string, limit int) (*BatchResult, error) {
	if limit < 1 {
		limit = 1
	}
	log := zap.L().With(zap.Int("sittings", len(sittingIDs)), zap.Int("concurrency", limit))
	log.Info("pipeline: batch starting")

	var (
		mu      sync.Mutex
		reports = make([]model.SittingReport, 0, len(sittingIDs))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range sittingIDs {
		g.Go(func() error {
			report, err := p.Run(gCtx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].SittingID < reports[j].SittingID })
	result := &BatchResult{Reports: reports, Counts: make(map[model.SittingStatus]int)}
	for _, r := range reports {
		result.Counts[r.Status]++
	}
	if err != nil {
		return result, eris.Wrap(err, "pipeline: batch")
	}

	log.Info("pipeline: batch complete",
		zap.Int("success", result.Counts[model.SittingSuccess]),
		zap.Int("pending_escalation", result.Counts[model.SittingPendingEscalation]),
		zap.Int("schema_error", result.Counts[model.SittingSchemaError]),
		zap.Int("known_defect_skipped", result.Counts[model.SittingDefectSkipped]),
		zap.Int("failed", result.Counts[model.SittingFailed]),
	)
	return result, nil
}
