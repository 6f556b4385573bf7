// Package monitoring watches sitting reports and the escalation queue and
// raises alerts when processing degrades.
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

// MetricsSnapshot holds a point-in-time view of processing health.
type MetricsSnapshot struct {
	// Sitting reports updated within the lookback window.
	SittingsTotal       int     `json:"sittings_total"`
	SittingsSuccess     int     `json:"sittings_success"`
	SittingsSkipped     int     `json:"sittings_skipped"`
	SittingsPending     int     `json:"sittings_pending"`
	SittingsSchemaError int     `json:"sittings_schema_error"`
	SittingsFailed      int     `json:"sittings_failed"`
	SittingsFailRate    float64 `json:"sittings_fail_rate"`
	Blocks              int     `json:"blocks"`

	// Escalations awaiting a human, regardless of age.
	PendingEscalations int `json:"pending_escalations"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of processing metrics over the given lookback
// window. A non-positive window covers every report.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	reports, err := c.store.ListReports(ctx, store.ReportFilter{Limit: math.MaxInt32})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list reports")
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	for _, r := range reports {
		if lookbackHours > 0 && r.UpdatedAt.Before(cutoff) {
			continue
		}
		snap.SittingsTotal++
		snap.Blocks += r.Blocks
		switch r.Status {
		case model.SittingSuccess:
			snap.SittingsSuccess++
		case model.SittingDefectSkipped:
			snap.SittingsSkipped++
		case model.SittingPendingEscalation:
			snap.SittingsPending++
		case model.SittingSchemaError:
			snap.SittingsSchemaError++
		case model.SittingFailed:
			snap.SittingsFailed++
		}
	}
	if snap.SittingsTotal > 0 {
		snap.SittingsFailRate = float64(snap.SittingsFailed+snap.SittingsSchemaError) / float64(snap.SittingsTotal)
	}

	pending, err := c.store.ListEscalations(ctx, store.EscalationFilter{
		Status: model.EscalationPending,
		Limit:  math.MaxInt32,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list escalations")
	}
	snap.PendingEscalations = len(pending)

	return snap, nil
}
