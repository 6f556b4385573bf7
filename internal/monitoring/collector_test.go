package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

var collectedAt = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	recent := collectedAt.Add(-time.Hour)
	old := collectedAt.Add(-72 * time.Hour)
	for _, r := range []model.SittingReport{
		{SittingID: "42-1-001", Status: model.SittingSuccess, Blocks: 100, UpdatedAt: recent},
		{SittingID: "42-1-002", Status: model.SittingSuccess, Blocks: 50, UpdatedAt: recent},
		{SittingID: "42-1-003", Status: model.SittingSchemaError, UpdatedAt: recent},
		{SittingID: "42-1-004", Status: model.SittingPendingEscalation, UpdatedAt: recent},
		{SittingID: "42-1-005", Status: model.SittingDefectSkipped, UpdatedAt: recent},
		{SittingID: "41-2-001", Status: model.SittingFailed, UpdatedAt: old},
	} {
		require.NoError(t, st.RecordReport(ctx, r))
	}
	for _, id := range []string{"esc-1", "esc-2"} {
		require.NoError(t, st.PutEscalation(ctx, &model.Escalation{
			ID:          id,
			Key:         "key-" + id,
			Kind:        model.KindParliamentarian,
			SearchNames: []string{"John Doe"},
			Status:      model.EscalationPending,
			CreatedAt:   recent,
		}))
	}
}

func newTestCollector(st store.Store) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return collectedAt }
	return c
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.SittingsTotal, "the 72h old report is outside the window")
	assert.Equal(t, 2, snap.SittingsSuccess)
	assert.Equal(t, 1, snap.SittingsSchemaError)
	assert.Equal(t, 1, snap.SittingsPending)
	assert.Equal(t, 1, snap.SittingsSkipped)
	assert.Equal(t, 0, snap.SittingsFailed)
	assert.Equal(t, 150, snap.Blocks)
	assert.InDelta(t, 0.2, snap.SittingsFailRate, 0.0001)
	assert.Equal(t, 2, snap.PendingEscalations)
	assert.Equal(t, collectedAt, snap.CollectedAt)
}

func TestCollector_CollectAllTime(t *testing.T) {
	st := newTestStore(t)
	seed(t, st)

	snap, err := newTestCollector(st).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.SittingsTotal)
	assert.Equal(t, 1, snap.SittingsFailed)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(newTestStore(t)).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.SittingsTotal)
	assert.Zero(t, snap.SittingsFailRate)
}

// brokenStore fails every report listing.
type brokenStore struct {
	store.Store
}

func (brokenStore) ListReports(context.Context, store.ReportFilter) ([]model.SittingReport, error) {
	return nil, errors.New("connection refused")
}

func TestCollector_StoreError(t *testing.T) {
	_, err := NewCollector(brokenStore{}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list reports")
}
