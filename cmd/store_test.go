//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

// withConfig installs c as the global config for the duration of the test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "test.db")
	c.Server.Port = 8080
	return c
}

func TestInitStore_SQLite(t *testing.T) {
	withConfig(t, sqliteConfig(t))

	st, err := initStore(context.Background())
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := sqliteConfig(t)
	c.Store.Driver = "mysql"
	withConfig(t, c)

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestOpenStore_MigratesAndValidates(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	ctx := context.Background()

	st, err := openStore(ctx, "migrate")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	reports, err := st.ListReports(ctx, store.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, reports)

	cfg.Store.DatabaseURL = ""
	_, err = openStore(ctx, "migrate")
	assert.Error(t, err)
}

func TestPendingSittings(t *testing.T) {
	withConfig(t, sqliteConfig(t))
	ctx := context.Background()

	st, err := openStore(ctx, "migrate")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	for id, status := range map[string]model.SittingStatus{
		"42-1-001": model.SittingSuccess,
		"42-1-002": model.SittingPendingEscalation,
		"42-1-003": model.SittingDefectSkipped,
	} {
		require.NoError(t, st.RecordReport(ctx, model.SittingReport{SittingID: id, Status: status}))
	}

	ids, err := pendingSittings(ctx, st, []string{"42-1-001", "42-1-002", "42-1-003", "42-1-004"})
	require.NoError(t, err)
	assert.Equal(t, []string{"42-1-002", "42-1-004"}, ids)
}
