package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/fetcher"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/hansard"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resilience"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Corpus.Dir = filepath.Join("testdata", "corpus")
	cfg.Corpus.Primary = "EN"
	cfg.Batch.MaxConcurrentSittings = 2
	cfg.Batch.Retry = config.RetryConfig{MaxAttempts: 3, InitialBackoffMs: 1, MaxBackoffMs: 2}
	cfg.Resolve.Config = resolve.DefaultConfig()
	cfg.Escalation.Mode = config.EscalationQueue
	return cfg
}

func newTestStore(t *testing.T, entities ...model.Entity) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	if len(entities) > 0 {
		_, err = st.ImportEntities(ctx, entities)
		require.NoError(t, err)
	}
	return st
}

func newTestPipeline(t *testing.T, cfg *config.Config, st store.Store) *Pipeline {
	t.Helper()
	speakers, err := LoadSpeakers(context.Background(), cfg, st, resolve.NewQueueEscalator(st))
	require.NoError(t, err)
	return New(cfg, st, fetcher.DirSource{Dir: cfg.Corpus.Dir}, speakers)
}

func doe(id string) model.Entity {
	return model.Entity{ID: id, Kind: model.KindParliamentarian, Name: "DOE, John"}
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, doe("p-doe"))
	p := newTestPipeline(t, testConfig(), st)

	report, err := p.Run(ctx, "42-1-190")
	require.NoError(t, err)
	assert.Equal(t, model.SittingSuccess, report.Status)
	assert.Equal(t, 4, report.Blocks)
	assert.False(t, report.UpdatedAt.IsZero())

	blocks, err := st.ListBlocks(ctx, "42-1-190")
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.Equal(t, "p-doe", blocks[1].SpeakerID)
	assert.Equal(t, 2017, blocks[1].Timestamp.Year())
	assert.Equal(t, 11, blocks[1].Timestamp.Hour())

	aliases, err := st.LoadAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-doe", aliases["dbid:170"])

	reports, err := st.ListReports(ctx, store.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.SittingSuccess, reports[0].Status)
}

func TestRun_ReplacesEarlierBlocks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, doe("p-doe"))
	p := newTestPipeline(t, testConfig(), st)

	_, err := p.Run(ctx, "42-1-190")
	require.NoError(t, err)
	_, err = p.Run(ctx, "42-1-190")
	require.NoError(t, err)

	blocks, err := st.ListBlocks(ctx, "42-1-190")
	require.NoError(t, err)
	assert.Len(t, blocks, 4)
}

func TestRun_PendingEscalationThenReplay(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t, doe("p-doe1"), doe("p-doe2"))
	cfg := testConfig()

	report, err := newTestPipeline(t, cfg, st).Run(ctx, "42-1-190")
	require.NoError(t, err)
	assert.Equal(t, model.SittingPendingEscalation, report.Status)
	assert.Zero(t, report.Blocks)
	assert.False(t, report.Complete())

	blocks, err := st.ListBlocks(ctx, "42-1-190")
	require.NoError(t, err)
	assert.Empty(t, blocks, "nothing saved while suspended")

	pending, err := st.ListEscalations(ctx, store.EscalationFilter{Status: model.EscalationPending, SittingID: "42-1-190"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Candidates, 2)

	_, err = st.DecideEscalation(ctx, pending[0].ID, model.EscalationDecision{EntityID: "p-doe2"})
	require.NoError(t, err)

	// The sitting restarts from scratch and the decision replays by key.
	report, err = newTestPipeline(t, cfg, st).Run(ctx, "42-1-190")
	require.NoError(t, err)
	assert.Equal(t, model.SittingSuccess, report.Status)

	blocks, err = st.ListBlocks(ctx, "42-1-190")
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.Equal(t, "p-doe2", blocks[1].SpeakerID)

	all, err := st.ListEscalations(ctx, store.EscalationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "replay does not queue a second escalation")
}

func TestRun_SchemaError(t *testing.T) {
	st := newTestStore(t)
	report, err := newTestPipeline(t, testConfig(), st).Run(context.Background(), "42-1-191")
	require.NoError(t, err)
	assert.Equal(t, model.SittingSchemaError, report.Status)
	assert.Contains(t, report.Detail, "Mystery")
}

func TestRun_KnownDefects(t *testing.T) {
	ctx := context.Background()

	t.Run("relaxed", func(t *testing.T) {
		st := newTestStore(t)
		cfg := testConfig()
		cfg.KnownDefects = []config.KnownDefect{{Sitting: "42-1-191", Mode: config.DefectRelaxed}}

		report, err := newTestPipeline(t, cfg, st).Run(ctx, "42-1-191")
		require.NoError(t, err)
		assert.Equal(t, model.SittingSuccess, report.Status)
		assert.Equal(t, 1, report.Blocks)
	})

	t.Run("skip", func(t *testing.T) {
		st := newTestStore(t)
		cfg := testConfig()
		cfg.KnownDefects = []config.KnownDefect{{Sitting: "42-1-191", Mode: config.DefectSkip, Reason: "truncated upstream"}}

		report, err := newTestPipeline(t, cfg, st).Run(ctx, "42-1-191")
		require.NoError(t, err)
		assert.Equal(t, model.SittingDefectSkipped, report.Status)
		assert.Equal(t, "truncated upstream", report.Detail)
		assert.True(t, report.Complete())

		blocks, err := st.ListBlocks(ctx, "42-1-191")
		require.NoError(t, err)
		assert.Empty(t, blocks)
	})
}

func TestRun_SecondaryMissing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	report, err := newTestPipeline(t, testConfig(), st).Run(ctx, "42-1-192")
	require.NoError(t, err)
	require.Equal(t, model.SittingSuccess, report.Status)

	blocks, err := st.ListBlocks(ctx, "42-1-192")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Content[model.FR])
	assert.Equal(t, 7, blocks[0].Timestamp.Day())
}

func TestRun_Failures(t *testing.T) {
	p := newTestPipeline(t, testConfig(), newTestStore(t))

	report, err := p.Run(context.Background(), "42-1-999")
	require.NoError(t, err)
	assert.Equal(t, model.SittingFailed, report.Status)
	assert.Contains(t, report.Detail, "not cached")

	report, err = p.Run(context.Background(), "not-a-sitting")
	require.NoError(t, err)
	assert.Equal(t, model.SittingFailed, report.Status)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(t, testConfig(), newTestStore(t)).Run(ctx, "42-1-190")
	assert.ErrorIs(t, err, context.Canceled)
}

// flakyStore fails SaveSitting as scripted before delegating.
type flakyStore struct {
	store.Store
	mock.Mock
}

func (f *flakyStore) SaveSitting(ctx context.Context, in store.SittingSave) error {
	if err := f.Called(in.SittingID).Error(0); err != nil {
		return err
	}
	return f.Store.SaveSitting(ctx, in)
}

func TestRun_RetriesTransientSave(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: newTestStore(t, doe("p-doe"))}
	st.On("SaveSitting", "42-1-190").Return(resilience.NewTransientError(errors.New("database is locked"), "save")).Once()
	st.On("SaveSitting", "42-1-190").Return(nil)

	report, err := newTestPipeline(t, testConfig(), st).Run(ctx, "42-1-190")
	require.NoError(t, err)
	assert.Equal(t, model.SittingSuccess, report.Status)
	st.AssertNumberOfCalls(t, "SaveSitting", 2)
}

func TestRun_SaveStillBusyAfterRetries(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t, doe("p-doe"))}
	st.On("SaveSitting", "42-1-190").Return(resilience.NewTransientError(errors.New("database is locked"), "save"))

	report, err := newTestPipeline(t, testConfig(), st).Run(context.Background(), "42-1-190")
	require.NoError(t, err)
	assert.Equal(t, model.SittingFailed, report.Status)
	assert.Contains(t, report.Detail, "save sitting 42-1-190 failed after 3 attempts")
	st.AssertNumberOfCalls(t, "SaveSitting", 3)
}

func TestRun_PermanentSaveFailure(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t, doe("p-doe"))}
	st.On("SaveSitting", "42-1-190").Return(errors.New("constraint failed"))

	report, err := newTestPipeline(t, testConfig(), st).Run(context.Background(), "42-1-190")
	require.NoError(t, err)
	assert.Equal(t, model.SittingFailed, report.Status)
	assert.Contains(t, report.Detail, "constraint failed")
	st.AssertNumberOfCalls(t, "SaveSitting", 1)
}

// choosingEscalator answers every escalation with the same entity.
type choosingEscalator struct {
	entityID string
	calls    int
}

func (e *choosingEscalator) Escalate(context.Context, resolve.Request) (resolve.Decision, error) {
	e.calls++
	return resolve.Decision{Action: resolve.ActionChoose, EntityID: e.entityID}, nil
}

func writeSitting(t *testing.T, dir, sittingID, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, sittingID), 0o755))
	doc := `<Hansard><ExtractedInformation><ExtractedItem Name="Date">Monday, June 5, 2017</ExtractedItem></ExtractedInformation>` +
		`<HansardBody>` + body + `</HansardBody></Hansard>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, sittingID, "EN.xml"), []byte(doc), 0o644))
}

func TestRun_FailedSittingLearnsNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	turn := `<Intervention><PersonSpeaking><Affiliation>Mr. Jon Dough</Affiliation></PersonSpeaking>` +
		`<Content><ParaText>Text</ParaText></Content></Intervention>`
	writeSitting(t, dir, "42-1-1", turn+`<Bogus/>`)
	writeSitting(t, dir, "42-1-2", turn)

	st := newTestStore(t, doe("p-doe"))
	cfg := testConfig()
	cfg.Corpus.Dir = dir
	esc := &choosingEscalator{entityID: "p-doe"}
	speakers, err := LoadSpeakers(ctx, cfg, st, esc)
	require.NoError(t, err)
	p := New(cfg, st, fetcher.DirSource{Dir: dir}, speakers)

	report, err := p.Run(ctx, "42-1-1")
	require.NoError(t, err)
	require.Equal(t, model.SittingSchemaError, report.Status)

	// The next sitting meeting the name learns it again and saves it.
	report, err = p.Run(ctx, "42-1-2")
	require.NoError(t, err)
	require.Equal(t, model.SittingSuccess, report.Status)
	assert.Equal(t, 2, esc.calls)

	entities, err := st.ListEntities(ctx, store.EntityFilter{})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.True(t, entities[0].HasName("Jon Dough"))

	aliases, err := st.LoadAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-doe", aliases[hansard.ParliamentNameKey(42, "Mr. Jon Dough")])

	// Once saved, the name is shared with every later sitting.
	report, err = p.Run(ctx, "42-1-2")
	require.NoError(t, err)
	assert.Equal(t, model.SittingSuccess, report.Status)
	assert.Equal(t, 2, esc.calls)
}
