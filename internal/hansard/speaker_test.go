package hansard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
)

type recordingEscalator struct {
	decision resolve.Decision
	requests []resolve.Request
}

func (r *recordingEscalator) Escalate(_ context.Context, req resolve.Request) (resolve.Decision, error) {
	r.requests = append(r.requests, req)
	return r.decision, nil
}

func newTestSpeakers(t *testing.T, esc resolve.Escalator, entities ...model.Entity) *SpeakerResolver {
	t.Helper()
	overrides, err := resolve.DefaultOverrides()
	require.NoError(t, err)
	table, err := DefaultSpeakerTable()
	require.NoError(t, err)
	pool := resolve.NewPool(entities...)
	cache := NewAliasCache()
	cache.Seed(pool.Entities(model.KindParliamentarian))
	return NewSpeakerResolver(cache, table, resolve.NewResolver(pool, overrides, esc, resolve.DefaultConfig()))
}

func affiliation(t *testing.T, xml string) *Node {
	t.Helper()
	return parse(t, xml)
}

func speakerQuery(aff *Node) SpeakerQuery {
	s, _ := model.ParseSittingID("42-1-190")
	return SpeakerQuery{Affiliation: aff, Lang: model.EN, Provenance: model.SourceHansardXML, Sitting: s}
}

func TestBareName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Mr. John Doe", "John Doe"},
		{"Mr. John Doe (Westmount, Lib.):", "John Doe"},
		{"Hon. Jane Roe (Minister of Health, Lib.)", "Jane Roe"},
		{"Right Hon. Justin Trudeau", "Justin Trudeau"},
		{"The Acting Speaker (Mr. Bruce Stanton)", "Bruce Stanton"},
		{"The Assistant Deputy Speaker (Mrs. Carol Hughes)", "Carol Hughes"},
		{"Le président suppléant (M. Bruce Stanton)", "Bruce Stanton"},
		{"Mme Jane Roe", "Jane Roe"},
		{"Some hon. members", "Some hon. members"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BareName(tc.in), tc.in)
	}
}

func TestParseAttribution(t *testing.T) {
	a := ParseAttribution(" Mr. John Doe (Westmount, Lib.): ")
	assert.Equal(t, "Mr. John Doe (Westmount, Lib.)", a.Display)
	assert.Equal(t, "Mr. John Doe", a.Name)
	assert.Equal(t, "Westmount", a.Riding)
	assert.Equal(t, "Lib.", a.Party)

	a = ParseAttribution("The Acting Speaker (Mr. Bruce Stanton)")
	assert.Equal(t, a.Display, a.Name)
	assert.Empty(t, a.Riding)
}

func TestSpeakerResolver_HonorificAlias(t *testing.T) {
	esc := &recordingEscalator{}
	r := newTestSpeakers(t, esc, model.Entity{ID: "p-doe", Kind: model.KindParliamentarian, Name: "DOE, John"})

	res, err := r.Resolve(context.Background(), speakerQuery(affiliation(t, `<Affiliation DbId="170">Mr. John Doe</Affiliation>`)))
	require.NoError(t, err)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "p-doe", res.Entity.ID)
	assert.Empty(t, esc.requests)
	assert.Equal(t, "Mr. John Doe", res.Names[model.EN])

	assert.Equal(t, "p-doe", res.Aliases[DBIDKey("170")])
	assert.Equal(t, "p-doe", res.Aliases[NameKey("Mr. John Doe")])
}

func TestSpeakerResolver_EscalatesWithoutAlias(t *testing.T) {
	esc := &recordingEscalator{decision: resolve.Decision{Action: resolve.ActionChoose, EntityID: "p2"}}
	r := newTestSpeakers(t, esc,
		model.Entity{ID: "p1", Kind: model.KindParliamentarian, Name: "DOE, John"},
		model.Entity{ID: "p2", Kind: model.KindParliamentarian, Name: "DOE, John"},
	)

	res, err := r.Resolve(context.Background(), speakerQuery(affiliation(t, `<Affiliation>Mr. John Doe</Affiliation>`)))
	require.NoError(t, err)
	require.Len(t, esc.requests, 1)
	assert.Len(t, esc.requests[0].Candidates, 2)
	assert.Equal(t, "p2", res.Entity.ID)

	require.Len(t, res.Learned, 1)
	assert.Equal(t, "John Doe", res.Learned[0].Name)
	assert.Equal(t, model.SourceHansardXML, res.Learned[0].Provenance)
}

func TestSpeakerResolver_Idempotent(t *testing.T) {
	esc := &recordingEscalator{decision: resolve.Decision{Action: resolve.ActionChoose, EntityID: "p1"}}
	r := newTestSpeakers(t, esc,
		model.Entity{ID: "p1", Kind: model.KindParliamentarian, Name: "DOE, John"},
		model.Entity{ID: "p2", Kind: model.KindParliamentarian, Name: "DOE, John"},
	)
	q := speakerQuery(affiliation(t, `<Affiliation DbId="9">Mr. John Doe (Westmount, Lib.)</Affiliation>`))

	first, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	require.NoError(t, r.Commit(first.Aliases, first.Learned))
	second, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, first.Entity.ID, second.Entity.ID)
	assert.Len(t, esc.requests, 1, "second resolution served from the alias cache")
	assert.Empty(t, second.Aliases)
	assert.Empty(t, second.Learned)
}

func TestSpeakerResolver_StagedUntilCommit(t *testing.T) {
	esc := &recordingEscalator{decision: resolve.Decision{Action: resolve.ActionChoose, EntityID: "p-doe"}}
	r := newTestSpeakers(t, esc, model.Entity{ID: "p-doe", Kind: model.KindParliamentarian, Name: "DOE, John"})
	q := speakerQuery(affiliation(t, `<Affiliation>Mr. Jon Dough</Affiliation>`))

	first, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "p-doe", first.Entity.ID)
	require.Len(t, first.Learned, 1)
	require.NotEmpty(t, first.Aliases)

	// Nothing is shared yet.
	_, ok := r.Cache().Get(NameKey("Mr. Jon Dough"))
	assert.False(t, ok)
	e, _ := r.resolver.Pool().Get("p-doe")
	assert.False(t, e.HasName("Jon Dough"))

	// The same sitting answers from its staged aliases.
	staged := q
	staged.Staged = first.Aliases
	again, err := r.Resolve(context.Background(), staged)
	require.NoError(t, err)
	assert.Equal(t, "p-doe", again.Entity.ID)
	assert.Len(t, esc.requests, 1)

	// A sitting that never commits leaves the names for the next one to report.
	other, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first.Learned, other.Learned)
	assert.Equal(t, first.Aliases, other.Aliases)

	require.NoError(t, r.Commit(other.Aliases, other.Learned))
	id, ok := r.Cache().Get(NameKey("Mr. Jon Dough"))
	assert.True(t, ok)
	assert.Equal(t, "p-doe", id)
	e, _ = r.resolver.Pool().Get("p-doe")
	assert.True(t, e.HasName("Jon Dough"))
}

func TestSpeakerResolver_Unmappable(t *testing.T) {
	r := newTestSpeakers(t, nil)

	for _, name := range []string{"Some hon. members", "The Speaker", "Des voix"} {
		res, err := r.Resolve(context.Background(), speakerQuery(affiliation(t, `<Affiliation>`+name+`</Affiliation>`)))
		require.NoError(t, err, name)
		assert.Nil(t, res.Entity, name)
		assert.Equal(t, name, res.Names[model.EN])
	}
}

func TestSpeakerResolver_Curated(t *testing.T) {
	r := newTestSpeakers(t, nil,
		model.Entity{ID: "harper", Kind: model.KindParliamentarian, Name: "HARPER, Stephen Joseph"},
	)

	res, err := r.Resolve(context.Background(), speakerQuery(affiliation(t,
		`<Affiliation>Right Hon. Stephen Harper (Calgary Southwest, CPC)</Affiliation>`)))
	require.NoError(t, err)
	require.NotNil(t, res.Entity)
	assert.Equal(t, "harper", res.Entity.ID)
}

func TestSpeakerResolver_CuratedByRiding(t *testing.T) {
	r := newTestSpeakers(t, nil,
		model.Entity{ID: "chretien", Kind: model.KindParliamentarian, Name: "CHRÉTIEN, Joseph Jacques Jean"},
	)

	res, err := r.Resolve(context.Background(), speakerQuery(affiliation(t,
		`<Affiliation>Right Hon. Jean Chrétien (Saint-Maurice, Lib.)</Affiliation>`)))
	require.NoError(t, err)
	assert.Equal(t, "chretien", res.Entity.ID)

	_, err = r.Resolve(context.Background(), speakerQuery(affiliation(t,
		`<Affiliation>Right Hon. Jean Chrétien (Elsewhere, Lib.)</Affiliation>`)))
	var ue *UnresolvedSpeakerError
	assert.ErrorAs(t, err, &ue)
}

func TestSpeakerResolver_Unresolved(t *testing.T) {
	r := newTestSpeakers(t, nil)

	_, err := r.Resolve(context.Background(), speakerQuery(affiliation(t, `<Affiliation>Mr. Nobody Known</Affiliation>`)))
	var ue *UnresolvedSpeakerError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "42-1-190", ue.SittingID)
	assert.Equal(t, "Mr. Nobody Known", ue.Name)
	assert.Equal(t, "/Affiliation", ue.Path)
}

func TestSpeakerResolver_Pending(t *testing.T) {
	pending := &model.Escalation{ID: "e1", Kind: model.KindParliamentarian, SearchNames: []string{"Jane Roe"}}
	esc := &recordingEscalator{decision: resolve.Decision{Action: resolve.ActionDefer, Escalation: pending}}
	r := newTestSpeakers(t, esc)

	_, err := r.Resolve(context.Background(), speakerQuery(affiliation(t, `<Affiliation>Ms. Jane Roe</Affiliation>`)))
	var pe *resolve.PendingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "e1", pe.Escalation.ID)
}

func TestSpeakerResolver_ActiveDuringSitting(t *testing.T) {
	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestSpeakers(t, nil,
		model.Entity{ID: "old", Kind: model.KindParliamentarian, Name: "ROE, Jane", ActiveFrom: &from, ActiveTo: &to},
		model.Entity{ID: "new", Kind: model.KindParliamentarian, Name: "ROE, Jane", ActiveFrom: &later},
	)

	q := speakerQuery(affiliation(t, `<Affiliation>Ms. Jane Roe</Affiliation>`))
	q.Sitting.Date = time.Date(2017, 6, 5, 0, 0, 0, 0, time.UTC)
	res, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "new", res.Entity.ID)
}

func TestSpeakerResolver_SharedNameStaysPerEra(t *testing.T) {
	from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2004, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestSpeakers(t, nil,
		model.Entity{ID: "old", Kind: model.KindParliamentarian, Name: "ROE, Jane", ActiveFrom: &from, ActiveTo: &to},
		model.Entity{ID: "new", Kind: model.KindParliamentarian, Name: "ROE, Jane", ActiveFrom: &later},
	)
	resolveIn := func(sittingID string, date time.Time) SpeakerResult {
		t.Helper()
		q := speakerQuery(affiliation(t, `<Affiliation>Ms. Jane Roe</Affiliation>`))
		s, err := model.ParseSittingID(sittingID)
		require.NoError(t, err)
		s.Date = date
		q.Sitting = s
		res, err := r.Resolve(context.Background(), q)
		require.NoError(t, err)
		require.NoError(t, r.Commit(res.Aliases, res.Learned))
		return res
	}

	first := resolveIn("37-1-10", time.Date(2002, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "old", first.Entity.ID)
	assert.NotContains(t, first.Aliases, NameKey("Jane Roe"))
	assert.Equal(t, "old", first.Aliases[ParliamentNameKey(37, "Jane Roe")])
	assert.True(t, r.Cache().Poisoned(NameKey("Jane Roe")))

	assert.Equal(t, "new", resolveIn("42-1-190", time.Date(2017, 6, 5, 0, 0, 0, 0, time.UTC)).Entity.ID)
	assert.Equal(t, "old", resolveIn("37-1-11", time.Date(2002, 3, 2, 0, 0, 0, 0, time.UTC)).Entity.ID)
}

func TestSpeakerResolver_SecondaryName(t *testing.T) {
	r := newTestSpeakers(t, nil)
	q := speakerQuery(affiliation(t, `<Affiliation>Some hon. members</Affiliation>`))
	q.Secondary = affiliation(t, `<Affiliation>Des voix</Affiliation>`)

	res, err := r.Resolve(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "Des voix", res.Names[model.FR])
}
