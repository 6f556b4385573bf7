package resolve

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

type memEscalationStore struct {
	mu    sync.Mutex
	byKey map[string]*model.Escalation
}

func newMemEscalationStore() *memEscalationStore {
	return &memEscalationStore{byKey: make(map[string]*model.Escalation)}
}

func (m *memEscalationStore) GetEscalationByKey(_ context.Context, key string) (*model.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *esc
	return &cp, nil
}

func (m *memEscalationStore) PutEscalation(_ context.Context, esc *model.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *esc
	m.byKey[esc.Key] = &cp
	return nil
}

func (m *memEscalationStore) decide(key string, status model.EscalationStatus, d model.EscalationDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[key].Status = status
	m.byKey[key].Decision = d
}

func testRequest() Request {
	return Request{
		Query: Query{
			Kind:       model.KindParliamentarian,
			Provenance: model.SourceHansardXML,
			Names:      []string{"John Doe", "Doe, John"},
			SittingID:  "42-1-001",
		},
		SearchNames: []string{"John Doe", "Doe, John"},
		Candidates: []model.Candidate{
			{EntityID: "p1", Score: 1, Names: []string{"DOE, John"}},
			{EntityID: "p2", Score: 1, Names: []string{"DOE, John"}},
		},
	}
}

func TestRequest_KeyStable(t *testing.T) {
	a := testRequest()
	b := testRequest()
	b.Query.SittingID = "42-1-002"
	b.Candidates = nil
	assert.Equal(t, a.Key(), b.Key(), "key ignores sitting and candidates")

	c := testRequest()
	c.Query.Provenance = model.SourceOpenParliament
	assert.NotEqual(t, a.Key(), c.Key())

	d := testRequest()
	d.SearchNames = []string{"JOHN   DOE", "Doe, John"}
	assert.Equal(t, a.Key(), d.Key(), "key uses normalized search names")
}

func TestPromptEscalator_ChooseByNumber(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptEscalator(strings.NewReader("2\n"), &out)

	d, err := p.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ActionChoose, d.Action)
	assert.Equal(t, "p2", d.EntityID)
	assert.Contains(t, out.String(), "DOE, John")
	assert.Contains(t, out.String(), "Match?")
}

func TestPromptEscalator_ChooseByID(t *testing.T) {
	p := NewPromptEscalator(strings.NewReader("p1\n"), &bytes.Buffer{})

	d, err := p.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ActionChoose, d.Action)
	assert.Equal(t, "p1", d.EntityID)
}

func TestPromptEscalator_Skip(t *testing.T) {
	p := NewPromptEscalator(strings.NewReader("SKIP\n"), &bytes.Buffer{})

	d, err := p.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, d.Action)
}

func TestPromptEscalator_OutOfRangeThenCorrection(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptEscalator(strings.NewReader("9\n\nJonathan Doe\n"), &out)

	d, err := p.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, "Jonathan Doe", d.CorrectedSearch)
	assert.Contains(t, out.String(), "wasn't one of the options")
}

func TestPromptEscalator_LastLineWithoutNewline(t *testing.T) {
	p := NewPromptEscalator(strings.NewReader("1"), &bytes.Buffer{})

	d, err := p.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "p1", d.EntityID)
}

func TestPromptEscalator_ClosedInput(t *testing.T) {
	p := NewPromptEscalator(strings.NewReader(""), &bytes.Buffer{})

	_, err := p.Escalate(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestPromptEscalator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPromptEscalator(strings.NewReader("1\n"), &bytes.Buffer{})

	_, err := p.Escalate(ctx, testRequest())
	assert.Error(t, err)
}

func TestQueueEscalator_QueuesOnce(t *testing.T) {
	store := newMemEscalationStore()
	q := NewQueueEscalator(store)
	q.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	first, err := q.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ActionDefer, first.Action)
	require.NotNil(t, first.Escalation)
	assert.Equal(t, model.EscalationPending, first.Escalation.Status)
	assert.Equal(t, "42-1-001", first.Escalation.SittingID)
	assert.Len(t, first.Escalation.Candidates, 2)
	assert.Equal(t, 2024, first.Escalation.CreatedAt.Year())

	second, err := q.Escalate(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, ActionDefer, second.Action)
	assert.Equal(t, first.Escalation.ID, second.Escalation.ID)
	assert.Len(t, store.byKey, 1)
}

func TestQueueEscalator_ReplaysDecisions(t *testing.T) {
	req := testRequest()
	cases := []struct {
		name     string
		status   model.EscalationStatus
		decision model.EscalationDecision
		action   Action
	}{
		{"choose", model.EscalationDecided, model.EscalationDecision{EntityID: "p1"}, ActionChoose},
		{"retry", model.EscalationDecided, model.EscalationDecision{CorrectedSearch: "Jon Doe"}, ActionRetry},
		{"skip", model.EscalationSkipped, model.EscalationDecision{}, ActionSkip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemEscalationStore()
			q := NewQueueEscalator(store)
			_, err := q.Escalate(context.Background(), req)
			require.NoError(t, err)

			store.decide(req.Key(), tc.status, tc.decision)

			d, err := q.Escalate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tc.action, d.Action)
			assert.Equal(t, tc.decision.EntityID, d.EntityID)
			assert.Equal(t, tc.decision.CorrectedSearch, d.CorrectedSearch)
		})
	}
}

func TestQueueEscalator_ResolverRoundTrip(t *testing.T) {
	store := newMemEscalationStore()
	r := newTestResolver(t, NewQueueEscalator(store),
		model.Entity{ID: "p1", Kind: model.KindParliamentarian, Name: "DOE, John"},
		model.Entity{ID: "p2", Kind: model.KindParliamentarian, Name: "DOE, John"},
	)

	_, err := r.ResolveParliamentarian(context.Background(), model.SourceHansardXML, "", "Mr. John Doe", nil)
	var pe *PendingError
	require.ErrorAs(t, err, &pe)

	store.decide(pe.Escalation.Key, model.EscalationDecided, model.EscalationDecision{EntityID: "p1"})

	res, err := r.ResolveParliamentarian(context.Background(), model.SourceHansardXML, "", "Mr. John Doe", nil)
	require.NoError(t, err)
	assert.Equal(t, "p1", res.Entity.ID)
}
