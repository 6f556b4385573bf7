package resolve

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// Action is what a human decided for an escalation.
type Action int

const (
	// ActionChoose picks one entity.
	ActionChoose Action = iota
	// ActionRetry supplies a corrected search string to match again.
	ActionRetry
	// ActionSkip marks the name as having no canonical entity.
	ActionSkip
	// ActionDefer suspends the current unit of work until a decision exists.
	ActionDefer
)

// Request is what a human is shown when automatic matching is inconclusive.
type Request struct {
	Query       Query
	SearchNames []string
	Candidates  []model.Candidate
}

// Key identifies a request independently of when or where it was raised, so
// a recorded decision can be replayed on a later run.
func (r Request) Key() string {
	norm := NormalizeFor(r.Query.Kind)
	names := make([]string, 0, len(r.SearchNames))
	for _, n := range r.SearchNames {
		names = append(names, norm(n))
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s",
		r.Query.Kind, r.Query.Provenance, r.Query.Scope, r.Query.primary(), strings.Join(names, "\x1f"))
	return hex.EncodeToString(h.Sum(nil))
}

// Decision is an escalation answer.
type Decision struct {
	Action          Action
	EntityID        string
	CorrectedSearch string
	// Escalation is the stored record for deferred decisions.
	Escalation *model.Escalation
}

// Escalator is the synchronous human-decision boundary.
type Escalator interface {
	Escalate(ctx context.Context, req Request) (Decision, error)
}

// PromptEscalator asks on a text channel (normally the terminal). Prompts
// from concurrent workers are serialized.
type PromptEscalator struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptEscalator creates an escalator reading answers from in.
func NewPromptEscalator(in io.Reader, out io.Writer) *PromptEscalator {
	return &PromptEscalator{in: bufio.NewReader(in), out: out}
}

// Escalate prints the candidates and reads one answer: a candidate number or
// entity id chooses, "skip" skips, anything else is a corrected search string.
func (p *PromptEscalator) Escalate(ctx context.Context, req Request) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return Decision{}, eris.Wrap(err, "prompt: context cancelled")
		}

		fmt.Fprintf(p.out, "\n%s [%s] %s", req.Query.Provenance, req.Query.Kind, strings.Join(req.SearchNames, " | "))
		if req.Query.Scope != "" {
			fmt.Fprintf(p.out, " (%s)", req.Query.Scope)
		}
		fmt.Fprintln(p.out)
		for i, c := range req.Candidates {
			fmt.Fprintf(p.out, "\t%3d: %-12s %.3f %v\n", i+1, c.EntityID, c.Score, c.Names)
		}
		fmt.Fprint(p.out, "\tMatch? ")

		line, err := p.in.ReadString('\n')
		answer := strings.TrimSpace(line)
		if err != nil && answer == "" {
			if err == io.EOF {
				return Decision{}, eris.New("prompt: input closed")
			}
			return Decision{}, eris.Wrap(err, "prompt: read answer")
		}

		switch {
		case answer == "":
			continue
		case strings.EqualFold(answer, "skip"):
			return Decision{Action: ActionSkip}, nil
		}
		if n, convErr := strconv.Atoi(answer); convErr == nil {
			if n >= 1 && n <= len(req.Candidates) {
				return Decision{Action: ActionChoose, EntityID: req.Candidates[n-1].EntityID}, nil
			}
			fmt.Fprintln(p.out, "That wasn't one of the options.")
			continue
		}
		for _, c := range req.Candidates {
			if c.EntityID == answer {
				return Decision{Action: ActionChoose, EntityID: c.EntityID}, nil
			}
		}
		return Decision{Action: ActionRetry, CorrectedSearch: answer}, nil
	}
}

// EscalationStore persists escalations for QueueEscalator.
type EscalationStore interface {
	GetEscalationByKey(ctx context.Context, key string) (*model.Escalation, error)
	PutEscalation(ctx context.Context, esc *model.Escalation) error
}

// QueueEscalator records escalations for later human review and replays
// decisions already made for the same request.
type QueueEscalator struct {
	store EscalationStore
	now   func() time.Time
}

// NewQueueEscalator creates a store-backed escalator.
func NewQueueEscalator(store EscalationStore) *QueueEscalator {
	return &QueueEscalator{store: store, now: time.Now}
}

// Escalate returns the recorded decision for req, or stores a pending
// escalation and defers.
func (q *QueueEscalator) Escalate(ctx context.Context, req Request) (Decision, error) {
	key := req.Key()
	existing, err := q.store.GetEscalationByKey(ctx, key)
	if err != nil {
		return Decision{}, eris.Wrap(err, "queue: lookup escalation")
	}

	if existing != nil {
		switch existing.Status {
		case model.EscalationDecided:
			if existing.Decision.EntityID != "" {
				return Decision{Action: ActionChoose, EntityID: existing.Decision.EntityID, Escalation: existing}, nil
			}
			return Decision{Action: ActionRetry, CorrectedSearch: existing.Decision.CorrectedSearch, Escalation: existing}, nil
		case model.EscalationSkipped:
			return Decision{Action: ActionSkip, Escalation: existing}, nil
		default:
			return Decision{Action: ActionDefer, Escalation: existing}, nil
		}
	}

	esc := &model.Escalation{
		ID:          uuid.New().String(),
		Key:         key,
		SittingID:   req.Query.SittingID,
		Kind:        req.Query.Kind,
		Provenance:  req.Query.Provenance,
		Scope:       req.Query.Scope,
		SearchNames: append([]string(nil), req.SearchNames...),
		Candidates:  append([]model.Candidate(nil), req.Candidates...),
		Status:      model.EscalationPending,
		CreatedAt:   q.now().UTC(),
	}
	if err := q.store.PutEscalation(ctx, esc); err != nil {
		return Decision{}, eris.Wrap(err, "queue: store escalation")
	}
	zap.L().Info("escalation queued",
		zap.String("id", esc.ID),
		zap.String("kind", string(esc.Kind)),
		zap.Strings("search", esc.SearchNames),
		zap.Int("candidates", len(esc.Candidates)),
		zap.String("sitting", esc.SittingID),
	)
	return Decision{Action: ActionDefer, Escalation: esc}, nil
}
