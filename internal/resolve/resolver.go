package resolve

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// Config tunes the matching tiers.
type Config struct {
	ExactThreshold   float64 `yaml:"exact_threshold" mapstructure:"exact_threshold"`
	PartialThreshold float64 `yaml:"partial_threshold" mapstructure:"partial_threshold"`
	MaxCandidates    int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// DefaultConfig returns the thresholds the resolver was tuned with.
func DefaultConfig() Config {
	return Config{
		ExactThreshold:   0.999,
		PartialThreshold: 0.5,
		MaxCandidates:    5,
		MaxRetries:       10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExactThreshold <= 0 {
		c.ExactThreshold = d.ExactThreshold
	}
	if c.PartialThreshold <= 0 {
		c.PartialThreshold = d.PartialThreshold
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Query describes one resolution request.
type Query struct {
	Kind       model.EntityKind
	Provenance string
	// Scope narrows override lookups (ridings and OpenParliament.ca names use
	// the province name).
	Scope string
	// Names are the search strings; the first is the raw primary name that
	// gets recorded as a variant on success.
	Names     []string
	SittingID string
	// Filter optionally restricts the candidate entities.
	Filter func(*model.Entity) bool
}

func (q Query) primary() string {
	if len(q.Names) == 0 {
		return ""
	}
	return q.Names[0]
}

// Result is a successful or skipped resolution.
type Result struct {
	Entity  *model.Entity
	Skipped bool
	// Learned is set when the primary name was recorded as a new variant.
	Learned *Variant
}

// Resolver matches names against a Pool.
type Resolver struct {
	pool      *Pool
	overrides *Overrides
	escalator Escalator
	cfg       Config
}

// NewResolver creates a resolver. A nil escalator makes every ambiguous or
// unmatched query fail with *UnresolvedError.
func NewResolver(pool *Pool, overrides *Overrides, escalator Escalator, cfg Config) *Resolver {
	return &Resolver{
		pool:      pool,
		overrides: overrides,
		escalator: escalator,
		cfg:       cfg.withDefaults(),
	}
}

// Pool returns the candidate pool the resolver matches against.
func (r *Resolver) Pool() *Pool { return r.pool }

// Match runs overrides, the exact pass and the fuzzy pass without escalating.
func (r *Resolver) Match(q Query) Outcome {
	names, skip := r.searchNames(q)
	if skip {
		return Outcome{Kind: OutcomeSkipped, SearchNames: names}
	}
	return r.match(q, names)
}

// Resolve matches q and escalates when automatic matching is inconclusive.
// Human decisions either pick an entity, supply a corrected search string
// (matching is retried), skip, or defer (*PendingError).
func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, error) {
	if len(q.Names) == 0 || strings.TrimSpace(q.primary()) == "" {
		return Result{}, eris.Errorf("resolve: empty %s query from %q", q.Kind, q.Provenance)
	}

	names, skip := r.searchNames(q)
	if skip {
		zap.L().Debug("resolve: skipped by override",
			zap.String("kind", string(q.Kind)),
			zap.String("name", q.primary()),
			zap.String("provenance", q.Provenance),
		)
		return Result{Skipped: true}, nil
	}

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		out := r.match(q, names)
		if out.Kind == OutcomeUnique {
			return r.confirm(q, out.Entity)
		}
		if r.escalator == nil {
			return Result{}, &UnresolvedError{Query: q, Outcome: out}
		}

		dec, err := r.escalator.Escalate(ctx, Request{
			Query:       q,
			SearchNames: names,
			Candidates:  out.Candidates,
		})
		if err != nil {
			return Result{}, eris.Wrapf(err, "resolve: escalate %s %q", q.Kind, q.primary())
		}

		switch dec.Action {
		case ActionChoose:
			e, ok := r.pool.Get(dec.EntityID)
			if !ok {
				return Result{}, eris.Errorf("resolve: escalation chose unknown entity %s", dec.EntityID)
			}
			return r.confirm(q, &e)
		case ActionRetry:
			if strings.TrimSpace(dec.CorrectedSearch) == "" {
				return Result{}, eris.New("resolve: escalation retry without search string")
			}
			names = []string{dec.CorrectedSearch}
		case ActionSkip:
			return Result{Skipped: true}, nil
		case ActionDefer:
			return Result{}, &PendingError{Escalation: dec.Escalation}
		default:
			return Result{}, eris.Errorf("resolve: unknown escalation action %d", dec.Action)
		}
	}
	return Result{}, eris.Errorf("resolve: %s %q still unresolved after %d corrections",
		q.Kind, q.primary(), r.cfg.MaxRetries)
}

// confirm reports the raw primary name as a variant to record under the
// query's provenance, so the next run resolves it on the exact pass. The pool
// only learns it through Learn, once the caller has persisted it.
func (r *Resolver) confirm(q Query, e *model.Entity) (Result, error) {
	res := Result{Entity: e}
	primary := q.primary()
	if primary == "" || e.HasName(primary) || q.Provenance == "" {
		return res, nil
	}
	v := model.NameVariant{Provenance: q.Provenance, Name: primary}
	res.Learned = &Variant{EntityID: e.ID, NameVariant: v}
	e.Variants = append(e.Variants, v)
	return res, nil
}

// Learn adds persisted variants to the pool. Variants already known are
// ignored.
func (r *Resolver) Learn(variants ...Variant) error {
	for _, v := range variants {
		if _, err := r.pool.AddVariant(v.EntityID, v.NameVariant); err != nil {
			return eris.Wrapf(err, "resolve: learn %q", v.Name)
		}
	}
	return nil
}

// searchNames applies the override table to the primary name.
func (r *Resolver) searchNames(q Query) ([]string, bool) {
	ov, ok := r.overrides.Lookup(q.Kind, q.Provenance, q.Scope, q.primary())
	if !ok {
		return q.Names, false
	}
	if ov.Skip {
		return nil, true
	}
	return ov.Search, false
}

func (r *Resolver) match(q Query, names []string) Outcome {
	norm := NormalizeFor(q.Kind)
	keys := make([]string, 0, len(names))
	for _, n := range names {
		if k := norm(n); k != "" {
			keys = append(keys, k)
		}
	}
	out := Outcome{SearchNames: names}
	if len(keys) == 0 {
		return out
	}

	// Exact pass over the normalized index.
	exact := make(map[string]struct{})
	for _, k := range keys {
		for _, id := range r.pool.ExactIDs(q.Kind, k) {
			if q.Filter != nil {
				if e, ok := r.pool.Get(id); !ok || !q.Filter(&e) {
					continue
				}
			}
			exact[id] = struct{}{}
		}
	}
	switch len(exact) {
	case 0:
	case 1:
		for id := range exact {
			e, _ := r.pool.Get(id)
			out.Kind = OutcomeUnique
			out.Entity = &e
		}
		return out
	default:
		ids := make([]string, 0, len(exact))
		for id := range exact {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			e, _ := r.pool.Get(id)
			out.Candidates = append(out.Candidates, model.Candidate{EntityID: id, Score: 1, Names: e.Names()})
		}
		out.Kind = OutcomeAmbiguous
		return out
	}

	// Fuzzy pass.
	ranked := r.rank(q, keys)
	matched := r.top(groupCandidates(ranked, func(m Match) bool { return m.Score >= r.cfg.ExactThreshold }))
	partial := r.top(groupCandidates(ranked, func(m Match) bool {
		return m.Score < r.cfg.ExactThreshold && m.Score >= r.cfg.PartialThreshold
	}))

	switch {
	case len(matched) == 1:
		e, _ := r.pool.Get(matched[0].EntityID)
		out.Kind = OutcomeUnique
		out.Entity = &e
	case len(matched) > 1:
		out.Kind = OutcomeAmbiguous
		out.Candidates = matched
	case len(partial) > 0:
		out.Kind = OutcomeAmbiguous
		out.Candidates = partial
	}
	return out
}

// rank scores every (search key, entity, name) triple and keeps those at or
// above the partial threshold, best first.
func (r *Resolver) rank(q Query, keys []string) []Match {
	norm := NormalizeFor(q.Kind)
	var all []Match
	for _, e := range r.pool.Entities(q.Kind) {
		if q.Filter != nil && !q.Filter(&e) {
			continue
		}
		for _, name := range e.Names() {
			nk := norm(name)
			for _, k := range keys {
				all = append(all, Match{Score: Similarity(k, nk), EntityID: e.ID, Name: name})
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].EntityID < all[j].EntityID
	})

	var kept []Match
	for _, m := range all {
		if m.Score < r.cfg.PartialThreshold {
			break
		}
		kept = append(kept, m)
	}
	return kept
}

// top keeps the best MaxCandidates entities.
func (r *Resolver) top(candidates []model.Candidate) []model.Candidate {
	if len(candidates) > r.cfg.MaxCandidates {
		return candidates[:r.cfg.MaxCandidates]
	}
	return candidates
}

// groupCandidates collapses matches to one candidate per entity, keeping the
// best score and every matched name, in rank order.
func groupCandidates(ranked []Match, keep func(Match) bool) []model.Candidate {
	var out []model.Candidate
	pos := make(map[string]int)
	for _, m := range ranked {
		if !keep(m) {
			continue
		}
		i, ok := pos[m.EntityID]
		if !ok {
			pos[m.EntityID] = len(out)
			out = append(out, model.Candidate{EntityID: m.EntityID, Score: m.Score, Names: []string{m.Name}})
			continue
		}
		if m.Score > out[i].Score {
			out[i].Score = m.Score
		}
		if !containsString(out[i].Names, m.Name) {
			out[i].Names = append(out[i].Names, m.Name)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var (
	ridingSuffixRe = regexp.MustCompile(` \(.*electoral district\)$`)
	titleRe        = regexp.MustCompile(`^(Mr\.|Ms\.|Mrs\.|The Honourable|The Right Honourable|Senator) `)
)

// ResolveProvince resolves a province or territory name.
func (r *Resolver) ResolveProvince(ctx context.Context, provenance, name string) (Result, error) {
	return r.Resolve(ctx, Query{Kind: model.KindProvince, Provenance: provenance, Names: []string{name}})
}

// ResolveParty resolves a political party name.
func (r *Resolver) ResolveParty(ctx context.Context, provenance, name string) (Result, error) {
	return r.Resolve(ctx, Query{Kind: model.KindParty, Provenance: provenance, Names: []string{name}})
}

// ResolveRiding resolves a riding name within a province. The province
// scopes both the override lookup and the candidate set.
func (r *Resolver) ResolveRiding(ctx context.Context, provenance string, province *model.Entity, name string) (Result, error) {
	q := Query{
		Kind:       model.KindRiding,
		Provenance: provenance,
		Names:      []string{ridingSuffixRe.ReplaceAllString(name, "")},
	}
	if province != nil {
		q.Scope = province.Name
		provinceID := province.ID
		q.Filter = func(e *model.Entity) bool { return e.ProvinceID == "" || e.ProvinceID == provinceID }
	}
	return r.Resolve(ctx, q)
}

// ResolveParliamentarian resolves a person's name. Titles are stripped, and
// every "Last, First" split of the name is searched as well, since canonical
// records are stored surname first.
func (r *Resolver) ResolveParliamentarian(ctx context.Context, provenance, scope, name string, filter func(*model.Entity) bool) (Result, error) {
	return r.Resolve(ctx, ParliamentarianQuery(provenance, scope, name, filter))
}

// ParliamentarianQuery builds the query ResolveParliamentarian runs.
func ParliamentarianQuery(provenance, scope, name string, filter func(*model.Entity) bool) Query {
	name = titleRe.ReplaceAllString(strings.TrimSpace(name), "")
	return Query{
		Kind:       model.KindParliamentarian,
		Provenance: provenance,
		Scope:      scope,
		Names:      append([]string{name}, SurnameFirst(name)...),
		Filter:     filter,
	}
}

// SurnameFirst returns every "Last, First" rendering of a "First Last" name,
// one per split point.
func SurnameFirst(name string) []string {
	fields := strings.Fields(name)
	var out []string
	for i := 1; i < len(fields); i++ {
		out = append(out, strings.Join(fields[i:], " ")+", "+strings.Join(fields[:i], " "))
	}
	return out
}
