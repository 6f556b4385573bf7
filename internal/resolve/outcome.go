package resolve

import (
	"fmt"
	"strings"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// OutcomeKind enumerates the terminal results of automatic matching.
type OutcomeKind int

const (
	// OutcomeNoMatch means no candidate reached the partial tier.
	OutcomeNoMatch OutcomeKind = iota
	// OutcomeUnique means exactly one entity matched with full confidence.
	OutcomeUnique
	// OutcomeAmbiguous means candidates exist but none is uniquely confident.
	OutcomeAmbiguous
	// OutcomeSkipped means an override marks the name as having no canonical entity.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnique:
		return "unique"
	case OutcomeAmbiguous:
		return "ambiguous"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "no_match"
	}
}

// Match is one scored (search string, entity, variant) triple.
type Match struct {
	Score    float64 `json:"score"`
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
}

// Outcome is the result of automatic matching for one query.
type Outcome struct {
	Kind       OutcomeKind
	Entity     *model.Entity
	Candidates []model.Candidate
	// SearchNames are the strings actually matched, after overrides.
	SearchNames []string
}

// PendingError reports that resolution is suspended until a human decides
// the stored escalation. It is an expected outcome, not a failure.
type PendingError struct {
	Escalation *model.Escalation
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("resolve: escalation %s pending for %s %q",
		e.Escalation.ID, e.Escalation.Kind, strings.Join(e.Escalation.SearchNames, " | "))
}

// UnresolvedError reports a query that could not be matched and had no
// escalation channel to fall back on.
type UnresolvedError struct {
	Query   Query
	Outcome Outcome
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("resolve: %s %q from %q: %s with %d candidates",
		e.Query.Kind, strings.Join(e.Query.Names, " | "), e.Query.Provenance,
		e.Outcome.Kind, len(e.Outcome.Candidates))
}
