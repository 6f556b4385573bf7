package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EscalationStatus tracks an escalation through its human decision.
type EscalationStatus string

const (
	EscalationPending EscalationStatus = "pending"
	EscalationDecided EscalationStatus = "decided"
	EscalationSkipped EscalationStatus = "skipped"
)

// Candidate is one ranked option offered to a human for an escalation.
type Candidate struct {
	EntityID string   `json:"entity_id"`
	Score    float64  `json:"score"`
	Names    []string `json:"names"`
}

// EscalationDecision is the recorded human answer. Exactly one of EntityID or
// CorrectedSearch is set for decided escalations; neither for skipped ones.
type EscalationDecision struct {
	EntityID        string `json:"entity_id,omitempty"`
	CorrectedSearch string `json:"corrected_search,omitempty"`
}

// Escalation is a resolution suspended pending a human decision.
type Escalation struct {
	ID          string             `json:"id"`
	Key         string             `json:"key"`
	SittingID   string             `json:"sitting_id,omitempty"`
	Kind        EntityKind         `json:"kind"`
	Provenance  string             `json:"provenance"`
	Scope       string             `json:"scope,omitempty"`
	SearchNames []string           `json:"search_names"`
	Candidates  []Candidate        `json:"candidates"`
	Status      EscalationStatus   `json:"status"`
	Decision    EscalationDecision `json:"decision"`
	CreatedAt   time.Time          `json:"created_at"`
	DecidedAt   *time.Time         `json:"decided_at,omitempty"`
}

// Status returns the escalation status this decision resolves to: skipped
// when empty, decided when exactly one answer is given.
func (d EscalationDecision) Status() (EscalationStatus, error) {
	switch {
	case d.EntityID != "" && d.CorrectedSearch != "":
		return "", eris.New("model: decision names both an entity and a corrected search")
	case d.EntityID == "" && d.CorrectedSearch == "":
		return EscalationSkipped, nil
	default:
		return EscalationDecided, nil
	}
}
