package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// EntityFilter specifies criteria for listing entities. Active bounds select
// entities whose active range overlaps [ActiveFrom, ActiveTo].
type EntityFilter struct {
	Kind       model.EntityKind `json:"kind,omitempty"`
	ActiveFrom *time.Time       `json:"active_from,omitempty"`
	ActiveTo   *time.Time       `json:"active_to,omitempty"`
}

// EscalationFilter specifies criteria for listing escalations.
type EscalationFilter struct {
	Status    model.EscalationStatus `json:"status,omitempty"`
	SittingID string                 `json:"sitting_id,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
}

// ReportFilter specifies criteria for listing sitting reports.
type ReportFilter struct {
	Status model.SittingStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
}

// SittingSave is everything one segmentation produced for a sitting.
type SittingSave struct {
	SittingID string
	Blocks    []model.Block
	Variants  []resolve.Variant
	Aliases   map[string]string
}

// Store defines the persistence interface for the transcript pipeline.
type Store interface {
	// Blocks. SaveSitting replaces any earlier blocks of the sitting and
	// records learned variants and aliases in the same transaction.
	SaveSitting(ctx context.Context, in SittingSave) error
	ListBlocks(ctx context.Context, sittingID string) ([]model.Block, error)
	GetBlock(ctx context.Context, sittingID string, number int) (*model.Block, error)

	// Entities
	UpsertEntity(ctx context.Context, e model.Entity) error
	ImportEntities(ctx context.Context, entities []model.Entity) (int, error)
	ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error)
	AddNameVariant(ctx context.Context, entityID string, v model.NameVariant) error
	LoadAliases(ctx context.Context) (map[string]string, error)

	// Escalations
	PutEscalation(ctx context.Context, esc *model.Escalation) error
	GetEscalationByKey(ctx context.Context, key string) (*model.Escalation, error)
	GetEscalation(ctx context.Context, id string) (*model.Escalation, error)
	ListEscalations(ctx context.Context, filter EscalationFilter) ([]model.Escalation, error)
	DecideEscalation(ctx context.Context, id string, decision model.EscalationDecision) (*model.Escalation, error)

	// Reports
	RecordReport(ctx context.Context, r model.SittingReport) error
	ListReports(ctx context.Context, filter ReportFilter) ([]model.SittingReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Both backends persist the queue escalator's state.
var (
	_ resolve.EscalationStore = (*SQLiteStore)(nil)
	_ resolve.EscalationStore = (*PostgresStore)(nil)
)

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// blockRow is the JSON-encoded form of a block's map columns.
type blockRow struct {
	content, metadata, speakerName []byte
}

func encodeBlock(b model.Block) (blockRow, error) {
	var r blockRow
	var err error
	if r.content, err = json.Marshal(b.Content); err != nil {
		return r, eris.Wrap(err, "store: marshal block content")
	}
	if r.metadata, err = json.Marshal(b.Metadata); err != nil {
		return r, eris.Wrap(err, "store: marshal block metadata")
	}
	if r.speakerName, err = json.Marshal(b.SpeakerName); err != nil {
		return r, eris.Wrap(err, "store: marshal speaker name")
	}
	return r, nil
}

func decodeBlock(b *model.Block, r blockRow) error {
	if err := json.Unmarshal(r.content, &b.Content); err != nil {
		return eris.Wrap(err, "store: unmarshal block content")
	}
	if len(r.metadata) > 0 && string(r.metadata) != "null" {
		if err := json.Unmarshal(r.metadata, &b.Metadata); err != nil {
			return eris.Wrap(err, "store: unmarshal block metadata")
		}
	}
	if len(r.speakerName) > 0 && string(r.speakerName) != "null" {
		if err := json.Unmarshal(r.speakerName, &b.SpeakerName); err != nil {
			return eris.Wrap(err, "store: unmarshal speaker name")
		}
	}
	return nil
}

// escalationRow is the JSON-encoded form of an escalation's list columns.
type escalationRow struct {
	searchNames, candidates, decision []byte
}

func encodeEscalation(esc *model.Escalation) (escalationRow, error) {
	var r escalationRow
	var err error
	if r.searchNames, err = json.Marshal(esc.SearchNames); err != nil {
		return r, eris.Wrap(err, "store: marshal search names")
	}
	if r.candidates, err = json.Marshal(esc.Candidates); err != nil {
		return r, eris.Wrap(err, "store: marshal candidates")
	}
	if r.decision, err = json.Marshal(esc.Decision); err != nil {
		return r, eris.Wrap(err, "store: marshal decision")
	}
	return r, nil
}

func decodeEscalation(esc *model.Escalation, r escalationRow) error {
	if err := json.Unmarshal(r.searchNames, &esc.SearchNames); err != nil {
		return eris.Wrap(err, "store: unmarshal search names")
	}
	if err := json.Unmarshal(r.candidates, &esc.Candidates); err != nil {
		return eris.Wrap(err, "store: unmarshal candidates")
	}
	if err := json.Unmarshal(r.decision, &esc.Decision); err != nil {
		return eris.Wrap(err, "store: unmarshal decision")
	}
	return nil
}

// checkChain rejects a block list whose numbering has gaps or whose
// previous pointers do not form a single chain.
func checkChain(in SittingSave) error {
	for i, b := range in.Blocks {
		if b.SittingID != in.SittingID {
			return eris.Errorf("store: block %d belongs to sitting %s, not %s", b.Number, b.SittingID, in.SittingID)
		}
		if b.Number != i+1 {
			return eris.Errorf("store: sitting %s block %d out of sequence", in.SittingID, b.Number)
		}
		switch {
		case i == 0 && b.Previous != nil:
			return eris.Errorf("store: sitting %s first block has a previous block", in.SittingID)
		case i > 0 && (b.Previous == nil || *b.Previous != i):
			return eris.Errorf("store: sitting %s block %d breaks the previous chain", in.SittingID, b.Number)
		}
		if !b.Category.Valid() {
			return eris.Errorf("store: sitting %s block %d has category %q", in.SittingID, b.Number, b.Category)
		}
	}
	return nil
}
