package model

import "time"

// SittingStatus is the per-sitting outcome of a batch run.
type SittingStatus string

const (
	SittingSuccess           SittingStatus = "success"
	SittingSchemaError       SittingStatus = "schema_error"
	SittingPendingEscalation SittingStatus = "pending_escalation"
	SittingDefectSkipped     SittingStatus = "known_defect_skipped"
	SittingFailed            SittingStatus = "failed"
)

// SittingReport summarizes the last processing attempt for a sitting.
type SittingReport struct {
	SittingID string        `json:"sitting_id"`
	Status    SittingStatus `json:"status"`
	Blocks    int           `json:"blocks"`
	Detail    string        `json:"detail,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Complete reports whether the sitting's data can be considered final.
func (r SittingReport) Complete() bool {
	return r.Status == SittingSuccess || r.Status == SittingDefectSkipped
}
