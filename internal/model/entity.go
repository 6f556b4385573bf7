package model

import "time"

// EntityKind is the kind of canonical entity names resolve to.
type EntityKind string

const (
	KindParliamentarian EntityKind = "parliamentarian"
	KindParty           EntityKind = "party"
	KindProvince        EntityKind = "province"
	KindRiding          EntityKind = "riding"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindParliamentarian, KindParty, KindProvince, KindRiding:
		return true
	}
	return false
}

// NameVariant is one recorded spelling of an entity's name, tagged with the
// provenance that taught it.
type NameVariant struct {
	Provenance string `json:"provenance" yaml:"provenance"`
	Name       string `json:"name" yaml:"name"`
}

// Entity is a canonical parliamentarian, party, province or riding.
type Entity struct {
	ID         string        `json:"id" yaml:"id"`
	Kind       EntityKind    `json:"kind" yaml:"kind"`
	Name       string        `json:"name" yaml:"name"`
	Variants   []NameVariant `json:"variants,omitempty" yaml:"variants,omitempty"`
	ProvinceID string        `json:"province_id,omitempty" yaml:"province_id,omitempty"`
	ActiveFrom *time.Time    `json:"active_from,omitempty" yaml:"active_from,omitempty"`
	ActiveTo   *time.Time    `json:"active_to,omitempty" yaml:"active_to,omitempty"`
}

// Names returns the canonical name followed by every recorded variant.
func (e *Entity) Names() []string {
	names := make([]string, 0, len(e.Variants)+1)
	names = append(names, e.Name)
	for _, v := range e.Variants {
		names = append(names, v.Name)
	}
	return names
}

// HasName reports whether name is the canonical name or a recorded variant.
func (e *Entity) HasName(name string) bool {
	for _, n := range e.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// ActiveDuring reports whether the entity's active range overlaps [from, to].
// Open-ended ranges on either side always overlap.
func (e *Entity) ActiveDuring(from, to *time.Time) bool {
	if to != nil && e.ActiveFrom != nil && e.ActiveFrom.After(*to) {
		return false
	}
	if from != nil && e.ActiveTo != nil && e.ActiveTo.Before(*from) {
		return false
	}
	return true
}
