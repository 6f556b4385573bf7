package resolve

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// Variant is a name variant learned for an entity during resolution.
type Variant struct {
	EntityID string `json:"entity_id"`
	model.NameVariant
}

// Pool is the set of known canonical entities that names resolve against.
// It is shared by every worker of a batch run: reads dominate, and entries
// only ever grow.
type Pool struct {
	mu       sync.RWMutex
	entities map[string]*model.Entity
	// index maps kind -> normalized name -> entity ids owning that name.
	index map[model.EntityKind]map[string]map[string]struct{}
}

// NewPool creates a pool seeded with entities.
func NewPool(entities ...model.Entity) *Pool {
	p := &Pool{
		entities: make(map[string]*model.Entity, len(entities)),
		index:    make(map[model.EntityKind]map[string]map[string]struct{}),
	}
	for _, e := range entities {
		p.Add(e)
	}
	return p
}

// NormalizeFor returns the normalizer appropriate for an entity kind.
func NormalizeFor(kind model.EntityKind) func(string) string {
	if kind == model.KindParty {
		return NormalizeOrganization
	}
	return Normalize
}

// Add inserts or replaces an entity.
func (p *Pool) Add(e model.Entity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.entities[e.ID]; ok {
		p.unindexLocked(old)
	}
	cp := e
	cp.Variants = append([]model.NameVariant(nil), e.Variants...)
	p.entities[e.ID] = &cp
	p.indexLocked(&cp)
}

func (p *Pool) indexLocked(e *model.Entity) {
	norm := NormalizeFor(e.Kind)
	byName := p.index[e.Kind]
	if byName == nil {
		byName = make(map[string]map[string]struct{})
		p.index[e.Kind] = byName
	}
	for _, name := range e.Names() {
		key := norm(name)
		if byName[key] == nil {
			byName[key] = make(map[string]struct{})
		}
		byName[key][e.ID] = struct{}{}
	}
}

func (p *Pool) unindexLocked(e *model.Entity) {
	norm := NormalizeFor(e.Kind)
	for _, name := range e.Names() {
		delete(p.index[e.Kind][norm(name)], e.ID)
	}
}

// Get returns a copy of the entity with the given id.
func (p *Pool) Get(id string) (model.Entity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return copyEntity(e), true
}

// Entities returns copies of every entity of kind, ordered by id.
func (p *Pool) Entities(kind model.EntityKind) []model.Entity {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []model.Entity
	for _, e := range p.entities {
		if e.Kind == kind {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExactIDs returns the ids of entities of kind owning a name that normalizes
// to key, sorted.
func (p *Pool) ExactIDs(kind model.EntityKind, key string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.index[kind][key]))
	for id := range p.index[kind][key] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddVariant records a new name variant for an entity. It returns false when
// the entity already carries that exact name.
func (p *Pool) AddVariant(id string, v model.NameVariant) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entities[id]
	if !ok {
		return false, eris.Errorf("resolve: unknown entity %s", id)
	}
	if e.HasName(v.Name) {
		return false, nil
	}
	e.Variants = append(e.Variants, v)
	key := NormalizeFor(e.Kind)(v.Name)
	byName := p.index[e.Kind]
	if byName[key] == nil {
		byName[key] = make(map[string]struct{})
	}
	byName[key][e.ID] = struct{}{}
	return true, nil
}

// Len returns the number of entities of kind.
func (p *Pool) Len(kind model.EntityKind) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, e := range p.entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func copyEntity(e *model.Entity) model.Entity {
	cp := *e
	cp.Variants = append([]model.NameVariant(nil), e.Variants...)
	return cp
}
