package hansard

import (
	"strconv"
	"strings"
	"sync"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
)

// DBIDKey is the alias key for a House person identifier.
func DBIDKey(id string) string { return "dbid:" + strings.TrimSpace(id) }

// NameKey is the alias key for a display name.
func NameKey(name string) string { return "name:" + resolve.Normalize(name) }

// ParliamentNameKey is the alias key for a display name within one
// parliament. Names only told apart by who was sitting at the time are
// cached under it so they never answer for another era.
func ParliamentNameKey(parliament int, name string) string {
	return "p" + strconv.Itoa(parliament) + ":" + NameKey(name)
}

// AliasCache maps speaker identifiers and display names to parliamentarian
// ids. It is shared by every sitting of a batch run. Keys that are known to
// name several people are poisoned and never answer.
type AliasCache struct {
	mu       sync.RWMutex
	aliases  map[string]string
	poisoned map[string]struct{}
}

// NewAliasCache creates an empty cache.
func NewAliasCache() *AliasCache {
	return &AliasCache{
		aliases:  make(map[string]string),
		poisoned: make(map[string]struct{}),
	}
}

// Get returns the entity id for key.
func (c *AliasCache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.aliases[key]
	return id, ok
}

// Put records key -> id and reports whether the cache changed. Poisoned keys
// stay poisoned.
func (c *AliasCache) Put(key, id string) bool {
	if key == "" || id == "" || strings.HasSuffix(key, ":") {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, bad := c.poisoned[key]; bad {
		return false
	}
	if c.aliases[key] == id {
		return false
	}
	c.aliases[key] = id
	return true
}

// Load adds previously persisted aliases, except under keys Seed found to
// name several people.
func (c *AliasCache) Load(aliases map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range aliases {
		if _, bad := c.poisoned[k]; bad {
			continue
		}
		c.aliases[k] = v
	}
}

// Seed derives name aliases from parliamentarian entities: every recorded
// name, plus its "First Last" reading when stored as "Last, First". A name
// shared by two entities is poisoned instead.
func (c *AliasCache) Seed(entities []model.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range entities {
		e := &entities[i]
		if e.Kind != model.KindParliamentarian {
			continue
		}
		for _, name := range e.Names() {
			c.seedLocked(NameKey(name), e.ID)
			if last, first, ok := strings.Cut(name, ","); ok {
				c.seedLocked(NameKey(strings.TrimSpace(first)+" "+strings.TrimSpace(last)), e.ID)
			}
		}
	}
}

func (c *AliasCache) seedLocked(key, id string) {
	if strings.HasSuffix(key, ":") {
		return
	}
	if _, bad := c.poisoned[key]; bad {
		return
	}
	if prev, ok := c.aliases[key]; ok && prev != id {
		delete(c.aliases, key)
		c.poisoned[key] = struct{}{}
		return
	}
	c.aliases[key] = id
}

// Poisoned reports whether key was found to be ambiguous.
func (c *AliasCache) Poisoned(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.poisoned[key]
	return ok
}

// Snapshot returns a copy of every alias.
func (c *AliasCache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.aliases))
	for k, v := range c.aliases {
		out[k] = v
	}
	return out
}

// Len returns the number of aliases.
func (c *AliasCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.aliases)
}
