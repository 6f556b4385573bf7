package hansard

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
)

//go:embed speakers.yaml
var defaultSpeakersYAML []byte

// CuratedSpeaker maps a printed attribution (optionally with its riding) to
// a parliamentarian, by entity id or by canonical search names.
type CuratedSpeaker struct {
	Name   string   `yaml:"name"`
	Riding string   `yaml:"riding,omitempty"`
	Entity string   `yaml:"entity,omitempty"`
	Search []string `yaml:"search,omitempty"`
}

type speakerFile struct {
	Curated    []CuratedSpeaker `yaml:"curated"`
	Unmappable []string         `yaml:"unmappable"`
}

// SpeakerTable holds the curated attributions and the attributions known to
// have no fixed individual behind them.
type SpeakerTable struct {
	byName       map[string]CuratedSpeaker
	byNameRiding map[string]CuratedSpeaker
	unmappable   map[string]struct{}
}

// DefaultSpeakerTable returns the table compiled into the binary.
func DefaultSpeakerTable() (*SpeakerTable, error) {
	t := newSpeakerTable()
	if err := t.merge(defaultSpeakersYAML); err != nil {
		return nil, eris.Wrap(err, "hansard: default speakers")
	}
	return t, nil
}

// LoadSpeakerTable returns the default table extended by the YAML file at
// path. An empty path yields the defaults.
func LoadSpeakerTable(path string) (*SpeakerTable, error) {
	t, err := DefaultSpeakerTable()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "hansard: read speakers %s", path)
	}
	if err := t.merge(data); err != nil {
		return nil, eris.Wrapf(err, "hansard: parse speakers %s", path)
	}
	return t, nil
}

func newSpeakerTable() *SpeakerTable {
	return &SpeakerTable{
		byName:       make(map[string]CuratedSpeaker),
		byNameRiding: make(map[string]CuratedSpeaker),
		unmappable:   make(map[string]struct{}),
	}
}

func (t *SpeakerTable) merge(data []byte) error {
	var file speakerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return eris.Wrap(err, "unmarshal")
	}
	for _, cs := range file.Curated {
		if cs.Name == "" || (cs.Entity == "" && len(cs.Search) == 0) {
			return eris.Errorf("curated speaker %q needs a name and an entity or search", cs.Name)
		}
		if cs.Riding != "" {
			t.byNameRiding[ridingKey(cs.Name, cs.Riding)] = cs
		} else {
			t.byName[resolve.Normalize(cs.Name)] = cs
		}
	}
	for _, name := range file.Unmappable {
		t.unmappable[resolve.Normalize(name)] = struct{}{}
	}
	return nil
}

func ridingKey(name, riding string) string {
	return resolve.Normalize(name) + "|" + resolve.Normalize(riding)
}

// Lookup returns the curated mapping for a printed name, preferring the one
// qualified by riding.
func (t *SpeakerTable) Lookup(name, riding string) (CuratedSpeaker, bool) {
	if t == nil {
		return CuratedSpeaker{}, false
	}
	if riding != "" {
		if cs, ok := t.byNameRiding[ridingKey(name, riding)]; ok {
			return cs, true
		}
	}
	cs, ok := t.byName[resolve.Normalize(name)]
	return cs, ok
}

// Unmappable reports whether name never refers to a fixed individual.
func (t *SpeakerTable) Unmappable(name string) bool {
	if t == nil {
		return false
	}
	_, ok := t.unmappable[resolve.Normalize(name)]
	return ok
}

// Attribution is a printed speaker attribution split into its parts, e.g.
// "Mr. John Doe (Westmount, Lib.):".
type Attribution struct {
	Display string
	Name    string
	Riding  string
	Party   string
}

var (
	parentheticalRe = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)$`)
	// presidingRe matches chair occupants named in parentheses, as in
	// "The Acting Speaker (Mr. Bruce Stanton)".
	presidingRe = regexp.MustCompile(`^(?i:the|le|la) (?i:acting |assistant |deputy )*(?i:speaker|chair|chairman|chairwoman|président|présidente|vice-président|vice-présidente)(?: (?i:suppléant|suppléante|adjoint|adjointe))? \((.+)\)$`)
	honorificRe = regexp.MustCompile(`^(?:Mr\.|Mrs\.|Ms\.|Miss|Dr\.|M\.|Mme|Mlle|Right Hon\.|Hon\.|The Right Honourable|The Honourable|Le très hon\.|La très hon\.|L'hon\.|Senator|Sen\.)\s+`)
)

// ParseAttribution splits a printed attribution.
func ParseAttribution(s string) Attribution {
	display := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ":"))
	a := Attribution{Display: display, Name: display}
	if presidingRe.MatchString(display) {
		return a
	}
	if m := parentheticalRe.FindStringSubmatch(display); m != nil {
		a.Name = m[1]
		parts := strings.Split(m[2], ",")
		a.Riding = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			a.Party = strings.TrimSpace(parts[len(parts)-1])
		}
	}
	return a
}

// BareName strips chair titles, honorifics and the riding/party suffix from
// a printed attribution.
func BareName(s string) string {
	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ":"))
	if m := presidingRe.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	if m := parentheticalRe.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	for {
		stripped := honorificRe.ReplaceAllString(name, "")
		if stripped == name {
			return strings.TrimSpace(name)
		}
		name = stripped
	}
}

// UnresolvedSpeakerError is a speaker attribution no layer could resolve.
type UnresolvedSpeakerError struct {
	SittingID string
	Path      string
	Name      string
	Err       error
}

func (e *UnresolvedSpeakerError) Error() string {
	return fmt.Sprintf("hansard: unresolved speaker %q in sitting %s at %s", e.Name, e.SittingID, e.Path)
}

func (e *UnresolvedSpeakerError) Unwrap() error { return e.Err }

// SpeakerQuery is one attribution to resolve.
type SpeakerQuery struct {
	// Affiliation is the primary-language attribution node.
	Affiliation *Node
	// Secondary is its counterpart in the other language, if aligned.
	Secondary  *Node
	Lang       model.Lang
	Provenance string
	Sitting    model.Sitting
	// Staged are aliases learned earlier in the same sitting. They answer
	// like cached ones but reach the shared cache only through Commit.
	Staged     map[string]string
}

// SpeakerResult is the resolved identity of an attribution. Entity is nil
// for attributions with no fixed individual.
type SpeakerResult struct {
	Names   model.Multilingual
	Entity  *model.Entity
	Learned []resolve.Variant
	// Aliases are the cache entries this resolution added.
	Aliases map[string]string
}

// SpeakerResolver attributes speaking turns to parliamentarians.
type SpeakerResolver struct {
	cache    *AliasCache
	table    *SpeakerTable
	resolver *resolve.Resolver
}

// NewSpeakerResolver creates a speaker resolver. resolver may be nil, in
// which case attributions not covered by the cache or table fail.
func NewSpeakerResolver(cache *AliasCache, table *SpeakerTable, resolver *resolve.Resolver) *SpeakerResolver {
	if cache == nil {
		cache = NewAliasCache()
	}
	return &SpeakerResolver{cache: cache, table: table, resolver: resolver}
}

// Cache returns the alias cache the resolver reads and writes.
func (r *SpeakerResolver) Cache() *AliasCache { return r.cache }

// Resolve runs, in order: the identifier alias, the raw name alias, the
// curated table, honorific stripping with alias retry, the unmappable set and
// finally the entity resolver.
func (r *SpeakerResolver) Resolve(ctx context.Context, q SpeakerQuery) (SpeakerResult, error) {
	res := SpeakerResult{Names: model.Multilingual{}, Aliases: map[string]string{}}
	if q.Affiliation == nil {
		return res, nil
	}
	attr := ParseAttribution(q.Affiliation.InnerText())
	res.Names[q.Lang] = attr.Display
	if q.Secondary != nil {
		res.Names[q.Lang.Other()] = ParseAttribution(q.Secondary.InnerText()).Display
	}

	dbid := strings.TrimSpace(q.Affiliation.Attr("DbId"))
	if attr.Display == "" && dbid == "" {
		return res, nil
	}
	get := func(key string) (string, bool) {
		if id, ok := q.Staged[key]; ok {
			return id, true
		}
		return r.cache.Get(key)
	}
	// nameKeys lists the keys a name is looked up under, the sitting's
	// parliament first.
	nameKeys := func(name string) []string {
		keys := []string{NameKey(name)}
		if q.Sitting.Parliament > 0 {
			keys = append([]string{ParliamentNameKey(q.Sitting.Parliament, name)}, keys...)
		}
		return keys
	}
	// written stages aliases for id: the person identifier, plus names keyed
	// for this parliament only when scoped.
	written := func(id string, scoped bool, names ...string) {
		var keys []string
		if dbid != "" {
			keys = append(keys, DBIDKey(dbid))
		}
		for _, name := range names {
			switch {
			case !scoped:
				keys = append(keys, NameKey(name))
			case q.Sitting.Parliament > 0:
				keys = append(keys, ParliamentNameKey(q.Sitting.Parliament, name))
			}
		}
		for _, k := range keys {
			if prev, ok := get(k); (ok && prev == id) || r.cache.Poisoned(k) || strings.HasSuffix(k, ":") {
				continue
			}
			res.Aliases[k] = id
		}
	}

	// 1. House person identifier.
	if dbid != "" {
		if id, ok := get(DBIDKey(dbid)); ok {
			return r.found(res, id), nil
		}
	}

	// 2. Printed name as is.
	if attr.Display != "" {
		for _, k := range nameKeys(attr.Display) {
			if id, ok := get(k); ok {
				written(id, false)
				return r.found(res, id), nil
			}
		}
	}

	// 3. Curated table.
	if cs, ok := r.table.Lookup(attr.Name, attr.Riding); ok {
		e, learned, err := r.curated(ctx, q, cs)
		if err != nil {
			return res, err
		}
		res.Learned = append(res.Learned, learned...)
		written(e.ID, false, attr.Display)
		res.Entity = e
		return res, nil
	}

	// 4. Honorifics stripped, as printed and surname first.
	bare := BareName(attr.Display)
	for _, name := range append([]string{bare}, resolve.SurnameFirst(bare)...) {
		for _, k := range nameKeys(name) {
			if id, ok := get(k); ok {
				written(id, k != NameKey(name), attr.Display)
				return r.found(res, id), nil
			}
		}
	}

	// 5. Nobody in particular.
	if r.table.Unmappable(attr.Display) || r.table.Unmappable(attr.Name) || r.table.Unmappable(bare) {
		return res, nil
	}

	// 6. Entity resolver, escalating when inconclusive.
	if r.resolver == nil || bare == "" {
		return res, &UnresolvedSpeakerError{
			SittingID: q.Sitting.ID,
			Path:      q.Affiliation.Path(),
			Name:      attr.Display,
		}
	}
	filter := activeOn(q.Sitting)
	rq := resolve.ParliamentarianQuery(q.Provenance, "", bare, filter)
	rq.SittingID = q.Sitting.ID
	out, err := r.resolver.Resolve(ctx, rq)
	if err != nil {
		var unresolved *resolve.UnresolvedError
		if errors.As(err, &unresolved) {
			return res, &UnresolvedSpeakerError{
				SittingID: q.Sitting.ID,
				Path:      q.Affiliation.Path(),
				Name:      attr.Display,
				Err:       err,
			}
		}
		return res, eris.Wrapf(err, "hansard: resolve speaker %q", attr.Display)
	}
	if out.Skipped {
		return res, nil
	}
	if out.Learned != nil {
		res.Learned = append(res.Learned, *out.Learned)
	}
	// A match that relied on the sitting date only holds for this era.
	written(out.Entity.ID, filter != nil, attr.Display, bare)
	res.Entity = out.Entity
	return res, nil
}

// Commit publishes what a sitting learned once the sitting has been saved:
// aliases go to the shared cache and variants to the candidate pool.
func (r *SpeakerResolver) Commit(aliases map[string]string, learned []resolve.Variant) error {
	for k, id := range aliases {
		r.cache.Put(k, id)
	}
	if r.resolver == nil {
		return nil
	}
	return r.resolver.Learn(learned...)
}

func (r *SpeakerResolver) curated(ctx context.Context, q SpeakerQuery, cs CuratedSpeaker) (*model.Entity, []resolve.Variant, error) {
	if cs.Entity != "" {
		e := r.entity(cs.Entity)
		return e, nil, nil
	}
	if r.resolver == nil {
		return nil, nil, eris.Errorf("hansard: curated speaker %q needs an entity resolver", cs.Name)
	}
	out, err := r.resolver.Resolve(ctx, resolve.Query{
		Kind:       model.KindParliamentarian,
		Provenance: model.SourceManual,
		Names:      cs.Search,
		SittingID:  q.Sitting.ID,
	})
	if err != nil {
		return nil, nil, eris.Wrapf(err, "hansard: curated speaker %q", cs.Name)
	}
	if out.Skipped || out.Entity == nil {
		return nil, nil, eris.Errorf("hansard: curated speaker %q resolved to nothing", cs.Name)
	}
	var learned []resolve.Variant
	if out.Learned != nil {
		learned = append(learned, *out.Learned)
	}
	return out.Entity, learned, nil
}

func (r *SpeakerResolver) found(res SpeakerResult, id string) SpeakerResult {
	res.Entity = r.entity(id)
	return res
}

func (r *SpeakerResolver) entity(id string) *model.Entity {
	if r.resolver != nil {
		if e, ok := r.resolver.Pool().Get(id); ok {
			return &e
		}
	}
	zap.L().Debug("hansard: speaker alias outside candidate pool", zap.String("entity", id))
	return &model.Entity{ID: id, Kind: model.KindParliamentarian}
}

// activeOn restricts candidates to parliamentarians active on the sitting
// date, when it is known.
func activeOn(s model.Sitting) func(*model.Entity) bool {
	if s.Date.IsZero() {
		return nil
	}
	d := s.Date
	return func(e *model.Entity) bool { return e.ActiveDuring(&d, &d) }
}
