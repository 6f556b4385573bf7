package resolve

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// AnyProvenance matches an override regardless of where the name came from.
const AnyProvenance = "*"

//go:embed overrides.yaml
var defaultOverridesYAML []byte

// Override is a hand-curated correction for a troublesome (provenance, name)
// pair: either replacement search strings or an explicit skip.
type Override struct {
	Provenance string   `yaml:"provenance"`
	Scope      string   `yaml:"scope,omitempty"`
	Name       string   `yaml:"name"`
	Search     []string `yaml:"search,omitempty"`
	Skip       bool     `yaml:"skip,omitempty"`
}

type overrideKey struct {
	kind       model.EntityKind
	provenance string
	scope      string
	name       string
}

// Overrides is the static correction table consulted before any matching.
type Overrides struct {
	entries map[overrideKey]Override
}

// overrideFile is the on-disk layout: one list per entity kind.
type overrideFile map[model.EntityKind][]Override

// DefaultOverrides returns the corrections compiled into the binary.
func DefaultOverrides() (*Overrides, error) {
	o := &Overrides{entries: make(map[overrideKey]Override)}
	if err := o.merge(defaultOverridesYAML); err != nil {
		return nil, eris.Wrap(err, "resolve: default overrides")
	}
	return o, nil
}

// LoadOverrides returns the default corrections extended by the YAML file at
// path. Entries in the file replace defaults with the same key. An empty path
// yields the defaults.
func LoadOverrides(path string) (*Overrides, error) {
	o, err := DefaultOverrides()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read overrides %s", path)
	}
	if err := o.merge(data); err != nil {
		return nil, eris.Wrapf(err, "resolve: parse overrides %s", path)
	}
	return o, nil
}

func (o *Overrides) merge(data []byte) error {
	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return eris.Wrap(err, "unmarshal")
	}
	for kind, list := range file {
		if !kind.Valid() {
			return eris.Errorf("unknown entity kind %q", kind)
		}
		for _, ov := range list {
			if ov.Name == "" {
				return eris.Errorf("%s override without name", kind)
			}
			if !ov.Skip && len(ov.Search) == 0 {
				return eris.Errorf("%s override %q needs search or skip", kind, ov.Name)
			}
			if ov.Provenance == "" {
				ov.Provenance = AnyProvenance
			}
			o.Set(kind, ov)
		}
	}
	return nil
}

// Set adds or replaces one override.
func (o *Overrides) Set(kind model.EntityKind, ov Override) {
	if o.entries == nil {
		o.entries = make(map[overrideKey]Override)
	}
	o.entries[overrideKey{kind, ov.Provenance, ov.Scope, ov.Name}] = ov
}

// Lookup finds the override for a raw name. Provenance-specific entries win
// over wildcard ones, and scoped entries over unscoped ones.
func (o *Overrides) Lookup(kind model.EntityKind, provenance, scope, name string) (Override, bool) {
	if o == nil {
		return Override{}, false
	}
	for _, k := range []overrideKey{
		{kind, provenance, scope, name},
		{kind, provenance, "", name},
		{kind, AnyProvenance, scope, name},
		{kind, AnyProvenance, "", name},
	} {
		if ov, ok := o.entries[k]; ok {
			return ov, true
		}
	}
	return Override{}, false
}

// Len returns the number of overrides.
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	return len(o.entries)
}
