package pipeline

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

type seedFile struct {
	Entities []model.Entity `yaml:"entities"`
}

// ReadEntitySeeds parses a YAML list of canonical entities:
//
//	entities:
//	  - id: p-doe
//	    kind: parliamentarian
//	    name: "DOE, John"
//	    active_from: 2015-11-03
func ReadEntitySeeds(r io.Reader) ([]model.Entity, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "seeds: decode")
	}

	seen := make(map[string]struct{}, len(file.Entities))
	for i, e := range file.Entities {
		switch {
		case e.ID == "":
			return nil, eris.Errorf("seeds: entity %d has no id", i)
		case !e.Kind.Valid():
			return nil, eris.Errorf("seeds: entity %s has unknown kind %q", e.ID, e.Kind)
		case e.Name == "":
			return nil, eris.Errorf("seeds: entity %s has no name", e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, eris.Errorf("seeds: duplicate entity %s", e.ID)
		}
		seen[e.ID] = struct{}{}
		for j := range e.Variants {
			if file.Entities[i].Variants[j].Provenance == "" {
				file.Entities[i].Variants[j].Provenance = model.SourceManual
			}
		}
	}
	return file.Entities, nil
}
