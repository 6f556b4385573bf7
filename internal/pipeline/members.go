package pipeline

import (
	"context"
	"encoding/xml"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/fetcher"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/store"
)

// memberNamespace derives stable entity ids for members first seen in an
// export.
var memberNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://www.ourcommons.ca/Members"))

// Member is one term of service in the House of Commons members export.
type Member struct {
	XMLName   xml.Name `xml:"MemberOfParliament"`
	PersonID  string   `xml:"PersonId"`
	Honorific string   `xml:"PersonShortHonorific"`
	FirstName string   `xml:"PersonOfficialFirstName"`
	LastName  string   `xml:"PersonOfficialLastName"`
	Riding    string   `xml:"ConstituencyName"`
	Province  string   `xml:"ConstituencyProvinceTerritoryName"`
	Caucus    string   `xml:"CaucusShortName"`
	From      string   `xml:"FromDateTime"`
	To        string   `xml:"ToDateTime"`
}

// DisplayName is the name as printed in transcripts, "First Last".
func (m Member) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
}

// CanonicalName is the surname-first form canonical records use.
func (m Member) CanonicalName() string {
	return strings.TrimSpace(m.LastName) + ", " + strings.TrimSpace(m.FirstName)
}

func (m Member) key() string {
	if id := strings.TrimSpace(m.PersonID); id != "" {
		return "person:" + id
	}
	return "name:" + resolve.Normalize(m.CanonicalName())
}

const memberTimeLayout = "2006-01-02T15:04:05"

func parseMemberTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(memberTimeLayout, s)
	if err != nil {
		if t, err = time.Parse(time.DateOnly, s); err != nil {
			return nil, eris.Wrapf(err, "members: parse date %q", s)
		}
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &t, nil
}

// memberEntity accumulates every term of one person.
type memberEntity struct {
	entity model.Entity
	// sitting is set when any term is open ended.
	sitting bool
}

// ImportMembers reads a members export and stores one parliamentarian per
// person, spanning all their terms. Members that already match a known entity
// uniquely are merged into it and gain the export's spelling as a variant.
func ImportMembers(ctx context.Context, st store.Store, resolver *resolve.Resolver, r io.Reader) (int, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	items, errCh := fetcher.StreamXML[Member](streamCtx, r, "MemberOfParliament")

	byKey := make(map[string]*memberEntity)
	var order []string
	for m := range items {
		if strings.TrimSpace(m.LastName) == "" {
			zap.L().Warn("members: skipping entry without a surname", zap.String("first", m.FirstName))
			continue
		}
		from, err := parseMemberTime(m.From)
		if err != nil {
			return 0, err
		}
		to, err := parseMemberTime(m.To)
		if err != nil {
			return 0, err
		}

		key := m.key()
		me, ok := byKey[key]
		if !ok {
			me = &memberEntity{entity: memberBase(resolver, m)}
			byKey[key] = me
			order = append(order, key)
		}
		me.extend(from, to)
		me.addVariant(m.DisplayName())
	}
	if err := <-errCh; err != nil {
		return 0, eris.Wrap(err, "members: read export")
	}

	entities := make([]model.Entity, 0, len(order))
	for _, key := range order {
		me := byKey[key]
		if me.sitting {
			me.entity.ActiveTo = nil
		}
		entities = append(entities, me.entity)
	}
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })

	n, err := st.ImportEntities(ctx, entities)
	if err != nil {
		return 0, eris.Wrap(err, "members: store entities")
	}
	if resolver != nil {
		for _, e := range entities {
			resolver.Pool().Add(e)
		}
	}
	zap.L().Info("members: imported", zap.Int("members", n))
	return n, nil
}

// memberBase returns the existing entity m uniquely matches, or a new one.
func memberBase(resolver *resolve.Resolver, m Member) model.Entity {
	if resolver != nil {
		out := resolver.Match(resolve.ParliamentarianQuery(model.SourceHoCMembers, "", m.DisplayName(), nil))
		if out.Kind == resolve.OutcomeUnique && out.Entity != nil {
			e := *out.Entity
			e.Variants = append([]model.NameVariant(nil), e.Variants...)
			return e
		}
	}
	return model.Entity{
		ID:   uuid.NewSHA1(memberNamespace, []byte(m.key())).String(),
		Kind: model.KindParliamentarian,
		Name: m.CanonicalName(),
	}
}

func (me *memberEntity) extend(from, to *time.Time) {
	e := &me.entity
	if from != nil && (e.ActiveFrom == nil || from.Before(*e.ActiveFrom)) {
		e.ActiveFrom = from
	}
	if to == nil {
		me.sitting = true
		return
	}
	if e.ActiveTo == nil || to.After(*e.ActiveTo) {
		e.ActiveTo = to
	}
}

func (me *memberEntity) addVariant(name string) {
	if name == "" || me.entity.HasName(name) {
		return
	}
	me.entity.Variants = append(me.entity.Variants, model.NameVariant{
		Provenance: model.SourceHoCMembers,
		Name:       name,
	})
}
