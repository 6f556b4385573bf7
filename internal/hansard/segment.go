package hansard

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
	"github.com/bradbeattie/api.iscanadafair.ca/internal/resolve"
)

// SchemaError reports a tag outside the transcript vocabulary, or one in a
// position the segmenter cannot handle. The whole sitting is rejected.
type SchemaError struct {
	SittingID string
	Path      string
	Tag       string
	Reason    string
}

func (e *SchemaError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unsupported tag"
	}
	return fmt.Sprintf("hansard: sitting %s: %s <%s> at %s", e.SittingID, reason, e.Tag, e.Path)
}

// Options tunes a Segmenter.
type Options struct {
	// Primary is the language of the tree that drives segmentation.
	Primary model.Lang
	// Provenance tags speaker names learned while segmenting.
	Provenance string
	// Relaxed treats unknown tags as pass-through instead of failing. Only
	// used for sittings with documented upstream defects.
	Relaxed bool
}

// Segmentation is the output of one sitting.
type Segmentation struct {
	Blocks  []model.Block
	Learned []resolve.Variant
	// Aliases are the speaker alias cache entries learned while segmenting.
	// Learned and Aliases stay out of the shared caches until the sitting is
	// saved and SpeakerResolver.Commit publishes them.
	Aliases map[string]string
}

// Segmenter turns a sitting's pair of documents into blocks.
type Segmenter struct {
	speakers *SpeakerResolver
	opts     Options
}

// NewSegmenter creates a segmenter. speakers may be nil, in which case
// speaking turns keep their printed names without an entity.
func NewSegmenter(speakers *SpeakerResolver, opts Options) *Segmenter {
	if opts.Primary == "" {
		opts.Primary = model.EN
	}
	if opts.Provenance == "" {
		opts.Provenance = model.SourceHansardXML
	}
	return &Segmenter{speakers: speakers, opts: opts}
}

// WithRelaxed returns a copy of s with relaxed validation toggled.
func (s *Segmenter) WithRelaxed(relaxed bool) *Segmenter {
	cp := *s
	cp.opts.Relaxed = relaxed
	return &cp
}

// Segment walks primary depth first, pulling aligned content from secondary
// (which may be nil), and returns the sitting's blocks numbered from 1.
func (s *Segmenter) Segment(ctx context.Context, sitting model.Sitting, primary, secondary *Node) (*Segmentation, error) {
	if primary == nil {
		return nil, eris.Errorf("hansard: sitting %s has no primary document", sitting.ID)
	}
	st := &segState{
		seg:       s,
		ctx:       ctx,
		sitting:   sitting,
		primary:   s.opts.Primary,
		secondary: s.opts.Primary.Other(),
		aligner:   NewAligner(secondary),
		visited:   make(map[*Node]struct{}),
		pending:   make(map[model.Lang]map[string]string),
		clock:     sitting.Date,
		out:       &Segmentation{Aliases: map[string]string{}},
	}
	if err := st.visit(primary, st.aligner.Align(primary), scope{enclosing: model.CategoryUnknown}); err != nil {
		return nil, err
	}
	st.close()
	return st.out, nil
}

// scope is the context threaded down the recursion.
type scope struct {
	// enclosing is the category trailing content reverts to when a nested
	// boundary finishes.
	enclosing model.Category
	// inline collects output inside a render container; nil means content
	// flows straight into the open block.
	inline fragment
}

type stickyMeta struct {
	owner *Node
	lang  model.Lang
	key   string
	value string
}

type segState struct {
	seg       *Segmenter
	ctx       context.Context
	sitting   model.Sitting
	primary   model.Lang
	secondary model.Lang
	aligner   *Aligner
	visited   map[*Node]struct{}

	open    *model.Block
	pending map[model.Lang]map[string]string
	sticky  []stickyMeta
	floor   model.Lang
	clock   time.Time

	out *Segmentation
}

func (st *segState) visit(p, sec *Node, sc scope) error {
	if _, seen := st.visited[p]; seen {
		return nil
	}
	st.visited[p] = struct{}{}

	if p.IsText() {
		st.text(p, sec, sc)
		return nil
	}
	if err := st.ctx.Err(); err != nil {
		return eris.Wrap(err, "hansard: segment cancelled")
	}

	spec, ok := LookupTag(p.Tag)
	if !ok {
		if !st.seg.opts.Relaxed {
			return &SchemaError{SittingID: st.sitting.ID, Path: p.Path(), Tag: p.Tag}
		}
		zap.L().Warn("hansard: unknown tag passed through",
			zap.String("sitting", st.sitting.ID),
			zap.String("path", p.Path()),
		)
		spec = passThrough
	}

	var err error
	switch spec.Kind {
	case TagBoundary:
		err = st.boundary(p, sec, spec, sc)
	case TagMetadata:
		st.metadata(p, sec, spec)
	case TagRender:
		err = st.render(p, sec, spec, sc)
	case TagSpeaker:
		err = st.speaker(p, sec)
	case TagState:
		st.state(p)
	default:
		err = &SchemaError{SittingID: st.sitting.ID, Path: p.Path(), Tag: p.Tag}
	}
	if err != nil {
		return err
	}
	st.finished(p)
	return nil
}

func (st *segState) children(p, sec *Node, sc scope) error {
	for _, c := range p.Children {
		if err := st.visit(c, st.aligner.Child(sec, c), sc); err != nil {
			return err
		}
	}
	return nil
}

func (st *segState) boundary(p, sec *Node, spec TagSpec, sc scope) error {
	if sc.inline != nil {
		return &SchemaError{
			SittingID: st.sitting.ID,
			Path:      p.Path(),
			Tag:       p.Tag,
			Reason:    "block boundary inside rendered content",
		}
	}
	st.close()
	st.openBlock(spec.Category)
	if err := st.children(p, sec, scope{enclosing: spec.Category}); err != nil {
		return err
	}
	st.close()
	st.openBlock(sc.enclosing)
	return nil
}

func (st *segState) render(p, sec *Node, spec TagSpec, sc scope) error {
	if spec.Container == "" {
		return st.children(p, sec, sc)
	}
	inner := fragment{}
	if err := st.children(p, sec, scope{enclosing: sc.enclosing, inline: inner}); err != nil {
		return err
	}
	var floor model.Lang
	if spec.Floor {
		floor = st.floor
	}
	bodies := map[model.Lang]string{
		st.primary:   inner.text(st.primary),
		st.secondary: inner.text(st.secondary),
	}
	if sec != nil && !sec.IsText() {
		bodies[st.secondary] = st.secondaryBody(sec)
	}
	out := fragment{}
	for _, lang := range []model.Lang{st.primary, st.secondary} {
		if body := bodies[lang]; strings.TrimSpace(body) != "" {
			out.write(lang, wrap(spec.Container, floor, body))
		}
	}
	st.emit(out, sc)
	return nil
}

// secondaryBody renders the inside of an aligned secondary container from
// the secondary tree itself, so inline markup and text present only in that
// edition are kept. Labels and speakers are left to the primary walk.
func (st *segState) secondaryBody(n *Node) string {
	var b strings.Builder
	for _, c := range n.Children {
		if c.IsText() {
			b.WriteString(renderText(c.Data))
			continue
		}
		spec, ok := LookupTag(c.Tag)
		if !ok {
			zap.L().Warn("hansard: unknown secondary tag passed through",
				zap.String("sitting", st.sitting.ID),
				zap.String("path", c.Path()),
			)
			spec = passThrough
		}
		if spec.Kind != TagRender {
			continue
		}
		inner := st.secondaryBody(c)
		if spec.Container == "" || strings.TrimSpace(inner) == "" {
			b.WriteString(inner)
			continue
		}
		var floor model.Lang
		if spec.Floor {
			floor = st.floor
		}
		b.WriteString(wrap(spec.Container, floor, inner))
	}
	return b.String()
}

func (st *segState) text(p, sec *Node, sc scope) {
	if sc.inline == nil && strings.TrimSpace(p.Data) == "" {
		return
	}
	f := fragment{}
	f.write(st.primary, renderText(p.Data))
	if sec != nil && sec.IsText() {
		f.write(st.secondary, renderText(sec.Data))
	}
	st.emit(f, sc)
}

// emit sends rendered output to the enclosing container, or appends it to
// the open block.
func (st *segState) emit(f fragment, sc scope) {
	if sc.inline != nil {
		for lang, b := range f {
			sc.inline.write(lang, b.String())
		}
		return
	}
	if st.open == nil {
		st.openBlock(sc.enclosing)
	}
	for lang, b := range f {
		st.open.Content[lang] += b.String()
	}
}

func (st *segState) metadata(p, sec *Node, spec TagSpec) {
	st.markSubtree(p)
	key := metadataKey(p)
	values := map[model.Lang]string{st.primary: p.InnerText()}
	if sec != nil {
		values[st.secondary] = sec.InnerText()
	}
	for lang, v := range values {
		if v == "" {
			continue
		}
		if spec.Sticky && p.Parent != nil {
			st.sticky = append(st.sticky, stickyMeta{owner: p.Parent, lang: lang, key: key, value: v})
			continue
		}
		if st.pending[lang] == nil {
			st.pending[lang] = make(map[string]string)
		}
		st.pending[lang][key] = v
	}
}

// metadataKey is "<Parent>.<Tag>", with the Name attribute appended for
// extracted document properties and the side appended for division totals.
func metadataKey(p *Node) string {
	key := p.Tag
	if p.Parent != nil {
		key = p.Parent.Tag + "." + key
	}
	if name := p.Attr("Name"); name != "" {
		key += "." + name
	}
	// Totals are per division side (Yeas, Nays, Paired).
	if p.Tag == "Total" && p.Parent != nil {
		if side := p.Parent.Child("Type").InnerText(); side != "" {
			key += "." + side
		}
	}
	return key
}

func (st *segState) speaker(p, sec *Node) error {
	st.markSubtree(p)
	aff := p.Find("Affiliation")
	if aff == nil {
		aff = p
	}
	var secAff *Node
	if sec != nil {
		secAff = sec.Find("Affiliation")
		if secAff == nil {
			secAff = sec
		}
	}
	if st.open == nil {
		st.openBlock(model.CategoryUnknown)
	}

	if st.seg.speakers == nil {
		names := model.Multilingual{st.primary: ParseAttribution(aff.InnerText()).Display}
		if secAff != nil {
			names[st.secondary] = ParseAttribution(secAff.InnerText()).Display
		}
		st.open.SpeakerName = names
		return nil
	}

	res, err := st.seg.speakers.Resolve(st.ctx, SpeakerQuery{
		Affiliation: aff,
		Secondary:   secAff,
		Lang:        st.primary,
		Provenance:  st.seg.opts.Provenance,
		Sitting:     st.sitting,
		Staged:      st.out.Aliases,
	})
	if err != nil {
		return err
	}
	st.open.SpeakerName = res.Names
	if res.Entity != nil {
		st.open.SpeakerID = res.Entity.ID
	}
	for _, v := range res.Learned {
		if !containsVariant(st.out.Learned, v) {
			st.out.Learned = append(st.out.Learned, v)
		}
	}
	for k, v := range res.Aliases {
		st.out.Aliases[k] = v
	}
	return nil
}

func containsVariant(list []resolve.Variant, v resolve.Variant) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

func (st *segState) state(p *Node) {
	st.markSubtree(p)
	switch p.Tag {
	case "FloorLanguage":
		if lang, ok := model.ParseLang(p.Attr("language")); ok {
			st.floor = lang
		}
	case "Timestamp":
		hr, errH := strconv.Atoi(p.Attr("Hr"))
		mn, errM := strconv.Atoi(p.Attr("Mn"))
		if errH != nil || errM != nil {
			return
		}
		d := st.sitting.Date
		st.clock = time.Date(d.Year(), d.Month(), d.Day(), hr, mn, 0, 0, d.Location())
		if st.open != nil && st.open.Empty() {
			st.open.Timestamp = st.clock
		}
	}
}

// finished runs after p's subtree: sticky labels owned by p stop applying,
// and the content gathered under them is closed off first.
func (st *segState) finished(p *Node) {
	owned := false
	var kept []stickyMeta
	for _, m := range st.sticky {
		if m.owner == p {
			owned = true
			continue
		}
		kept = append(kept, m)
	}
	if !owned {
		return
	}
	if st.open != nil && !st.open.Empty() {
		category := st.open.Category
		st.close()
		st.openBlock(category)
	}
	st.sticky = kept
}

func (st *segState) markSubtree(p *Node) {
	p.Walk(func(n *Node) { st.visited[n] = struct{}{} })
}

func (st *segState) openBlock(category model.Category) {
	if !category.Valid() {
		category = model.CategoryUnknown
	}
	st.open = &model.Block{
		SittingID: st.sitting.ID,
		Category:  category,
		Timestamp: st.clock,
		Content:   map[model.Lang]string{},
	}
}

var digitsRe = regexp.MustCompile(`\d+`)

// close persists the open block if it has content. Empty blocks are dropped
// without a number; pending labels wait for the next block with content.
func (st *segState) close() {
	b := st.open
	st.open = nil
	if b == nil || b.Empty() {
		return
	}

	for lang, v := range b.Content {
		b.Content[lang] = strings.TrimSpace(v)
	}
	for _, m := range st.sticky {
		b.SetMeta(m.lang, m.key, m.value)
	}
	for lang, kv := range st.pending {
		for k, v := range kv {
			b.SetMeta(lang, k, v)
		}
	}
	st.pending = make(map[model.Lang]map[string]string)

	if b.Category == model.CategoryDivision {
		if n := digitsRe.FindString(b.Meta(st.primary, "Division.DivisionNumber")); n != "" {
			b.VoteRef = st.sitting.VoteRef(n)
		}
	}

	b.Number = len(st.out.Blocks) + 1
	if b.Number > 1 {
		prev := b.Number - 1
		b.Previous = &prev
	}
	st.out.Blocks = append(st.out.Blocks, *b)
}
