package hansard

import "github.com/bradbeattie/api.iscanadafair.ca/internal/model"

// TagKind is the role a tag plays during segmentation.
type TagKind int

const (
	// TagUnknown is any tag outside the vocabulary.
	TagUnknown TagKind = iota
	// TagBoundary closes the open block and opens one of its category.
	TagBoundary
	// TagMetadata labels the enclosing block instead of adding content.
	TagMetadata
	// TagRender contributes content, optionally wrapped in a container.
	TagRender
	// TagSpeaker attributes the open block to a person.
	TagSpeaker
	// TagState updates parse state (floor language, clock).
	TagState
)

func (k TagKind) String() string {
	switch k {
	case TagBoundary:
		return "boundary"
	case TagMetadata:
		return "metadata"
	case TagRender:
		return "render"
	case TagSpeaker:
		return "speaker"
	case TagState:
		return "state"
	default:
		return "unknown"
	}
}

// TagSpec describes how the segmenter treats one tag.
type TagSpec struct {
	Kind TagKind
	// Category is set for boundaries.
	Category model.Category
	// Container is the element render tags wrap their output in; empty
	// means pass-through.
	Container string
	// Floor marks containers that carry the floor language.
	Floor bool
	// Sticky metadata keeps labelling blocks until the element containing
	// it finishes.
	Sticky bool
}

func boundary(c model.Category) TagSpec { return TagSpec{Kind: TagBoundary, Category: c} }
func render(container string) TagSpec { return TagSpec{Kind: TagRender, Container: container} }

var (
	passThrough = TagSpec{Kind: TagRender}
	metadata    = TagSpec{Kind: TagMetadata}
	sticky      = TagSpec{Kind: TagMetadata, Sticky: true}
	speaker     = TagSpec{Kind: TagSpeaker}
	state       = TagSpec{Kind: TagState}
)

// vocabulary is the closed set of tags the House publishes transcripts with.
var vocabulary = map[string]TagSpec{
	// Document roots.
	"Hansard":     boundary(model.CategoryUnknown),
	"HansardBody": boundary(model.CategoryUnknown),

	// Block boundaries.
	"Intro":                   boundary(model.CategoryIntro),
	"Intervention":            boundary(model.CategoryIntervention),
	"Division":                boundary(model.CategoryDivision),
	"WrittenQuestionResponse": boundary(model.CategoryWrittenQuestion),
	"Response":                boundary(model.CategoryWrittenResponse),
	"MemberList":              boundary(model.CategoryMemberList),
	"Committee":               boundary(model.CategoryCommittee),
	"Appendix":                boundary(model.CategoryAppendix),

	// Labels.
	"ExtractedItem":              metadata,
	"CatchLine":                  metadata,
	"DivisionNumber":             metadata,
	"QuestionID":                 metadata,
	"Title":                      metadata,
	"Label":                      metadata,
	"Total":                      metadata,
	"OrderOfBusinessTitle":       sticky,
	"SubjectOfBusinessTitle":     sticky,
	"SubjectOfBusinessQualifier": sticky,

	// Speakers.
	"PersonSpeaking": speaker,
	"Questioner":     speaker,
	"Responder":      speaker,

	// State.
	"FloorLanguage": state,
	"Timestamp":     state,

	// Structural groupings that contribute their children only.
	"ExtractedInformation":     passThrough,
	"OrderOfBusiness":          passThrough,
	"SubjectOfBusiness":        passThrough,
	"SubjectOfBusinessContent": passThrough,
	"Content":                  passThrough,
	"Question":                 passThrough,
	"QuestionContent":          passThrough,
	"ResponseContent":          passThrough,
	"tgroup":                   passThrough,
	"colspec":                  passThrough,

	// Rendering primitives.
	"ParaText":       {Kind: TagRender, Container: "p", Floor: true},
	"ProceduralText": {Kind: TagRender, Container: "p", Floor: true},
	"Prayer":         render("p"),
	"B":              render("b"),
	"I":              render("i"),
	"Sup":            render("sup"),
	"Sub":            render("sub"),
	"Line":           render("span"),
	"Quote":          render("blockquote"),
	"QuotePara":      {Kind: TagRender, Container: "p", Floor: true},
	"List":           render("ul"),
	"Item":           render("li"),
	"Member":         render("li"),
	"Affiliation":    render("li"),
	"DivisionType":   render("section"),
	"Type":           render("h4"),
	"Table":          render("table"),
	"title":          render("caption"),
	"thead":          render("thead"),
	"tbody":          render("tbody"),
	"row":            render("tr"),
	"entry":          render("td"),
}

// LookupTag returns how tag is segmented.
func LookupTag(tag string) (TagSpec, bool) {
	spec, ok := vocabulary[tag]
	return spec, ok
}
