package hansard

import (
	"html"
	"strings"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/model"
)

// fragment is rendered content per language.
type fragment map[model.Lang]*strings.Builder

func (f fragment) write(lang model.Lang, s string) {
	if s == "" {
		return
	}
	b := f[lang]
	if b == nil {
		b = &strings.Builder{}
		f[lang] = b
	}
	b.WriteString(s)
}

func (f fragment) text(lang model.Lang) string {
	if b := f[lang]; b != nil {
		return b.String()
	}
	return ""
}

// renderText escapes a text node and collapses its whitespace, keeping a
// single leading or trailing space so inline neighbours stay separated.
func renderText(s string) string {
	return html.EscapeString(spaceRe.ReplaceAllString(s, " "))
}

// wrap encloses inner in container. Floor-language containers record the
// language the passage was spoken in.
func wrap(container string, floor model.Lang, inner string) string {
	if container == "" {
		return inner
	}
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(container)
	if floor != "" {
		b.WriteString(` data-floor="`)
		b.WriteString(strings.ToLower(string(floor)))
		b.WriteString(`"`)
	}
	b.WriteString(">")
	b.WriteString(strings.TrimSpace(inner))
	b.WriteString("</")
	b.WriteString(container)
	b.WriteString(">")
	return b.String()
}
