// Package hansard segments a sitting's parallel English and French
// transcripts into ordered, categorized, speaker-attributed blocks.
package hansard

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/fetcher"
)

// Node is one element or text node of a transcript document.
type Node struct {
	// Tag is the element's local name; empty for text nodes.
	Tag      string
	Attrs    map[string]string
	Data     string
	Parent   *Node
	Children []*Node

	// pos is the index among same-tag element siblings, or among text
	// siblings for text nodes.
	pos int
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool { return n.Tag == "" }

// Attr returns the value of the named attribute, or "".
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// Elements returns the element children of n.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if !c.IsText() {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first element child with the given tag.
func (n *Node) Child(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// Find returns the first descendant element (depth first) with the given tag.
func (n *Node) Find(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
		if f := c.Find(tag); f != nil {
			return f
		}
	}
	return nil
}

// Walk calls fn for n and every descendant in document order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

var spaceRe = regexp.MustCompile(`\s+`)

// InnerText returns the concatenated descendant text with whitespace runs
// collapsed and trimmed.
func (n *Node) InnerText() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.Walk(func(d *Node) {
		if d.IsText() {
			b.WriteString(d.Data)
		}
	})
	return strings.TrimSpace(spaceRe.ReplaceAllString(b.String(), " "))
}

// Path locates n for error reports, e.g. /Hansard/HansardBody/Intervention[3].
func (n *Node) Path() string {
	if n == nil {
		return ""
	}
	var parts []string
	for c := n; c != nil; c = c.Parent {
		switch {
		case c.IsText():
			parts = append(parts, fmt.Sprintf("text()[%d]", c.pos+1))
		case c.Parent == nil:
			parts = append(parts, c.Tag)
		default:
			parts = append(parts, fmt.Sprintf("%s[%d]", c.Tag, c.pos+1))
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// ParseDocument reads a whole transcript into a tree. Whitespace-only text is
// dropped from elements without any other text (element-only content), so
// indentation never shifts text positions between the two editions.
func ParseDocument(r io.Reader) (*Node, error) {
	dec := fetcher.NewXMLDecoder(r)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var root, cur *Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "hansard: parse document")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Tag: t.Name.Local, Parent: cur}
			if len(t.Attr) > 0 {
				n.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.Attrs[a.Name.Local] = a.Value
				}
			}
			if cur == nil {
				if root != nil {
					return nil, eris.New("hansard: parse document: multiple root elements")
				}
				root = n
			} else {
				cur.Children = append(cur.Children, n)
			}
			cur = n
		case xml.EndElement:
			if cur == nil {
				return nil, eris.New("hansard: parse document: unbalanced end element")
			}
			finishElement(cur)
			cur = cur.Parent
		case xml.CharData:
			if cur == nil {
				continue
			}
			text := string(t)
			if last := lastChild(cur); last != nil && last.IsText() {
				last.Data += text
				continue
			}
			cur.Children = append(cur.Children, &Node{Data: text, Parent: cur})
		}
	}
	if root == nil {
		return nil, eris.New("hansard: parse document: no root element")
	}
	if cur != nil {
		return nil, eris.Errorf("hansard: parse document: unclosed element %s", cur.Path())
	}
	return root, nil
}

func lastChild(n *Node) *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

// finishElement drops indentation-only text from element-only content and
// assigns sibling positions.
func finishElement(n *Node) {
	mixed := false
	for _, c := range n.Children {
		if c.IsText() && strings.TrimSpace(c.Data) != "" {
			mixed = true
			break
		}
	}
	if !mixed {
		kept := n.Children[:0]
		for _, c := range n.Children {
			if !c.IsText() {
				kept = append(kept, c)
			}
		}
		n.Children = kept
	}

	seen := make(map[string]int)
	for _, c := range n.Children {
		c.pos = seen[c.Tag]
		seen[c.Tag]++
	}
}
