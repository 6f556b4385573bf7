package hansard

import "go.uber.org/zap"

// idAttrs are the attributes stable enough across the two language editions
// to locate a node when structural paths disagree.
var idAttrs = []string{"id", "DbId"}

// Aligner finds, for nodes of the primary-language tree, the structurally
// corresponding nodes of the secondary-language tree.
type Aligner struct {
	root *Node
	// byID maps tag+attribute+value to the single secondary node carrying
	// it. Values carried by several nodes are dropped.
	byID map[string]*Node
}

// NewAligner indexes the secondary tree. A nil root aligns nothing.
func NewAligner(secondaryRoot *Node) *Aligner {
	a := &Aligner{root: secondaryRoot, byID: make(map[string]*Node)}
	if secondaryRoot == nil {
		return a
	}
	dup := make(map[string]bool)
	secondaryRoot.Walk(func(n *Node) {
		for _, key := range idKeys(n) {
			if _, ok := a.byID[key]; ok {
				dup[key] = true
				continue
			}
			a.byID[key] = n
		}
	})
	for key := range dup {
		delete(a.byID, key)
	}
	return a
}

func idKeys(n *Node) []string {
	if n.IsText() {
		return nil
	}
	var keys []string
	for _, attr := range idAttrs {
		if v := n.Attrs[attr]; v != "" {
			keys = append(keys, n.Tag+"\x00"+attr+"\x00"+v)
		}
	}
	return keys
}

// Align returns the secondary node at the same path from the root as
// primary, else the one sharing its identifier, else nil.
func (a *Aligner) Align(primary *Node) *Node {
	if a.root == nil || primary == nil {
		return nil
	}
	if primary.Parent == nil {
		if a.root.Tag == primary.Tag {
			return a.root
		}
		return a.byIdentifier(primary)
	}
	return a.Child(a.Align(primary.Parent), primary)
}

// Child returns the child of secondaryParent corresponding to primaryChild,
// matching by tag and position among same-tag siblings, with the identifier
// index as fallback.
func (a *Aligner) Child(secondaryParent, primaryChild *Node) *Node {
	if primaryChild == nil {
		return nil
	}
	if secondaryParent != nil {
		i := 0
		for _, c := range secondaryParent.Children {
			if c.Tag != primaryChild.Tag {
				continue
			}
			if i == primaryChild.pos {
				// A positional match with a conflicting identifier is a
				// different node (e.g. reordered member lists).
				if sameIdentity(primaryChild, c) {
					return c
				}
				break
			}
			i++
		}
	}
	if n := a.byIdentifier(primaryChild); n != nil {
		return n
	}
	if !primaryChild.IsText() {
		zap.L().Debug("hansard: alignment miss", zap.String("path", primaryChild.Path()))
	}
	return nil
}

func (a *Aligner) byIdentifier(primary *Node) *Node {
	for _, key := range idKeys(primary) {
		if n, ok := a.byID[key]; ok {
			return n
		}
	}
	return nil
}

// sameIdentity reports whether two nodes do not contradict each other on any
// identifier attribute they both carry.
func sameIdentity(p, s *Node) bool {
	for _, attr := range idAttrs {
		pv, sv := p.Attr(attr), s.Attr(attr)
		if pv != "" && sv != "" && pv != sv {
			return false
		}
	}
	return true
}
