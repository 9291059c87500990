// Package document implements the in-memory tree for configuration documents.
// Trees are mutated in place; Clone gives callers an independent copy when
// they need one.
package document

// NodeKind distinguishes element nodes from the markup that may surround them.
type NodeKind int

const (
	ElementNode NodeKind = iota
	CommentNode
	ProcInstNode
	DirectiveNode
)

// Attr is a single attribute. Attributes keep document order.
type Attr struct {
	Name  string
	Value string
}

// Node is one entry of a document tree. For element nodes Tag holds the
// (possibly prefixed) element name and Text the trimmed character data. For
// comments and directives Text holds the raw content; for processing
// instructions Tag is the target and Text the instruction.
type Node struct {
	Kind     NodeKind
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
}

// NewElement returns an element node with the given tag and attribute pairs.
func NewElement(tag string, attrs ...Attr) *Node {
	n := &Node{Kind: ElementNode, Tag: tag}
	if len(attrs) > 0 {
		n.Attrs = append([]Attr(nil), attrs...)
	}
	return n
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or def when absent.
func (n *Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// SetAttr replaces an existing attribute in place or appends a new one.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// RemoveAttr deletes the named attribute and reports whether it was present.
func (n *Node) RemoveAttr(name string) bool {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return true
		}
	}
	return false
}

// Elements returns the element children, skipping comments and other markup.
func (n *Node) Elements() []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Kind == ElementNode {
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
		if c.Kind == ElementNode && c.Tag == tag {
			return c
		}
	}
	return nil
}

// AppendChild adds child as the last child of n.
func (n *Node) AppendChild(child *Node) {
	n.Children = append(n.Children, child)
}

// InsertAfter places child directly after ref. When ref is not a child of n,
// child is appended.
func (n *Node) InsertAfter(ref, child *Node) {
	idx := n.IndexOf(ref)
	if idx < 0 {
		n.AppendChild(child)
		return
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[idx+2:], n.Children[idx+1:])
	n.Children[idx+1] = child
}

// IndexOf returns the position of child among n's children or -1.
func (n *Node) IndexOf(child *Node) int {
	if n == nil || child == nil {
		return -1
	}
	for i, c := range n.Children {
		if c == child {
			return i
		}
	}
	return -1
}

// RemoveChild detaches child from n and reports whether it was found.
func (n *Node) RemoveChild(child *Node) bool {
	idx := n.IndexOf(child)
	if idx < 0 {
		return false
	}
	n.Children = append(n.Children[:idx], n.Children[idx+1:]...)
	return true
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{Kind: n.Kind, Tag: n.Tag, Text: n.Text}
	if len(n.Attrs) > 0 {
		cp.Attrs = append([]Attr(nil), n.Attrs...)
	}
	if len(n.Children) > 0 {
		cp.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Clone()
		}
	}
	return cp
}

// Document is a parsed configuration document: exactly one root element plus
// whatever comments and processing instructions surround it.
type Document struct {
	Prolog []*Node
	Root   *Node
	Epilog []*Node
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	cp := &Document{Root: d.Root.Clone()}
	for _, n := range d.Prolog {
		cp.Prolog = append(cp.Prolog, n.Clone())
	}
	for _, n := range d.Epilog {
		cp.Epilog = append(cp.Epilog, n.Clone())
	}
	return cp
}

// Find resolves path relative to the root element. See Path for the syntax.
func (d *Document) Find(path string) *Node {
	if d == nil {
		return nil
	}
	return Find(d.Root, path)
}

// FindAll resolves every match of path relative to the root element.
func (d *Document) FindAll(path string) []*Node {
	if d == nil {
		return nil
	}
	return FindAll(d.Root, path)
}

// Ensure resolves path relative to the root element, creating missing steps.
func (d *Document) Ensure(path string) (*Node, error) {
	return Ensure(d.Root, path)
}
