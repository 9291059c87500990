package document

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a compiled element query. The syntax is a small subset of the
// ElementTree path language:
//
//	overall/dt_diffusion                    child steps
//	.//variable                             descendant step
//	cell_definition[@name='tumor']          attribute equality
//	Dirichlet_boundary_condition[@enabled]  attribute presence
//	variable[3]                             1-based position among matches per parent
//	*                                       any element
//
// A leading "./" is accepted and ignored. Predicates apply left to right.
type Path struct {
	raw   string
	steps []step
}

type step struct {
	descendant bool
	tag        string
	preds      []predicate
}

type predicate struct {
	attr     string
	value    string
	hasValue bool
	position int // 1-based; zero for attribute predicates
}

// CompilePath parses a path expression.
func CompilePath(expr string) (Path, error) {
	p := Path{raw: expr}
	rest := expr
	switch {
	case strings.HasPrefix(rest, ".//"):
		rest = "//" + rest[3:]
	case strings.HasPrefix(rest, "./"):
		rest = rest[2:]
	case rest == ".":
		return p, nil
	}
	for rest != "" {
		descendant := false
		if strings.HasPrefix(rest, "//") {
			descendant = true
			rest = rest[2:]
		} else if strings.HasPrefix(rest, "/") {
			if len(p.steps) == 0 {
				return Path{}, fmt.Errorf("path %q: absolute paths are not supported", expr)
			}
			rest = rest[1:]
		}
		end := stepEnd(rest)
		s, err := parseStep(rest[:end])
		if err != nil {
			return Path{}, fmt.Errorf("path %q: %w", expr, err)
		}
		s.descendant = descendant
		p.steps = append(p.steps, s)
		rest = rest[end:]
	}
	return p, nil
}

// MustCompilePath is CompilePath for expressions known at compile time.
func MustCompilePath(expr string) Path {
	p, err := CompilePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source expression.
func (p Path) String() string { return p.raw }

// stepEnd returns the index of the separator ending the first step, honouring
// quotes inside predicates.
func stepEnd(s string) int {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case c == '/' && depth == 0:
			return i
		}
	}
	return len(s)
}

func parseStep(s string) (step, error) {
	var st step
	open := strings.IndexByte(s, '[')
	if open < 0 {
		st.tag = s
	} else {
		st.tag = s[:open]
	}
	if st.tag == "" {
		return step{}, fmt.Errorf("empty step")
	}
	rest := ""
	if open >= 0 {
		rest = s[open:]
	}
	for rest != "" {
		if rest[0] != '[' {
			return step{}, fmt.Errorf("unexpected %q after predicate", rest)
		}
		closeIdx := predicateEnd(rest)
		if closeIdx < 0 {
			return step{}, fmt.Errorf("unterminated predicate in %q", s)
		}
		pred, err := parsePredicate(rest[1:closeIdx])
		if err != nil {
			return step{}, err
		}
		st.preds = append(st.preds, pred)
		rest = rest[closeIdx+1:]
	}
	return st, nil
}

func predicateEnd(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func parsePredicate(body string) (predicate, error) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "@") {
		n, err := strconv.Atoi(body)
		if err != nil || n < 1 {
			return predicate{}, fmt.Errorf("invalid position %q", body)
		}
		return predicate{position: n}, nil
	}
	body = body[1:]
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		if body == "" {
			return predicate{}, fmt.Errorf("empty attribute predicate")
		}
		return predicate{attr: body}, nil
	}
	name := strings.TrimSpace(body[:eq])
	val := strings.TrimSpace(body[eq+1:])
	if name == "" || len(val) < 2 || (val[0] != '\'' && val[0] != '"') || val[len(val)-1] != val[0] {
		return predicate{}, fmt.Errorf("invalid attribute predicate %q", body)
	}
	return predicate{attr: name, value: val[1 : len(val)-1], hasValue: true}, nil
}

func (s step) matchTag(n *Node) bool {
	return n.Kind == ElementNode && (s.tag == "*" || n.Tag == s.tag)
}

func (p predicate) matchAttr(n *Node) bool {
	v, ok := n.Attr(p.attr)
	if !ok {
		return false
	}
	return !p.hasValue || v == p.value
}

// filter applies the step's predicates to the tag-matching children of one parent.
func (s step) filter(parent *Node) []*Node {
	var cands []*Node
	for _, c := range parent.Children {
		if s.matchTag(c) {
			cands = append(cands, c)
		}
	}
	for _, pred := range s.preds {
		if len(cands) == 0 {
			return nil
		}
		if pred.position > 0 {
			if pred.position > len(cands) {
				return nil
			}
			cands = []*Node{cands[pred.position-1]}
			continue
		}
		kept := cands[:0:0]
		for _, c := range cands {
			if pred.matchAttr(c) {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	return cands
}

func (s step) apply(ctx *Node, out []*Node) []*Node {
	if !s.descendant {
		return append(out, s.filter(ctx)...)
	}
	var walk func(n *Node)
	walk = func(n *Node) {
		out = append(out, s.filter(n)...)
		for _, c := range n.Children {
			if c.Kind == ElementNode {
				walk(c)
			}
		}
	}
	walk(ctx)
	return out
}

// FindAll returns every node matched by p under ctx in document order.
func (p Path) FindAll(ctx *Node) []*Node {
	if ctx == nil {
		return nil
	}
	current := []*Node{ctx}
	for _, s := range p.steps {
		var next []*Node
		seen := make(map[*Node]struct{})
		for _, n := range current {
			for _, m := range s.apply(n, nil) {
				if _, dup := seen[m]; dup {
					continue
				}
				seen[m] = struct{}{}
				next = append(next, m)
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// Find returns the first node matched by p under ctx, or nil.
func (p Path) Find(ctx *Node) *Node {
	if all := p.FindAll(ctx); len(all) > 0 {
		return all[0]
	}
	return nil
}

// Find compiles expr and returns its first match under ctx. An invalid
// expression matches nothing.
func Find(ctx *Node, expr string) *Node {
	p, err := CompilePath(expr)
	if err != nil {
		return nil
	}
	return p.Find(ctx)
}

// FindAll compiles expr and returns all matches under ctx.
func FindAll(ctx *Node, expr string) []*Node {
	p, err := CompilePath(expr)
	if err != nil {
		return nil
	}
	return p.FindAll(ctx)
}

// Ensure resolves expr under ctx and creates any missing child steps. New
// elements take their attributes from the step's equality predicates.
// Descendant, wildcard and positional steps must already exist.
func Ensure(ctx *Node, expr string) (*Node, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ensure %q: nil context", expr)
	}
	p, err := CompilePath(expr)
	if err != nil {
		return nil, err
	}
	cur := ctx
	for _, s := range p.steps {
		if found := s.apply(cur, nil); len(found) > 0 {
			cur = found[0]
			continue
		}
		if s.descendant || s.tag == "*" {
			return nil, fmt.Errorf("ensure %q: cannot create step %q", expr, s.tag)
		}
		n := NewElement(s.tag)
		for _, pred := range s.preds {
			if pred.position > 0 || !pred.hasValue {
				return nil, fmt.Errorf("ensure %q: cannot create step %q from its predicates", expr, s.tag)
			}
			n.SetAttr(pred.attr, pred.value)
		}
		cur.AppendChild(n)
		cur = n
	}
	return cur, nil
}
