package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"studiocore/pkg/domain"
)

// Parse builds a document tree from text. It either returns a complete tree
// or a domain.ParseError; no partially populated document escapes.
func Parse(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	doc := &Document{}
	var stack []*Node
	var text []*strings.Builder

	fail := func(msg string) (*Document, error) {
		line, _ := dec.InputPos()
		return nil, domain.ParseError{Line: line, Msg: msg}
	}

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var syn *xml.SyntaxError
			if errors.As(err, &syn) {
				return nil, domain.ParseError{Line: syn.Line, Msg: syn.Msg}
			}
			return fail(err.Error())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 && doc.Root != nil {
				return fail(fmt.Sprintf("unexpected second root element <%s>", qualified(t.Name)))
			}
			n := &Node{Kind: ElementNode, Tag: qualified(t.Name)}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: qualified(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				doc.Root = n
			} else {
				stack[len(stack)-1].AppendChild(n)
			}
			stack = append(stack, n)
			text = append(text, &strings.Builder{})
		case xml.EndElement:
			if len(stack) == 0 {
				return fail(fmt.Sprintf("unexpected end element </%s>", qualified(t.Name)))
			}
			top := stack[len(stack)-1]
			if name := qualified(t.Name); name != top.Tag {
				return fail(fmt.Sprintf("element <%s> closed by </%s>", top.Tag, name))
			}
			top.Text = strings.TrimSpace(text[len(text)-1].String())
			stack = stack[:len(stack)-1]
			text = text[:len(text)-1]
		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return fail("character data outside root element")
				}
				continue
			}
			text[len(text)-1].Write(t)
		case xml.Comment:
			appendMarkup(doc, stack, &Node{Kind: CommentNode, Text: string(t)})
		case xml.ProcInst:
			appendMarkup(doc, stack, &Node{Kind: ProcInstNode, Tag: t.Target, Text: string(t.Inst)})
		case xml.Directive:
			appendMarkup(doc, stack, &Node{Kind: DirectiveNode, Text: string(t)})
		}
	}

	if len(stack) > 0 {
		return fail(fmt.Sprintf("unclosed element <%s>", stack[len(stack)-1].Tag))
	}
	if doc.Root == nil {
		return fail("no root element")
	}
	return doc, nil
}

func appendMarkup(doc *Document, stack []*Node, n *Node) {
	switch {
	case len(stack) > 0:
		stack[len(stack)-1].AppendChild(n)
	case doc.Root == nil:
		doc.Prolog = append(doc.Prolog, n)
	default:
		doc.Epilog = append(doc.Epilog, n)
	}
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}
