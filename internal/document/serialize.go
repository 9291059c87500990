package document

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

const indentUnit = "    "

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#13;")

// Serialize renders the document as indented text. Whitespace is normalised;
// the structure (tags, attribute order, text, comments) round-trips through
// Parse unchanged.
func Serialize(doc *Document) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, doc)
	return buf.Bytes()
}

// Write streams the serialized document to w.
func Write(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for _, n := range doc.Prolog {
		writeNode(bw, n, 0)
	}
	if doc.Root != nil {
		writeNode(bw, doc.Root, 0)
	}
	for _, n := range doc.Epilog {
		writeNode(bw, n, 0)
	}
	return bw.Flush()
}

func writeNode(w *bufio.Writer, n *Node, depth int) {
	indent := strings.Repeat(indentUnit, depth)
	switch n.Kind {
	case CommentNode:
		w.WriteString(indent + "<!--" + n.Text + "-->\n")
		return
	case ProcInstNode:
		w.WriteString(indent + "<?" + n.Tag)
		if n.Text != "" {
			w.WriteString(" " + n.Text)
		}
		w.WriteString("?>\n")
		return
	case DirectiveNode:
		w.WriteString(indent + "<!" + n.Text + ">\n")
		return
	}

	w.WriteString(indent + "<" + n.Tag)
	for _, a := range n.Attrs {
		w.WriteString(" " + a.Name + `="`)
		_ = xml.EscapeText(w, []byte(a.Value))
		w.WriteByte('"')
	}
	switch {
	case len(n.Children) == 0 && n.Text == "":
		w.WriteString(" />\n")
	case len(n.Children) == 0:
		w.WriteString(">" + textEscaper.Replace(n.Text) + "</" + n.Tag + ">\n")
	default:
		w.WriteString(">\n")
		if n.Text != "" {
			w.WriteString(indent + indentUnit + textEscaper.Replace(n.Text) + "\n")
		}
		for _, c := range n.Children {
			writeNode(w, c, depth+1)
		}
		w.WriteString(indent + "</" + n.Tag + ">\n")
	}
}
