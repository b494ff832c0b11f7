// Package markdown converts generated markdown into the TipTap document JSON
// stored in enhanced_notes.content.
package markdown

import (
	"encoding/json"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Node is a TipTap/ProseMirror node.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// ToDoc parses markdown into a TipTap document.
func ToDoc(src string) Node {
	source := []byte(src)
	root := md.Parser().Parse(text.NewReader(source))
	c := converter{source: source}
	doc := Node{Type: "doc", Content: c.blocks(root)}
	if len(doc.Content) == 0 {
		doc.Content = []Node{{Type: "paragraph"}}
	}
	return doc
}

// ToJSON returns the TipTap document for src as a JSON string.
func ToJSON(src string) (string, error) {
	raw, err := json.Marshal(ToDoc(src))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

type converter struct {
	source []byte
}

func (c converter) blocks(parent ast.Node) []Node {
	var out []Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, c.block(n)...)
	}
	return out
}

func (c converter) block(n ast.Node) []Node {
	switch n := n.(type) {
	case *ast.Heading:
		return []Node{{Type: "heading", Attrs: map[string]any{"level": n.Level}, Content: c.inlines(n, nil)}}
	case *ast.Paragraph, *ast.TextBlock:
		return []Node{{Type: "paragraph", Content: c.inlines(n, nil)}}
	case *ast.List:
		list := Node{Type: "bulletList"}
		if n.IsOrdered() {
			list = Node{Type: "orderedList", Attrs: map[string]any{"start": n.Start}}
		}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			content := c.blocks(item)
			if len(content) == 0 {
				content = []Node{{Type: "paragraph"}}
			}
			list.Content = append(list.Content, Node{Type: "listItem", Content: content})
		}
		return []Node{list}
	case *ast.Blockquote:
		return []Node{{Type: "blockquote", Content: c.blocks(n)}}
	case *ast.FencedCodeBlock:
		node := Node{Type: "codeBlock", Content: c.lines(n)}
		if lang := n.Language(c.source); len(lang) > 0 {
			node.Attrs = map[string]any{"language": string(lang)}
		}
		return []Node{node}
	case *ast.CodeBlock:
		return []Node{{Type: "codeBlock", Content: c.lines(n)}}
	case *ast.ThematicBreak:
		return []Node{{Type: "horizontalRule"}}
	case *ast.HTMLBlock:
		return []Node{{Type: "paragraph", Content: c.lines(n)}}
	default:
		return c.blocks(n)
	}
}

func (c converter) lines(n ast.Node) []Node {
	var b strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(c.source))
	}
	s := strings.TrimRight(b.String(), "\n")
	if s == "" {
		return nil
	}
	return []Node{{Type: "text", Text: s}}
}

func (c converter) inlines(parent ast.Node, marks []Mark) []Node {
	var out []Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = c.inline(out, n, marks)
	}
	return out
}

func (c converter) inline(out []Node, n ast.Node, marks []Mark) []Node {
	switch n := n.(type) {
	case *ast.Text:
		out = appendText(out, string(n.Segment.Value(c.source)), marks)
		if n.HardLineBreak() {
			out = append(out, Node{Type: "hardBreak"})
		} else if n.SoftLineBreak() {
			out = appendText(out, " ", marks)
		}
		return out
	case *ast.String:
		return appendText(out, string(n.Value), marks)
	case *ast.Emphasis:
		m := Mark{Type: "italic"}
		if n.Level >= 2 {
			m = Mark{Type: "bold"}
		}
		return append(out, c.inlines(n, withMark(marks, m))...)
	case *east.Strikethrough:
		return append(out, c.inlines(n, withMark(marks, Mark{Type: "strike"}))...)
	case *ast.CodeSpan:
		var b strings.Builder
		for t := n.FirstChild(); t != nil; t = t.NextSibling() {
			if tn, ok := t.(*ast.Text); ok {
				b.Write(tn.Segment.Value(c.source))
			}
		}
		return appendText(out, b.String(), withMark(marks, Mark{Type: "code"}))
	case *ast.Link:
		link := Mark{Type: "link", Attrs: map[string]any{"href": string(n.Destination)}}
		return append(out, c.inlines(n, withMark(marks, link))...)
	case *ast.AutoLink:
		url := string(n.URL(c.source))
		return appendText(out, url, withMark(marks, Mark{Type: "link", Attrs: map[string]any{"href": url}}))
	case *ast.RawHTML:
		segs := n.Segments
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			out = appendText(out, string(seg.Value(c.source)), marks)
		}
		return out
	default:
		return append(out, c.inlines(n, marks)...)
	}
}

func withMark(marks []Mark, m Mark) []Mark {
	out := make([]Mark, len(marks), len(marks)+1)
	copy(out, marks)
	return append(out, m)
}

// appendText merges s into the previous text node when the marks match.
func appendText(out []Node, s string, marks []Mark) []Node {
	if s == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Type == "text" && sameMarks(out[n-1].Marks, marks) {
		out[n-1].Text += s
		return out
	}
	return append(out, Node{Type: "text", Text: s, Marks: marks})
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].Attrs["href"] != b[i].Attrs["href"] {
			return false
		}
	}
	return true
}

// PlainText flattens a document back to text, one line per block.
func PlainText(doc Node) string {
	var b strings.Builder
	var walk func(n Node)
	walk = func(n Node) {
		if n.Type == "text" {
			b.WriteString(n.Text)
			return
		}
		for _, c := range n.Content {
			walk(c)
		}
		switch n.Type {
		case "heading", "paragraph", "codeBlock":
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}
