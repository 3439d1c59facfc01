package markdown

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Converter renders markdown documents to plain text suitable for chunking and embedding.
// Markup is dropped; headings, paragraphs, list items, table rows and code blocks survive as text.
type Converter struct {
	md goldmark.Markdown
}

// NewConverter creates a Converter with GitHub-flavored markdown extensions enabled.
func NewConverter() *Converter {
	return &Converter{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// PlainText converts markdown source to plain text. Blocks are separated by a blank line so
// the chunker can use them as paragraph boundaries.
func (c *Converter) PlainText(source []byte) string {
	doc := c.md.Parser().Parse(text.NewReader(source))
	return strings.Join(blocks(doc, source), "\n\n")
}

// blocks renders each block-level child of n.
func blocks(n ast.Node, source []byte) []string {
	var out []string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch v := child.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.TextBlock:
			if s := strings.TrimSpace(inline(child, source)); s != "" {
				out = append(out, s)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if s := strings.TrimRight(rawLines(child, source), "\n"); s != "" {
				out = append(out, s)
			}
		case *ast.List:
			var items []string
			for item := v.FirstChild(); item != nil; item = item.NextSibling() {
				if parts := blocks(item, source); len(parts) > 0 {
					items = append(items, "- "+strings.Join(parts, " "))
				}
			}
			if len(items) > 0 {
				out = append(out, strings.Join(items, "\n"))
			}
		case *east.Table:
			if s := table(v, source); s != "" {
				out = append(out, s)
			}
		case *ast.ThematicBreak, *ast.HTMLBlock:
			// No textual content.
		default:
			out = append(out, blocks(child, source)...)
		}
	}
	return out
}

// inline concatenates the text of inline descendants. Soft line breaks become spaces.
func inline(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	writeInline(&buf, n, source)
	return buf.String()
}

func writeInline(buf *bytes.Buffer, n ast.Node, source []byte) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch v := child.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(source))
			switch {
			case v.HardLineBreak():
				buf.WriteByte('\n')
			case v.SoftLineBreak():
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		case *ast.AutoLink:
			buf.Write(v.Label(source))
		case *ast.RawHTML:
			// Inline HTML carries no readable text.
		default:
			writeInline(buf, child, source)
		}
	}
}

func rawLines(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// table renders one line per row with cells separated by " | ".
func table(t *east.Table, source []byte) string {
	var rows []string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(inline(cell, source)))
		}
		if strings.TrimSpace(strings.Join(cells, "")) != "" {
			rows = append(rows, strings.Join(cells, " | "))
		}
	}
	return strings.Join(rows, "\n")
}
