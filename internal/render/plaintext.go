// ABOUTME: Markdown to terminal plain text rendering for chat message bodies
// ABOUTME: Walks the goldmark AST and keeps the readable text, dropping markup and raw HTML

package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// PlainText renders markdown source as plain text suitable for a terminal.
// Emphasis and code markers are removed, links keep their destination in
// parentheses, list items get a bullet or number, and raw HTML tags are
// dropped.
func PlainText(src string) string {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	ensureNewline := func() {
		s := b.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
			return ast.WalkContinue, nil

		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
			return ast.WalkContinue, nil

		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				ensureNewline()
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				ensureNewline()
			}
			return ast.WalkSkipChildren, nil

		case *ast.AutoLink:
			if entering {
				b.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil

		case *ast.Link:
			if !entering {
				dest := string(node.Destination)
				if dest != "" && !strings.HasSuffix(b.String(), dest) {
					fmt.Fprintf(&b, " (%s)", dest)
				}
			}
			return ast.WalkContinue, nil

		case *ast.RawHTML, *ast.HTMLBlock, *ast.ThematicBreak:
			return ast.WalkSkipChildren, nil

		case *ast.ListItem:
			if entering {
				ensureNewline()
				b.WriteString(listMarker(node))
			} else {
				ensureNewline()
			}
			return ast.WalkContinue, nil
		}

		if !entering && n.Type() == ast.TypeBlock {
			ensureNewline()
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

func listMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}
	pos := list.Start
	for sib := item.PreviousSibling(); sib != nil; sib = sib.PreviousSibling() {
		pos++
	}
	return fmt.Sprintf("%d. ", pos)
}

// Preview renders src as a single line of at most max runes, for
// notifications and conversation lists.
func Preview(src string, max int) string {
	line := strings.Join(strings.Fields(PlainText(src)), " ")
	if max <= 0 || utf8.RuneCountInString(line) <= max {
		return line
	}
	if max <= 3 {
		return string([]rune(line)[:max])
	}
	return string([]rune(line)[:max-3]) + "..."
}
