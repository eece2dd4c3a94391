package document

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Truncate cuts markdown down to at most maxChars characters without ever
// ending on a partial construct. Whole top-level blocks are kept while they
// fit; an overflowing table is cut at a body-row boundary so the header and
// separator stay paired with at least one complete row.
func Truncate(markdown string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(markdown) <= maxChars {
		return markdown, false
	}
	src := []byte(markdown)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	cut := 0
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		end := blockEnd(node, src)
		if end <= maxChars {
			cut = end
			continue
		}
		if table, ok := node.(*east.Table); ok {
			if rowCut := tableRowCut(table, src, maxChars); rowCut > cut {
				cut = rowCut
			}
		}
		break
	}
	if cut == 0 {
		cut = fallbackCut(markdown, maxChars)
	}
	return strings.TrimRight(markdown[:cut], "\n"), true
}

// tableRowCut returns the end offset of the last body row that fits, or 0
// when not even the first row does.
func tableRowCut(table *east.Table, src []byte, maxChars int) int {
	cut := 0
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		if _, ok := row.(*east.TableRow); !ok {
			continue
		}
		end := blockEnd(row, src)
		if end > maxChars {
			break
		}
		cut = end
	}
	return cut
}

// blockEnd finds the last source offset covered by the node, extended to the
// end of its line.
func blockEnd(n ast.Node, src []byte) int {
	end := 0
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Type() == ast.TypeBlock {
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				if stop := lines.At(i).Stop; stop > end {
					end = stop
				}
			}
		}
		if t, ok := node.(*ast.Text); ok {
			if t.Segment.Stop > end {
				end = t.Segment.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	for end < len(src) && src[end] != '\n' {
		end++
	}
	return end
}

func fallbackCut(markdown string, maxChars int) int {
	if idx := strings.LastIndexByte(markdown[:maxChars], '\n'); idx > 0 {
		return idx
	}
	// A single unbroken line: a table row must not be cut mid-cell, prose
	// tolerates a hard cut.
	if strings.HasPrefix(strings.TrimSpace(markdown), "|") {
		return 0
	}
	return maxChars
}
