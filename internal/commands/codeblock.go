package commands

import (
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is command text with any Markdown code fencing removed.
type CodeBlock struct {
	Language string
	Content  string
}

// ParseCodeBlock unwraps a fenced block (```lang ... ```) or a single inline
// code span. Anything else is returned trimmed, unchanged.
func ParseCodeBlock(input string) CodeBlock {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "`") {
		return CodeBlock{Content: trimmed}
	}

	source := []byte(trimmed)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	only := doc.FirstChild()
	if only == nil || only.NextSibling() != nil {
		return CodeBlock{Content: trimmed}
	}

	switch node := only.(type) {
	case *gast.FencedCodeBlock:
		var b strings.Builder
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			b.Write(segment.Value(source))
		}
		return CodeBlock{
			Language: string(node.Language(source)),
			Content:  strings.TrimRight(b.String(), "\n"),
		}
	case *gast.Paragraph:
		span, ok := node.FirstChild().(*gast.CodeSpan)
		if !ok || span.NextSibling() != nil {
			return CodeBlock{Content: trimmed}
		}
		return CodeBlock{Content: strings.TrimSpace(codeSpanText(source, span))}
	default:
		return CodeBlock{Content: trimmed}
	}
}

func codeSpanText(source []byte, span *gast.CodeSpan) string {
	var b strings.Builder
	for child := span.FirstChild(); child != nil; child = child.NextSibling() {
		if textNode, ok := child.(*gast.Text); ok {
			b.Write(textNode.Segment.Value(source))
		}
	}
	return b.String()
}
