package ai

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

type OutlineEntry struct {
	Level int    `json:"level"`
	Title string `json:"title"`
}

// RenderedNotes is generated markdown plus its HTML rendering and heading outline.
type RenderedNotes struct {
	Markdown string         `json:"markdown"`
	HTML     string         `json:"html"`
	Outline  []OutlineEntry `json:"outline"`
}

var notesMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func RenderNotes(markdown string) (*RenderedNotes, error) {
	source := []byte(markdown)
	doc := notesMarkdown.Parser().Parse(text.NewReader(source))

	var outline []OutlineEntry
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title := strings.TrimSpace(extractText(h, source))
			if title != "" {
				outline = append(outline, OutlineEntry{Level: h.Level, Title: title})
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := notesMarkdown.Renderer().Render(&buf, source, doc); err != nil {
		return nil, err
	}
	return &RenderedNotes{Markdown: markdown, HTML: buf.String(), Outline: outline}, nil
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := node.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
