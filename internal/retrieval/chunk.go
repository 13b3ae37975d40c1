// ABOUTME: Markdown section chunker built on the goldmark AST.
// ABOUTME: Splits documents at headings and caps chunk size for full-text indexing.

package retrieval

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Chunk is an indexable slice of a document under its nearest heading.
type Chunk struct {
	Heading string
	Body    string
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ChunkMarkdown splits source into chunks of at most maxChars characters.
// A new chunk starts at every heading.
func ChunkMarkdown(source string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = 1500
	}
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var (
		chunks  []Chunk
		heading string
		body    strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(body.String())
		body.Reset()
		for _, piece := range splitRunes(s, maxChars) {
			chunks = append(chunks, Chunk{Heading: heading, Body: piece})
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			heading = strings.TrimSpace(plainText(h, src))
			continue
		}
		block := strings.TrimSpace(blockText(n, src))
		if block == "" {
			continue
		}
		if body.Len() > 0 && utf8.RuneCountInString(body.String())+utf8.RuneCountInString(block) > maxChars {
			flush()
		}
		body.WriteString(block)
		body.WriteString("\n\n")
	}
	flush()

	if len(chunks) == 0 && heading != "" {
		chunks = append(chunks, Chunk{Heading: heading})
	}
	return chunks
}

// blockText returns the raw source of leaf blocks and the text of container blocks.
func blockText(n ast.Node, src []byte) string {
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		var buf bytes.Buffer
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		return buf.String()
	}
	if n.HasChildren() {
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t := strings.TrimSpace(blockText(c, src)); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	}
	return plainText(n, src)
}

func plainText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := child.(*ast.Text); ok {
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() {
					buf.WriteByte(' ')
				}
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func splitRunes(s string, n int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}
	var out []string
	for len(runes) > 0 {
		end := min(n, len(runes))
		out = append(out, strings.TrimSpace(string(runes[:end])))
		runes = runes[end:]
	}
	return out
}
