package ingest

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// minSectionSize is the smallest markdown chunk kept on its own, in runes.
const minSectionSize = 50

// MarkdownChunker chunks markdown along its heading hierarchy.
type MarkdownChunker struct {
	parser goldmark.Markdown
}

// NewMarkdownChunker creates a markdown chunker.
func NewMarkdownChunker() *MarkdownChunker {
	return &MarkdownChunker{
		parser: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// Chunk parses markdown and returns the document title plus heading-scoped
// chunks. Sections larger than the chunk size are split at natural breaks;
// tiny sections are merged into their successor.
func (c *MarkdownChunker) Chunk(content []byte, filename string) (string, []Chunk) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return titleFromFilename(filename), nil
	}

	doc := c.parser.Parser().Parse(text.NewReader(content))
	title := documentTitle(doc, content, filename)
	sections := collectSections(doc, content, title)
	return title, sizeSections(sections)
}

// section is a heading plus the raw source text under it.
type section struct {
	headingPath string
	text        string
}

func collectSections(doc ast.Node, content []byte, title string) []section {
	var sections []section
	var stack []headingLevel
	current := -1

	flush := func(path string) {
		sections = append(sections, section{headingPath: path})
		current = len(sections) - 1
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			for len(stack) > 0 && stack[len(stack)-1].level >= heading.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingLevel{level: heading.Level, text: nodeText(heading, content)})
			flush(headingPath(stack))
			continue
		}

		if current == -1 {
			// Content before the first heading belongs to the title.
			flush("# " + title)
		}
		raw := rawText(node, content)
		if raw == "" {
			continue
		}
		if sections[current].text != "" {
			sections[current].text += "\n\n"
		}
		sections[current].text += raw
	}

	// Drop heading-only sections with nothing under them.
	kept := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s.text) != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

type headingLevel struct {
	level int
	text  string
}

// headingPath renders the heading stack as "# A > ## B".
func headingPath(stack []headingLevel) string {
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = strings.Repeat("#", h.level) + " " + h.text
	}
	return strings.Join(parts, " > ")
}

// sizeSections merges undersized sections forward and splits oversized ones.
func sizeSections(sections []section) []Chunk {
	var chunks []Chunk
	for i := 0; i < len(sections); i++ {
		s := sections[i]
		for utf8.RuneCountInString(s.text) < minSectionSize && i+1 < len(sections) {
			next := sections[i+1]
			merged := s.text + "\n\n" + next.text
			if utf8.RuneCountInString(merged) > chunkSize {
				break
			}
			s.text = merged
			i++
		}

		for _, piece := range splitText(s.text) {
			chunks = append(chunks, Chunk{
				Index:       len(chunks),
				HeadingPath: s.headingPath,
				Text:        piece,
			})
		}
	}
	return chunks
}

// splitText cuts text into chunk-sized pieces with overlap, preferring
// natural breaks.
func splitText(s string) []string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= chunkSize {
		return []string{string(runes)}
	}

	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			pieces = append(pieces, strings.TrimSpace(string(runes[start:])))
			break
		}
		end = adjustBoundary(runes, start, end)
		pieces = append(pieces, strings.TrimSpace(string(runes[start:end])))
		next := end - chunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return pieces
}

// documentTitle picks the first H1, else the first H2, else the filename.
func documentTitle(doc ast.Node, content []byte, filename string) string {
	var h2 string
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok {
			continue
		}
		if heading.Level == 1 {
			return nodeText(heading, content)
		}
		if heading.Level == 2 && h2 == "" {
			h2 = nodeText(heading, content)
		}
	}
	if h2 != "" {
		return h2
	}
	return titleFromFilename(filename)
}

func titleFromFilename(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)

	words := strings.Fields(name)
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// nodeText extracts the rendered text of an inline container.
func nodeText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// rawText returns the source text a block node spans, including nested
// children (list items, table rows).
func rawText(n ast.Node, content []byte) string {
	lo, hi := -1, -1
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			if lo == -1 || seg.Start < lo {
				lo = seg.Start
			}
			if seg.Stop > hi {
				hi = seg.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	if lo == -1 {
		return ""
	}
	return strings.TrimSpace(string(content[lo:hi]))
}
