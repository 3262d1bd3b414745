package citation

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// block is one gate unit: a top-level markdown block or a list item, with
// its byte span in the source.
type block struct {
	start     int
	stop      int
	text      string
	heading   bool
	hasMarker bool
}

// applyGroundingGate removes substantive prose that carries no citation
// marker. It works on goldmark block structure: whole uncited
// paragraphs/bullets above the size thresholds go, unless they are headings
// or sit next to a cited block they plausibly introduce. Inside cited
// blocks, uncited trailing sentences are pruned as well. Marker-bearing
// text is never removed, so the citation bijection is unaffected.
func (v *Validator) applyGroundingGate(input string) string {
	source := []byte(input)
	doc := goldmark.New().Parser().Parse(gtext.NewReader(source))

	var blocks []block
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if list, ok := node.(*ast.List); ok {
			for item := list.FirstChild(); item != nil; item = item.NextSibling() {
				blocks = appendBlock(blocks, item, source, false)
			}
			continue
		}
		_, heading := node.(*ast.Heading)
		blocks = appendBlock(blocks, node, source, heading)
	}
	if len(blocks) == 0 {
		return input
	}

	// nil replacement keeps the block verbatim; empty removes it.
	replacements := make([]*string, len(blocks))
	changed := false
	for i, b := range blocks {
		if b.heading {
			continue
		}
		if b.hasMarker {
			pruned := v.pruneUncitedTail(b.text)
			if pruned != b.text {
				replacements[i] = &pruned
				changed = true
			}
			continue
		}
		if len(b.text) < v.cfg.GateMinChars || len(strings.Fields(b.text)) < v.cfg.GateMinWords {
			continue
		}
		// An uncited block immediately before or after a cited one is
		// treated as supporting structure and kept.
		if (i > 0 && blocks[i-1].hasMarker) || (i+1 < len(blocks) && blocks[i+1].hasMarker) {
			continue
		}
		empty := ""
		replacements[i] = &empty
		changed = true
	}
	if !changed {
		return input
	}

	var out strings.Builder
	prev := 0
	for i, b := range blocks {
		if replacements[i] == nil {
			continue
		}
		if b.start > prev {
			out.Write(source[prev:b.start])
		}
		out.WriteString(*replacements[i])
		prev = b.stop
	}
	out.Write(source[prev:])

	return strings.TrimSpace(blankRuns.ReplaceAllString(out.String(), "\n\n"))
}

// appendBlock records a node's byte span by unioning the line segments of
// its subtree. Nodes without source lines (thematic breaks and the like)
// are skipped.
func appendBlock(blocks []block, node ast.Node, source []byte, heading bool) []block {
	start, stop := -1, -1
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		// Lines is only defined for block nodes; goldmark panics when it
		// is called on inline ones.
		if n.Type() != ast.TypeBlock {
			return ast.WalkSkipChildren, nil
		}
		lines := n.Lines()
		if lines == nil {
			return ast.WalkContinue, nil
		}
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			if start == -1 || segment.Start < start {
				start = segment.Start
			}
			if segment.Stop > stop {
				stop = segment.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	if start == -1 {
		return blocks
	}

	text := string(source[start:stop])
	return append(blocks, block{
		start:     start,
		stop:      stop,
		text:      text,
		heading:   heading,
		hasMarker: containsMarker(text),
	})
}

// pruneUncitedTail removes substantive uncited sentences that follow the
// last cited sentence of a block. Sentences before the first marker stay;
// they are the context the citation supports.
func (v *Validator) pruneUncitedTail(text string) string {
	sentences := splitSentences(text)

	lastCited := -1
	for i, s := range sentences {
		if containsMarker(s) {
			lastCited = i
		}
	}
	if lastCited == -1 {
		return text
	}

	var kept []string
	for i, s := range sentences {
		if i > lastCited && len(strings.Fields(s)) >= v.cfg.GateMinSentenceWords && !containsMarker(s) {
			continue
		}
		kept = append(kept, s)
	}

	return strings.TrimRight(strings.Join(kept, ""), " ")
}

// splitSentences breaks text after sentence-ending punctuation followed by
// whitespace. Abbreviation-free heuristic; good enough for gate decisions.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '.' && text[i] != '!' && text[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\n' || text[j] == '\t') {
			j++
		}
		if j == i+1 {
			continue
		}
		out = append(out, text[start:j])
		start = j
		i = j - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
