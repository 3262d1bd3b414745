package citation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/retrieval"
)

// Strictness selects the confidence threshold a citation must clear.
type Strictness string

const (
	StrictnessNormal Strictness = "normal"
	StrictnessStrict Strictness = "strict"
)

// GroundingFailureMessage replaces the entire answer when no citation
// survives validation. An answer is never shown as cited when it is not.
const GroundingFailureMessage = "I could not find enough support in the provided documents to answer this question. Try rephrasing it, or add documents that cover the topic."

// abstentionPhrases mark drafts that already declare insufficient evidence;
// those are passed through instead of being replaced.
var abstentionPhrases = []string{
	"could not find enough support",
	"cannot answer",
	"can't answer",
	"insufficient evidence",
	"not enough information",
	"do not contain",
	"don't contain",
}

// Citation is one accepted, renumbered reference. It is created once per
// accepted marker group and never mutated afterwards.
type Citation struct {
	SourceIndex   int
	DocumentID    string
	DocumentTitle string
	Pages         []int
	Excerpt       string
	ChunkIDs      []string
	Confidence    float64
}

// Result is the validator output: the rewritten answer and its reference
// list, plus non-fatal warnings for logging.
type Result struct {
	Text      string
	Citations []Citation
	// Evidence holds the cited source items in citation order. Once the
	// answer is renumbered, this list is the authority marker [i] refers
	// to; validating Text against it reproduces this same result.
	Evidence *retrieval.EvidenceList
	Warnings []string
}

// Config holds the validator tunables.
type Config struct {
	// NormalThreshold and StrictThreshold are the minimum confidences per
	// strictness mode.
	NormalThreshold float64
	StrictThreshold float64
	// RemapMargin is how much better another evidence item must score to
	// steal a failing citation.
	RemapMargin float64
	// MinContextSpan is the shortest span treated as standalone context;
	// shorter spans merge into the prior context.
	MinContextSpan int
	// GateMinChars and GateMinWords mark a block as substantive enough
	// that it must carry a citation to survive.
	GateMinChars int
	GateMinWords int
	// GateMinSentenceWords marks an uncited trailing sentence inside a
	// cited block as substantive enough to prune.
	GateMinSentenceWords int
	// ExcerptLength bounds the stored citation excerpt.
	ExcerptLength int

	Match MatchConfig
}

// DefaultConfig returns the standard validator tunables.
func DefaultConfig() Config {
	return Config{
		NormalThreshold:      0.2,
		StrictThreshold:      0.35,
		RemapMargin:          0.15,
		MinContextSpan:       10,
		GateMinChars:         120,
		GateMinWords:         18,
		GateMinSentenceWords: 5,
		ExcerptLength:        240,
		Match:                DefaultMatchConfig(),
	}
}

// Validator checks a draft answer against its evidence list. It is
// stateless apart from configuration and safe for concurrent use.
type Validator struct {
	cfg Config
}

// NewValidator creates a validator.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// acceptance records one accepted citation occurrence: which evidence index
// it finally maps to (possibly remapped) and at what confidence.
type acceptance struct {
	evidenceIndex int
	confidence    float64
}

// Validate parses, verifies, renumbers, and gates the draft. The returned
// text and citations always satisfy the marker/reference bijection; when no
// citation survives, the answer is replaced with GroundingFailureMessage.
// Renumbering permutes the index space, so re-validation must use the
// returned Evidence, not the original list; against it, Validate is
// idempotent.
func (v *Validator) Validate(ctx context.Context, draft string, evidence *retrieval.EvidenceList, strictness Strictness) Result {
	logger := contextutil.LoggerFromContext(ctx)
	threshold := v.cfg.NormalThreshold
	if strictness == StrictnessStrict {
		threshold = v.cfg.StrictThreshold
	}

	var warnings []string
	groups := parseMarkers(draft)
	contexts := v.contextSpans(draft, groups)

	// Verify every parsed index against its claimed source; remap likely
	// mis-citations before rejecting.
	acceptedPerGroup := make([][]acceptance, len(groups))
	for gi, group := range groups {
		for _, index := range group.indices {
			item, ok := evidence.At(index)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("citation [%d] out of range 1..%d, dropped", index, evidence.Len()))
				continue
			}

			conf := MatchConfidence(contexts[gi], item.Chunk.Content, v.cfg.Match)
			if conf >= threshold {
				acceptedPerGroup[gi] = append(acceptedPerGroup[gi], acceptance{evidenceIndex: index, confidence: conf})
				continue
			}

			if remapped, remapConf, ok := v.remap(contexts[gi], evidence, index, conf, threshold); ok {
				warnings = append(warnings, fmt.Sprintf("citation [%d] remapped to [%d] (%.2f -> %.2f)", index, remapped, conf, remapConf))
				acceptedPerGroup[gi] = append(acceptedPerGroup[gi], acceptance{evidenceIndex: remapped, confidence: remapConf})
				continue
			}

			warnings = append(warnings, fmt.Sprintf("citation [%d] below confidence threshold (%.2f < %.2f), dropped", index, conf, threshold))
		}
	}

	// Dense renumbering in order of first appearance.
	renumber := make(map[int]int)
	bestConf := make(map[int]float64)
	for _, accs := range acceptedPerGroup {
		for _, acc := range accs {
			if _, seen := renumber[acc.evidenceIndex]; !seen {
				renumber[acc.evidenceIndex] = len(renumber) + 1
			}
			if acc.confidence > bestConf[acc.evidenceIndex] {
				bestConf[acc.evidenceIndex] = acc.confidence
			}
		}
	}

	text := rewriteMarkers(draft, groups, acceptedPerGroup, renumber)
	text = v.applyGroundingGate(text)

	// The gate never removes a marker-bearing block, but a final
	// consistency sweep keeps the bijection honest regardless.
	text, kept := v.consistencyPass(text, len(renumber))

	if len(kept) == 0 {
		if isAbstention(draft) {
			return Result{Text: strings.TrimSpace(draft), Warnings: warnings}
		}
		logger.WarnContext(ctx, "no citations survived validation, failing closed", "parsed_groups", len(groups))
		return Result{Text: GroundingFailureMessage, Warnings: warnings}
	}

	citations := v.buildCitations(evidence, renumber, bestConf)
	final := make([]Citation, len(kept))
	for old, fin := range kept {
		c := citations[old-1]
		c.SourceIndex = fin
		final[fin-1] = c
	}
	cited := make([]retrieval.SearchResult, len(kept))
	for original, old := range renumber {
		fin, ok := kept[old]
		if !ok {
			continue
		}
		item, _ := evidence.At(original)
		cited[fin-1] = item
	}
	return Result{Text: text, Citations: final, Evidence: retrieval.NewEvidenceList(cited), Warnings: warnings}
}

// contextSpans assigns each group the draft text since the previous group.
// Spans too short to score merge into the prior context instead of standing
// alone.
func (v *Validator) contextSpans(draft string, groups []markerGroup) []string {
	contexts := make([]string, len(groups))
	prevEnd := 0
	for i, group := range groups {
		span := draft[prevEnd:group.start]
		prevEnd = group.end
		if len(strings.TrimSpace(span)) < v.cfg.MinContextSpan && i > 0 {
			contexts[i] = contexts[i-1] + span
			continue
		}
		contexts[i] = span
	}
	return contexts
}

// remap looks for another evidence item that fits the context markedly
// better than the claimed one.
func (v *Validator) remap(context string, evidence *retrieval.EvidenceList, original int, originalConf, threshold float64) (int, float64, bool) {
	bestIndex, bestConf := 0, 0.0
	for i := 1; i <= evidence.Len(); i++ {
		if i == original {
			continue
		}
		item, _ := evidence.At(i)
		conf := MatchConfidence(context, item.Chunk.Content, v.cfg.Match)
		if conf > bestConf {
			bestIndex, bestConf = i, conf
		}
	}
	if bestIndex == 0 || bestConf < threshold || bestConf < originalConf+v.cfg.RemapMargin {
		return 0, 0, false
	}
	return bestIndex, bestConf, true
}

// rewriteMarkers rebuilds the draft with every bracket group rewritten to
// its renumbered accepted indices. Groups left empty disappear, along with
// one preceding space.
func rewriteMarkers(draft string, groups []markerGroup, acceptedPerGroup [][]acceptance, renumber map[int]int) string {
	var b strings.Builder
	prev := 0
	for gi, group := range groups {
		segment := draft[prev:group.start]

		var newIndices []int
		seen := make(map[int]bool)
		for _, acc := range acceptedPerGroup[gi] {
			n := renumber[acc.evidenceIndex]
			if !seen[n] {
				seen[n] = true
				newIndices = append(newIndices, n)
			}
		}

		if len(newIndices) == 0 {
			b.WriteString(strings.TrimRight(segment, " "))
		} else {
			b.WriteString(segment)
			parts := make([]string, len(newIndices))
			for i, n := range newIndices {
				parts[i] = fmt.Sprintf("%d", n)
			}
			b.WriteString("[" + strings.Join(parts, ", ") + "]")
		}
		prev = group.end
	}
	b.WriteString(draft[prev:])
	return b.String()
}

// consistencyPass removes any remaining out-of-range citation artifacts and
// compacts the numbering if that changed the used set, so the distinct
// marker integers in the text are exactly {1..M}. It returns the final text
// and a map from the incoming index space to the final one; the map is the
// identity when the text was already consistent.
func (v *Validator) consistencyPass(text string, total int) (string, map[int]int) {
	kept := make(map[int]int, total)
	for n := 1; n <= total; n++ {
		kept[n] = n
	}

	for range [3]struct{}{} {
		groups := parseMarkers(text)

		usedSet := make(map[int]bool)
		inRange := true
		for _, g := range groups {
			for _, n := range g.indices {
				if n < 1 || n > total {
					inRange = false
					continue
				}
				usedSet[n] = true
			}
		}

		dense := len(usedSet) == total
		for n := 1; n <= total; n++ {
			if !usedSet[n] {
				dense = false
			}
		}

		if inRange && dense {
			return text, kept
		}

		// Drop out-of-range indices and compact the rest by first
		// appearance.
		remap := make(map[int]int)
		accepted := make([][]acceptance, len(groups))
		for gi, g := range groups {
			for _, n := range g.indices {
				if n < 1 || n > total || !usedSet[n] {
					continue
				}
				if _, seen := remap[n]; !seen {
					remap[n] = len(remap) + 1
				}
				accepted[gi] = append(accepted[gi], acceptance{evidenceIndex: n})
			}
		}
		text = rewriteMarkers(text, groups, accepted, remap)

		compacted := make(map[int]int, len(remap))
		for old, fin := range kept {
			if next, ok := remap[fin]; ok {
				compacted[old] = next
			}
		}
		kept = compacted
		total = len(remap)
	}

	return text, kept
}

// buildCitations materializes the reference list in renumbered order.
func (v *Validator) buildCitations(evidence *retrieval.EvidenceList, renumber map[int]int, bestConf map[int]float64) []Citation {
	citations := make([]Citation, len(renumber))
	for original, renumbered := range renumber {
		item, _ := evidence.At(original)

		pages := item.Chunk.Pages
		if len(pages) == 0 {
			if p, ok := retrieval.EffectivePage(item.Chunk); ok {
				pages = []int{p}
			}
		}

		excerpt := item.Chunk.Content
		if len(excerpt) > v.cfg.ExcerptLength {
			cut := v.cfg.ExcerptLength
			for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
				cut--
			}
			excerpt = excerpt[:cut]
		}

		citations[renumbered-1] = Citation{
			SourceIndex:   renumbered,
			DocumentID:    item.Document.ID,
			DocumentTitle: item.Document.Title,
			Pages:         pages,
			Excerpt:       excerpt,
			ChunkIDs:      item.ChunkIDs,
			Confidence:    bestConf[original],
		}
	}
	return citations
}

func isAbstention(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range abstentionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
