package citation

import (
	"regexp"
	"strings"
	"unicode"
)

// MatchConfig holds the weights of the content-match confidence score. The
// four components are combined as a weighted sum in [0,1].
type MatchConfig struct {
	// RunWeight weighs the longest shared consecutive word run.
	RunWeight float64
	// TermWeight weighs the ratio of important context terms found in
	// the source.
	TermWeight float64
	// JaccardWeight weighs token-set similarity.
	JaccardWeight float64
	// DomainWeight weighs co-occurrence of long or numeric domain terms.
	DomainWeight float64
	// MinRunLength is the shortest word run that counts at all.
	MinRunLength int
}

// DefaultMatchConfig returns the standard confidence weights.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		RunWeight:     0.4,
		TermWeight:    0.3,
		JaccardWeight: 0.2,
		DomainWeight:  0.1,
		MinRunLength:  2,
	}
}

var measurementPattern = regexp.MustCompile(`^\d+(\.\d+)?[a-z%]*$`)

// MatchConfidence scores how well a citation's surrounding context is
// supported by the cited source content, in [0,1]. Zero means no overlap.
func MatchConfidence(context, source string, cfg MatchConfig) float64 {
	contextWords := tokenize(context)
	sourceWords := tokenize(source)
	if len(contextWords) == 0 || len(sourceWords) == 0 {
		return 0
	}

	sourceSet := make(map[string]bool, len(sourceWords))
	for _, w := range sourceWords {
		sourceSet[w] = true
	}

	score := cfg.RunWeight*runScore(contextWords, sourceWords, cfg.MinRunLength) +
		cfg.TermWeight*termRatio(contextWords, sourceSet) +
		cfg.JaccardWeight*jaccard(contextWords, sourceWords) +
		cfg.DomainWeight*domainBonus(contextWords, sourceSet)

	if score > 1 {
		return 1
	}
	return score
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// runScore finds the longest run of consecutive context words appearing
// consecutively in the source. Runs shorter than minRun score 0; longer
// runs approach 1.
func runScore(context, source []string, minRun int) float64 {
	longest := 0
	// prev[j] = length of the run ending at context[i-1], source[j-1].
	prev := make([]int, len(source)+1)
	curr := make([]int, len(source)+1)
	for i := 1; i <= len(context); i++ {
		for j := 1; j <= len(source); j++ {
			if context[i-1] == source[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > longest {
					longest = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}

	if longest < minRun {
		return 0
	}
	score := float64(longest-1) / 8.0
	if score > 1 {
		return 1
	}
	return score
}

// importantTerm marks words worth checking individually: reasonably long
// words and measurements like "20mg" or "0.5".
func importantTerm(w string) bool {
	return len(w) >= 4 || measurementPattern.MatchString(w)
}

func termRatio(context []string, sourceSet map[string]bool) float64 {
	total, found := 0, 0
	for _, w := range context {
		if !importantTerm(w) {
			continue
		}
		total++
		if sourceSet[w] {
			found++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(found) / float64(total)
}

// jaccard computes set similarity over tokens of three letters or more.
func jaccard(context, source []string) float64 {
	a := make(map[string]bool)
	for _, w := range context {
		if len(w) >= 3 {
			a[w] = true
		}
	}
	b := make(map[string]bool)
	for _, w := range source {
		if len(w) >= 3 {
			b[w] = true
		}
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// domainBonus rewards shared long or numeric terms, the words least likely
// to co-occur by accident.
func domainBonus(context []string, sourceSet map[string]bool) float64 {
	shared := 0
	seen := make(map[string]bool)
	for _, w := range context {
		if seen[w] {
			continue
		}
		seen[w] = true
		if (len(w) >= 7 || strings.ContainsAny(w, "0123456789")) && sourceSet[w] {
			shared++
		}
	}
	switch {
	case shared >= 2:
		return 1
	case shared == 1:
		return 0.5
	default:
		return 0
	}
}
