package retrieval

import (
	"regexp"
	"strings"
)

// QueryClass describes how a query should be weighted between vector and
// lexical scoring.
type QueryClass int

const (
	// QueryNeutral uses the base weights.
	QueryNeutral QueryClass = iota
	// QuerySpecific favors vector similarity: quoted text, very short
	// queries, or queries containing numbers, acronyms, URLs, or e-mails.
	QuerySpecific
	// QueryBroad favors lexical overlap: long or interrogative queries.
	QueryBroad
)

// LexicalConfig holds the tunable weights for lexical scoring.
type LexicalConfig struct {
	// ExactMatchBonus is awarded when the full query appears as a
	// substring of the content.
	ExactMatchBonus float64
	// PartialMatchWeight is awarded per query word found in the content.
	PartialMatchWeight float64
	// RepetitionBonus is awarded per repeated occurrence of a query word,
	// capped at RepetitionCap occurrences.
	RepetitionBonus float64
	// RepetitionCap limits how many repeats of one word can score.
	RepetitionCap int
	// AdjacencyBonus is awarded per consecutive query-word pair found
	// consecutively in the content.
	AdjacencyBonus float64
}

// DefaultLexicalConfig returns the standard lexical weights.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		ExactMatchBonus:    2.0,
		PartialMatchWeight: 1.0,
		RepetitionBonus:    0.25,
		RepetitionCap:      4,
		AdjacencyBonus:     0.5,
	}
}

var (
	numberPattern  = regexp.MustCompile(`\d`)
	acronymPattern = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	urlPattern     = regexp.MustCompile(`(?i)\bhttps?://|\bwww\.`)
	emailPattern   = regexp.MustCompile(`\S+@\S+\.\S+`)
)

var interrogatives = map[string]bool{
	"what": true, "how": true, "why": true, "which": true,
	"when": true, "where": true, "who": true, "whom": true,
}

// ClassifyQuery decides the weighting class for a query.
func ClassifyQuery(query string) QueryClass {
	trimmed := strings.TrimSpace(query)
	words := strings.Fields(trimmed)

	specific := strings.Contains(trimmed, `"`) ||
		len(words) <= 3 ||
		numberPattern.MatchString(trimmed) ||
		acronymPattern.MatchString(trimmed) ||
		urlPattern.MatchString(trimmed) ||
		emailPattern.MatchString(trimmed)
	if specific {
		return QuerySpecific
	}

	if len(words) > 5 {
		return QueryBroad
	}
	for _, w := range words {
		if interrogatives[strings.ToLower(strings.Trim(w, "?,.!"))] {
			return QueryBroad
		}
	}

	return QueryNeutral
}

// LexicalScore scores how well content matches the query text. The score is
// a weighted sum of exact-substring match, per-word partial matches with a
// repetition bonus, and bigram adjacency, normalized by the query word count
// so long queries do not dominate.
func LexicalScore(query, content string, cfg LexicalConfig) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	c := strings.ToLower(content)

	words := strings.Fields(q)
	if len(words) == 0 || c == "" {
		return 0
	}

	var score float64

	if strings.Contains(c, q) {
		score += cfg.ExactMatchBonus
	}

	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		count := strings.Count(c, w)
		if count == 0 {
			continue
		}
		score += cfg.PartialMatchWeight
		repeats := count - 1
		if repeats > cfg.RepetitionCap {
			repeats = cfg.RepetitionCap
		}
		score += cfg.RepetitionBonus * float64(repeats)
	}

	for i := 0; i+1 < len(words); i++ {
		if len(words[i]) < 2 || len(words[i+1]) < 2 {
			continue
		}
		bigram := words[i] + " " + words[i+1]
		if strings.Contains(c, bigram) {
			score += cfg.AdjacencyBonus
		}
	}

	return score / float64(len(words))
}
