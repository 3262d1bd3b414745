package retrieval

import (
	"context"
	"sort"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/storage"
)

// RouteConfig holds the prefilter tunables.
type RouteConfig struct {
	// MaxDocuments caps how many routed documents are shortlisted.
	MaxDocuments int
	// WidenBy extends the document cap under low confidence.
	WidenBy int
	// MaxSections caps top sections per document for the chunk allow-list.
	MaxSections int
	// LowConfidenceSections replaces MaxSections under low confidence.
	LowConfidenceSections int
	// LowScoreThreshold marks the routing as low-confidence when the best
	// book score falls below it.
	LowScoreThreshold float64
	// MarginThreshold marks the routing as low-confidence when the gap
	// between the top two book scores falls below it.
	MarginThreshold float64
}

// DefaultRouteConfig returns the standard prefilter tunables.
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		MaxDocuments:          3,
		WidenBy:               2,
		MaxSections:           5,
		LowConfidenceSections: 8,
		LowScoreThreshold:     0.2,
		MarginThreshold:       0.035,
	}
}

// Shortlist is the prefilter output. Empty DocumentIDs means no document
// restriction; nil AllowedChunkIDs means no chunk restriction.
type Shortlist struct {
	DocumentIDs     []string
	AllowedChunkIDs map[string]bool
}

// Restricts reports whether the shortlist narrows the document scope.
func (s Shortlist) Restricts() bool {
	return len(s.DocumentIDs) > 0
}

// RoutePrefilter shortlists documents (and optionally chunks) using coarse
// per-document and per-section vectors. It is a precision and performance
// optimization, never a correctness filter: a document without route data is
// always kept searchable in full.
type RoutePrefilter struct {
	cfg RouteConfig
}

// NewRoutePrefilter creates a prefilter with the given tunables.
func NewRoutePrefilter(cfg RouteConfig) *RoutePrefilter {
	return &RoutePrefilter{cfg: cfg}
}

type scoredDoc struct {
	id    string
	score float64
	index *storage.RouteIndex
}

// Shortlist scores each routed document's book vector against the query and
// selects a capped number of top documents, widened when the score profile
// is ambiguous. Section-level chunk restriction only applies when every
// in-scope document carries route data; otherwise unrouted content would be
// silently excluded.
func (p *RoutePrefilter) Shortlist(ctx context.Context, queryVector []float32, inScopeDocIDs []string, routes map[string]*storage.RouteIndex) Shortlist {
	if len(inScopeDocIDs) == 0 {
		return Shortlist{}
	}

	var routed []scoredDoc
	var unrouted []string
	for _, id := range inScopeDocIDs {
		idx, ok := routes[id]
		if !ok || idx == nil || len(idx.Book.Vector) == 0 {
			unrouted = append(unrouted, id)
			continue
		}
		routed = append(routed, scoredDoc{
			id:    id,
			score: CosineSimilarity(queryVector, idx.Book.Vector),
			index: idx,
		})
	}

	// Nothing routed: no restriction at all.
	if len(routed) == 0 {
		return Shortlist{}
	}

	sort.SliceStable(routed, func(a, b int) bool {
		return routed[a].score > routed[b].score
	})

	lowConfidence := routed[0].score < p.cfg.LowScoreThreshold
	if !lowConfidence && len(routed) > 1 {
		lowConfidence = routed[0].score-routed[1].score < p.cfg.MarginThreshold
	}

	limit := p.cfg.MaxDocuments
	if lowConfidence {
		limit += p.cfg.WidenBy
	}
	if limit > len(routed) {
		limit = len(routed)
	}
	selected := routed[:limit]

	if lowConfidence {
		logger := contextutil.LoggerFromContext(ctx)
		logger.InfoContext(ctx, "route prefilter low confidence, widening selection",
			"top_score", routed[0].score,
			"selected", len(selected))
	}

	out := Shortlist{}
	for _, doc := range selected {
		out.DocumentIDs = append(out.DocumentIDs, doc.id)
	}
	// Unrouted documents always stay in scope.
	out.DocumentIDs = append(out.DocumentIDs, unrouted...)

	if len(unrouted) > 0 {
		return out
	}

	sections := p.cfg.MaxSections
	if lowConfidence {
		sections = p.cfg.LowConfidenceSections
	}

	allowed := make(map[string]bool)
	restricted := false
	for _, doc := range selected {
		ids := p.topSectionChunks(queryVector, doc.index.Sections, sections)
		if ids == nil {
			// A selected document without sections keeps its full
			// chunk set; do not restrict below document level.
			return out
		}
		restricted = true
		for _, id := range ids {
			allowed[id] = true
		}
	}
	if restricted {
		out.AllowedChunkIDs = allowed
	}

	return out
}

func (p *RoutePrefilter) topSectionChunks(queryVector []float32, sections []storage.RouteSection, limit int) []string {
	if len(sections) == 0 {
		return nil
	}

	type scoredSection struct {
		score float64
		index int
	}
	scored := make([]scoredSection, 0, len(sections))
	for i := range sections {
		scored = append(scored, scoredSection{
			score: CosineSimilarity(queryVector, sections[i].Vector),
			index: i,
		})
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].score > scored[b].score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	var ids []string
	for _, s := range scored {
		ids = append(ids, sections[s.index].ChunkIDs...)
	}
	return ids
}
