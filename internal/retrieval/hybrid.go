package retrieval

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/storage"
)

//go:generate mockgen -source=hybrid.go -destination=mocks/mock_hybrid.go -package=mocks

// CandidateIndex preselects candidate chunk ids for a query vector, backed
// by an external vector store. It is an optimization for large scopes; the
// retriever falls back to scanning the full scope when it fails or is absent.
type CandidateIndex interface {
	Preselect(ctx context.Context, queryVector []float32, sessionID string, documentIDs []string, limit int) ([]string, error)
}

// HybridConfig holds the tunables for hybrid retrieval. All values have
// working defaults from DefaultHybridConfig; none are derived, they are
// empirically tuned and overridable.
type HybridConfig struct {
	// MaxResults is the default result cap when the caller passes 0.
	MaxResults int
	// MinCandidates is the floor for the candidate width W = max(2k, MinCandidates).
	MinCandidates int
	// RRFK is the rank-fusion constant: each list contributes
	// weight / (RRFK + rank + 1).
	RRFK float64
	// VectorWeight and LexicalWeight are the base fusion weights.
	VectorWeight  float64
	LexicalWeight float64
	// SpecificVectorWeight applies when the query classifies as specific.
	SpecificVectorWeight  float64
	SpecificLexicalWeight float64
	// BroadVectorWeight applies when the query classifies as broad.
	BroadVectorWeight  float64
	BroadLexicalWeight float64
	// PreselectThreshold is the scope size above which the candidate index
	// is consulted, when one is configured.
	PreselectThreshold int

	Lexical LexicalConfig
}

// DefaultHybridConfig returns the standard retrieval tunables.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		MaxResults:            12,
		MinCandidates:         40,
		RRFK:                  60,
		VectorWeight:          0.7,
		LexicalWeight:         0.3,
		SpecificVectorWeight:  0.85,
		SpecificLexicalWeight: 0.15,
		BroadVectorWeight:     0.55,
		BroadLexicalWeight:    0.45,
		PreselectThreshold:    2000,
		Lexical:               DefaultLexicalConfig(),
	}
}

// Query carries everything the retriever needs for one search.
type Query struct {
	Text       string
	Vector     []float32
	SessionID  string
	MaxResults int
}

// HybridRetriever ranks chunks by fusing vector and lexical scores with
// reciprocal rank fusion. It is stateless apart from configuration and safe
// for concurrent use.
type HybridRetriever struct {
	cfg   HybridConfig
	index CandidateIndex // optional
}

// NewHybridRetriever creates a retriever. index may be nil, in which case
// every in-scope chunk is scored directly.
func NewHybridRetriever(cfg HybridConfig, index CandidateIndex) *HybridRetriever {
	return &HybridRetriever{cfg: cfg, index: index}
}

// Search ranks the in-scope chunks against the query and returns the top
// results, at most maxResults. Zero in-scope chunks is a normal empty
// result, not an error. Documents supplies titles for result summaries.
func (r *HybridRetriever) Search(ctx context.Context, query Query, chunks []*storage.Chunk, documents map[string]DocumentSummary) ([]SearchResult, error) {
	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	chunks = r.preselect(ctx, query, chunks)

	width := 2 * maxResults
	if width < r.cfg.MinCandidates {
		width = r.cfg.MinCandidates
	}

	vectorScores, err := r.scoreVectors(ctx, query.Vector, chunks)
	if err != nil {
		return nil, err
	}

	// Top-W candidates by vector score; lexical scoring reranks this set
	// only, not the whole scope.
	order := sortedIndexes(vectorScores)
	if len(order) > width {
		order = order[:width]
	}

	candVectorScores := make([]float64, len(order))
	lexicalScores := make([]float64, len(order))
	for i, idx := range order {
		candVectorScores[i] = vectorScores[idx]
		lexicalScores[i] = LexicalScore(query.Text, chunks[idx].Content, r.cfg.Lexical)
	}

	vectorWeight, lexicalWeight := r.weights(query.Text)

	// Reciprocal rank fusion across both ranked lists. RRF is robust to
	// the differing scales of cosine and lexical scores. Ranks are
	// tie-aware so equal scores contribute equally.
	vectorRanks := tieAwareRanks(candVectorScores)
	lexicalRanks := tieAwareRanks(lexicalScores)
	fused := make([]float64, len(order))
	for i := range order {
		fused[i] = vectorWeight/(r.cfg.RRFK+float64(vectorRanks[i])+1) +
			lexicalWeight/(r.cfg.RRFK+float64(lexicalRanks[i])+1)
	}

	final := make([]int, len(order))
	for i := range final {
		final[i] = i
	}
	sort.SliceStable(final, func(a, b int) bool {
		if fused[final[a]] != fused[final[b]] {
			return fused[final[a]] > fused[final[b]]
		}
		// Deterministic tie-break on original chunk position.
		return order[final[a]] < order[final[b]]
	})

	if len(final) > maxResults {
		final = final[:maxResults]
	}

	results := make([]SearchResult, 0, len(final))
	for _, pos := range final {
		chunk := chunks[order[pos]]
		results = append(results, SearchResult{
			Chunk:      chunk,
			Document:   documents[chunk.DocumentID],
			Similarity: vectorScores[order[pos]],
			ChunkIDs:   []string{chunk.ID},
		})
	}

	return results, nil
}

// preselect narrows a large scope via the candidate index. Any failure is
// logged and the full scope is kept; the index is advisory.
func (r *HybridRetriever) preselect(ctx context.Context, query Query, chunks []*storage.Chunk) []*storage.Chunk {
	if r.index == nil || len(chunks) <= r.cfg.PreselectThreshold {
		return chunks
	}

	ids, err := r.index.Preselect(ctx, query.Vector, query.SessionID, nil, r.cfg.PreselectThreshold)
	if err != nil {
		logger := contextutil.LoggerFromContext(ctx)
		logger.WarnContext(ctx, "candidate preselect failed, scanning full scope", "error", err)
		return chunks
	}
	if len(ids) == 0 {
		return chunks
	}

	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}

	narrowed := make([]*storage.Chunk, 0, len(ids))
	for _, chunk := range chunks {
		if allowed[chunk.ID] {
			narrowed = append(narrowed, chunk)
		}
	}
	if len(narrowed) == 0 {
		return chunks
	}
	return narrowed
}

// scoreVectors computes cosine similarity for every chunk, sharded across
// available cores. Scoring order does not affect the result; only the final
// sort does.
func (r *HybridRetriever) scoreVectors(ctx context.Context, queryVector []float32, chunks []*storage.Chunk) ([]float64, error) {
	scores := make([]float64, len(chunks))

	workers := runtime.NumCPU()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	shard := (len(chunks) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(chunks); start += shard {
		end := start + shard
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				scores[i] = CosineSimilarity(queryVector, chunks[i].Embedding)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return scores, nil
}

func (r *HybridRetriever) weights(queryText string) (vector, lexical float64) {
	switch ClassifyQuery(queryText) {
	case QuerySpecific:
		return r.cfg.SpecificVectorWeight, r.cfg.SpecificLexicalWeight
	case QueryBroad:
		return r.cfg.BroadVectorWeight, r.cfg.BroadLexicalWeight
	default:
		return r.cfg.VectorWeight, r.cfg.LexicalWeight
	}
}

// sortedIndexes returns the indexes of scores sorted descending by score,
// with a stable tie-break on the original index.
func sortedIndexes(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	return order
}

// tieAwareRanks assigns each score its competition rank: the number of
// strictly greater scores. Equal scores share a rank.
func tieAwareRanks(scores []float64) []int {
	order := sortedIndexes(scores)
	ranks := make([]int, len(scores))
	for pos, idx := range order {
		if pos > 0 && scores[idx] == scores[order[pos-1]] {
			ranks[idx] = ranks[order[pos-1]]
			continue
		}
		ranks[idx] = pos
	}
	return ranks
}
