package retrieval

import (
	"sort"

	"bookchat-ai/internal/storage"
)

// NeighborConfig holds the expansion tunables.
type NeighborConfig struct {
	// PageFloor is the minimum similarity for a page-adjacent chunk.
	PageFloor float64
	// ChunkFloor is the minimum similarity for a chunk-index neighbor.
	ChunkFloor float64
	// MaxTotal bounds the expanded result count when the caller passes 0.
	MaxTotal int
}

// DefaultNeighborConfig returns the standard expansion tunables.
func DefaultNeighborConfig() NeighborConfig {
	return NeighborConfig{
		PageFloor:  0.6,
		ChunkFloor: 0.4,
		MaxTotal:   12,
	}
}

// NeighborExpander augments an evidence set with adjacent pages and chunks,
// preserving narrative continuity across page breaks without diluting
// top-ranked precision. Both passes are additive and floor-gated.
type NeighborExpander struct {
	cfg NeighborConfig
}

// NewNeighborExpander creates an expander.
func NewNeighborExpander(cfg NeighborConfig) *NeighborExpander {
	return &NeighborExpander{cfg: cfg}
}

// Expand runs the page-adjacency pass over every document in base, then the
// chunk-index pass for the single best result. fullChunkSet is the complete
// in-scope chunk set the neighbors are drawn from; documents supplies titles
// for added results. maxTotal bounds the output size.
func (e *NeighborExpander) Expand(base []SearchResult, fullChunkSet []*storage.Chunk, queryVector []float32, documents map[string]DocumentSummary, maxTotal int) []SearchResult {
	if maxTotal <= 0 {
		maxTotal = e.cfg.MaxTotal
	}
	if len(base) == 0 || len(base) >= maxTotal {
		return base
	}

	present := make(map[string]bool, len(base))
	for _, r := range base {
		for _, id := range r.ChunkIDs {
			present[id] = true
		}
		present[r.Chunk.ID] = true
	}

	// The chunk-index pass anchors on the best base result, not on
	// anything the page pass adds.
	top := base[0]
	for _, r := range base[1:] {
		if r.Similarity > top.Similarity {
			top = r
		}
	}

	out := append([]SearchResult(nil), base...)
	out = e.expandPages(out, fullChunkSet, queryVector, documents, present, maxTotal)
	out = e.expandChunkIndex(out, top, fullChunkSet, queryVector, documents, present, maxTotal)
	return out
}

// expandPages finds contiguous blocks of retrieved pages per document and
// adds the best chunk just before and after each block, when it clears the
// page floor.
func (e *NeighborExpander) expandPages(results []SearchResult, fullChunkSet []*storage.Chunk, queryVector []float32, documents map[string]DocumentSummary, present map[string]bool, maxTotal int) []SearchResult {
	pagesByDoc := make(map[string]map[int]bool)
	for _, r := range results {
		page, ok := EffectivePage(r.Chunk)
		if !ok {
			continue
		}
		if pagesByDoc[r.Chunk.DocumentID] == nil {
			pagesByDoc[r.Chunk.DocumentID] = make(map[int]bool)
		}
		pagesByDoc[r.Chunk.DocumentID][page] = true
		for _, p := range r.Chunk.Pages {
			pagesByDoc[r.Chunk.DocumentID][p] = true
		}
	}

	docIDs := make([]string, 0, len(pagesByDoc))
	for id := range pagesByDoc {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	for _, docID := range docIDs {
		pageSet := pagesByDoc[docID]
		pages := make([]int, 0, len(pageSet))
		for p := range pageSet {
			pages = append(pages, p)
		}
		sort.Ints(pages)

		for _, boundary := range blockBoundaries(pages) {
			if len(results) >= maxTotal {
				return results
			}
			added, ok := e.bestChunkAtPage(fullChunkSet, docID, boundary, queryVector, present)
			if !ok {
				continue
			}
			added.Document = documents[docID]
			results = append(results, added)
		}
	}

	return results
}

// expandChunkIndex adds the chunkIndex±1 neighbors of the single
// highest-similarity base result, when they clear the chunk floor.
func (e *NeighborExpander) expandChunkIndex(results []SearchResult, top SearchResult, fullChunkSet []*storage.Chunk, queryVector []float32, documents map[string]DocumentSummary, present map[string]bool, maxTotal int) []SearchResult {
	for _, delta := range []int{-1, 1} {
		if len(results) >= maxTotal {
			break
		}
		want := top.Chunk.ChunkIndex + delta
		for _, chunk := range fullChunkSet {
			if chunk.DocumentID != top.Chunk.DocumentID || chunk.ChunkIndex != want {
				continue
			}
			if present[chunk.ID] {
				break
			}
			sim := CosineSimilarity(queryVector, chunk.Embedding)
			if sim < e.cfg.ChunkFloor {
				break
			}
			present[chunk.ID] = true
			results = append(results, SearchResult{
				Chunk:      chunk,
				Document:   documents[chunk.DocumentID],
				Similarity: sim,
				ChunkIDs:   []string{chunk.ID},
			})
			break
		}
	}

	return results
}

// bestChunkAtPage returns the highest-similarity unseen chunk on the given
// page of the given document, if it clears the page floor.
func (e *NeighborExpander) bestChunkAtPage(fullChunkSet []*storage.Chunk, docID string, page int, queryVector []float32, present map[string]bool) (SearchResult, bool) {
	var best *storage.Chunk
	var bestSim float64

	for _, chunk := range fullChunkSet {
		if chunk.DocumentID != docID || present[chunk.ID] {
			continue
		}
		p, ok := EffectivePage(chunk)
		if !ok || p != page {
			continue
		}
		sim := CosineSimilarity(queryVector, chunk.Embedding)
		if best == nil || sim > bestSim {
			best = chunk
			bestSim = sim
		}
	}

	if best == nil || bestSim < e.cfg.PageFloor {
		return SearchResult{}, false
	}

	present[best.ID] = true
	return SearchResult{
		Chunk:      best,
		Similarity: bestSim,
		ChunkIDs:   []string{best.ID},
	}, true
}

// blockBoundaries returns the pages immediately before and after each
// contiguous block of the sorted page list, deduplicated and excluding pages
// already in the list and pages below 1.
func blockBoundaries(pages []int) []int {
	if len(pages) == 0 {
		return nil
	}

	inList := make(map[int]bool, len(pages))
	for _, p := range pages {
		inList[p] = true
	}

	seen := make(map[int]bool)
	var boundaries []int
	add := func(p int) {
		if p >= 1 && !inList[p] && !seen[p] {
			seen[p] = true
			boundaries = append(boundaries, p)
		}
	}

	blockStart := pages[0]
	prev := pages[0]
	for _, p := range pages[1:] {
		if p == prev || p == prev+1 {
			prev = p
			continue
		}
		add(blockStart - 1)
		add(prev + 1)
		blockStart = p
		prev = p
	}
	add(blockStart - 1)
	add(prev + 1)

	return boundaries
}
