package retrieval

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"bookchat-ai/internal/storage"
)

// pageSeparator joins constituent chunk contents in a merged page group. It
// stays visible in prompts so the model sees chunk boundaries.
const pageSeparator = "\n\n---\n\n"

// pagePatterns is the ordered rule table for extracting a page number from
// chunk content when no page metadata exists. First match wins.
var pagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpage\s+(\d{1,4})\b`),
	regexp.MustCompile(`(?i)\bp\.\s*(\d{1,4})\b`),
}

// PageCombiner merges chunks that resolve to the same (document, page) into
// a single evidence unit, so five near-duplicate chunks from one page are
// never presented as five different sources.
type PageCombiner struct{}

// NewPageCombiner creates a combiner.
func NewPageCombiner() *PageCombiner {
	return &PageCombiner{}
}

// EffectivePage resolves a chunk's page number with priority: explicit
// multi-page list, direct page field, then regex extraction from content.
// The second return value is false when no rule applies.
func EffectivePage(chunk *storage.Chunk) (int, bool) {
	if len(chunk.Pages) > 0 {
		return chunk.Pages[0], true
	}
	if chunk.Page > 0 {
		return chunk.Page, true
	}
	for _, pattern := range pagePatterns {
		if m := pattern.FindStringSubmatch(chunk.Content); m != nil {
			if page, err := strconv.Atoi(m[1]); err == nil && page > 0 {
				return page, true
			}
		}
	}
	return 0, false
}

// Combine groups results by (documentID, effective page) and merges
// multi-member groups. Singletons and results without a resolvable page pass
// through unchanged. Group order follows the rank of each group's best
// member, so the output stays rank-sorted.
func (c *PageCombiner) Combine(results []SearchResult) []SearchResult {
	if len(results) <= 1 {
		return results
	}

	type groupKey struct {
		documentID string
		page       int
	}

	type placed struct {
		rank   int
		result SearchResult
	}

	groups := make(map[groupKey][]SearchResult)
	positions := make(map[groupKey]int)
	var orderedKeys []groupKey
	var out []placed

	for i, result := range results {
		page, ok := EffectivePage(result.Chunk)
		if !ok {
			out = append(out, placed{rank: i, result: result})
			continue
		}
		key := groupKey{documentID: result.Chunk.DocumentID, page: page}
		if _, seen := groups[key]; !seen {
			orderedKeys = append(orderedKeys, key)
			positions[key] = i
		}
		groups[key] = append(groups[key], result)
	}

	for _, key := range orderedKeys {
		members := groups[key]
		if len(members) == 1 {
			out = append(out, placed{rank: positions[key], result: members[0]})
			continue
		}
		out = append(out, placed{rank: positions[key], result: mergeGroup(members, key.page)})
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].rank < out[b].rank })

	merged := make([]SearchResult, 0, len(out))
	for _, p := range out {
		merged = append(merged, p.result)
	}
	return merged
}

// mergeGroup builds one synthetic result from all chunks of a page. Content
// is every member's content in chunkIndex order; no constituent is dropped.
func mergeGroup(members []SearchResult, page int) SearchResult {
	sort.SliceStable(members, func(a, b int) bool {
		return members[a].Chunk.ChunkIndex < members[b].Chunk.ChunkIndex
	})

	var contents []string
	var chunkIDs []string
	pageSet := map[int]bool{page: true}
	best := members[0].Similarity
	totalTokens := 0

	for _, m := range members {
		contents = append(contents, m.Chunk.Content)
		chunkIDs = append(chunkIDs, m.ChunkIDs...)
		if m.Similarity > best {
			best = m.Similarity
		}
		totalTokens += m.Chunk.TokenCount
		for _, p := range m.Chunk.Pages {
			pageSet[p] = true
		}
	}

	pages := make([]int, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	lead := members[0].Chunk
	mergedChunk := &storage.Chunk{
		ID:         lead.ID,
		DocumentID: lead.DocumentID,
		SessionID:  lead.SessionID,
		ChunkIndex: lead.ChunkIndex,
		Page:       page,
		Pages:      pages,
		Content:    strings.Join(contents, pageSeparator),
		TokenCount: totalTokens,
		Embedding:  lead.Embedding,
	}

	return SearchResult{
		Chunk:      mergedChunk,
		Document:   members[0].Document,
		Similarity: best,
		ChunkIDs:   chunkIDs,
	}
}
