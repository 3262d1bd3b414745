package ingest

import (
	"fmt"
	"math"
	"sort"

	"bookchat-ai/internal/storage"
)

const (
	// sectionPages is the page span of one routing section.
	sectionPages = 20
	// sectionChunks buckets page-less documents by chunk index instead.
	sectionChunks = 20
)

// BuildRouteIndex derives a document's routing data from its stored chunks:
// a whole-document vector plus coarse section vectors with their member
// chunk ids. Each vector is the L2-normalized mean of the member chunks'
// normalized embeddings.
func BuildRouteIndex(documentID string, chunks []storage.Chunk, pageCount int) *storage.RouteIndex {
	if len(chunks) == 0 {
		return nil
	}

	normalized := make([][]float32, len(chunks))
	for i := range chunks {
		normalized[i] = l2Normalize(chunks[i].Embedding)
	}

	buckets := make(map[int][]int) // bucket number -> chunk positions
	for i := range chunks {
		n := bucketFor(&chunks[i])
		buckets[n] = append(buckets[n], i)
	}
	numbers := make([]int, 0, len(buckets))
	for n := range buckets {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	sections := make([]storage.RouteSection, 0, len(numbers))
	for seq, n := range numbers {
		members := buckets[n]
		vectors := make([][]float32, len(members))
		ids := make([]string, len(members))
		pageLo, pageHi := 0, 0
		for j, pos := range members {
			vectors[j] = normalized[pos]
			ids[j] = chunks[pos].ID
			if p := chunks[pos].Page; p > 0 {
				if pageLo == 0 || p < pageLo {
					pageLo = p
				}
				if p > pageHi {
					pageHi = p
				}
			}
		}
		sections = append(sections, storage.RouteSection{
			ID:         fmt.Sprintf("%s_sec_%04d", documentID, seq),
			DocumentID: documentID,
			PageStart:  pageLo,
			PageEnd:    pageHi,
			Vector:     l2Normalize(meanVector(vectors)),
			ChunkIDs:   ids,
		})
	}

	return &storage.RouteIndex{
		Book: storage.RouteBook{
			DocumentID: documentID,
			Vector:     l2Normalize(meanVector(normalized)),
			ChunkCount: len(chunks),
			PageCount:  pageCount,
		},
		Sections: sections,
	}
}

// bucketFor assigns a chunk to a section bucket: page ranges when the chunk
// carries a page, chunk-index ranges otherwise.
func bucketFor(chunk *storage.Chunk) int {
	if chunk.Page > 0 {
		return (chunk.Page - 1) / sectionPages
	}
	return chunk.ChunkIndex / sectionChunks
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	mean := make([]float32, len(vectors[0]))
	for _, vec := range vectors {
		for i, v := range vec {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vectors))
	}
	return mean
}

func l2Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
