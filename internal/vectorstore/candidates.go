package vectorstore

import (
	"context"
	"fmt"
)

// CandidateSource preselects candidate chunk ids for a query vector using
// the vector store's similarity search. It narrows large retrieval scopes
// before the in-process scoring pass.
type CandidateSource struct {
	store      VectorStore
	collection string
}

// NewCandidateSource creates a candidate source over the given collection.
func NewCandidateSource(store VectorStore, collection string) *CandidateSource {
	return &CandidateSource{store: store, collection: collection}
}

// Preselect returns up to limit chunk ids nearest to the query vector within
// the session and document scope.
func (s *CandidateSource) Preselect(ctx context.Context, queryVector []float32, sessionID string, documentIDs []string, limit int) ([]string, error) {
	results, err := s.store.Search(ctx, s.collection, queryVector, limit, Filter{
		SessionID:   sessionID,
		DocumentIDs: documentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("candidate search: %w", err)
	}

	ids := make([]string, len(results))
	for i, result := range results {
		ids[i] = result.PointID
	}
	return ids, nil
}
