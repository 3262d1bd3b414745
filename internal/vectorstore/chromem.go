package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"bookchat-ai/internal/contextutil"
)

// ChromemStore implements VectorStore using the embedded chromem-go database.
// It requires no external service, which makes it the default for single-node
// deployments and for tests.
type ChromemStore struct {
	db *chromem.DB

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemStore creates an embedded vector store.
// When path is empty the store is purely in-memory; otherwise it persists
// to the given directory.
func NewChromemStore(path string) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}
	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
// chromem infers the vector size from the first inserted document, so
// vectorSize is not enforced here.
func (s *ChromemStore) EnsureCollection(_ context.Context, collection string, _ int) error {
	_, err := s.getCollection(collection)
	return err
}

func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	// The embedding function is nil because all documents and queries carry
	// precomputed embeddings.
	c, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection: %w", err)
	}
	s.collections[name] = c
	return c, nil
}

// Upsert inserts or updates points in the collection.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(points) == 0 {
		return nil
	}

	c, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, point := range points {
		meta := make(map[string]string, len(point.Meta))
		for key, value := range point.Meta {
			meta[key] = fmt.Sprintf("%v", value)
		}
		docs = append(docs, chromem.Document{
			ID:        point.ID,
			Metadata:  meta,
			Embedding: point.Vec,
			// chromem requires non-empty content; the chunk text lives in
			// SQLite, so only the point ID is mirrored here.
			Content: point.ID,
		})
	}

	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.InfoContext(ctx, "upserted points", "collection", collection, "count", len(points))
	return nil
}

// Search performs a similarity search restricted by the filter.
// chromem only supports single-equality metadata filters, so document-set and
// session filters are applied client-side after an over-fetch.
func (s *ChromemStore) Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	c, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	total := c.Count()
	if total == 0 {
		return nil, nil
	}

	// Over-fetch so client-side filtering still yields k results.
	n := k * 4
	if n > total {
		n = total
	}

	raw, err := c.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	allowedDocs := make(map[string]bool, len(filter.DocumentIDs))
	for _, id := range filter.DocumentIDs {
		allowedDocs[id] = true
	}

	results := make([]SearchResult, 0, k)
	for _, r := range raw {
		if len(allowedDocs) > 0 && !allowedDocs[r.Metadata["document_id"]] {
			continue
		}
		if len(allowedDocs) == 0 && filter.SessionID != "" {
			sid := r.Metadata["session_id"]
			if sid != "" && sid != filter.SessionID {
				continue
			}
		}

		meta := make(map[string]any, len(r.Metadata))
		for key, value := range r.Metadata {
			meta[key] = value
		}
		results = append(results, SearchResult{
			PointID: r.ID,
			Score:   r.Similarity,
			Meta:    meta,
		})
		if len(results) == k {
			break
		}
	}

	logger.DebugContext(ctx, "search completed", "collection", collection, "k", k, "results", len(results))
	return results, nil
}

// Delete removes points by their IDs.
func (s *ChromemStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	c, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}
