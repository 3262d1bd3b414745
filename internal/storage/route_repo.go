package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_route_store.go -package=mocks bookchat-ai/internal/storage RouteStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RouteStore defines the interface for routing index persistence.
// Routing data is advisory: a document without it is still fully searchable.
type RouteStore interface {
	// Upsert replaces a document's routing data (book vector and sections).
	Upsert(ctx context.Context, index *RouteIndex) error
	// GetByDocuments returns routing data for the given documents, keyed by
	// document ID. Documents without routing data are simply absent.
	GetByDocuments(ctx context.Context, documentIDs []string) (map[string]*RouteIndex, error)
	// DeleteByDocument removes a document's routing data.
	DeleteByDocument(ctx context.Context, documentID string) error
}

// RouteRepo provides methods for routing index operations.
// It implements the RouteStore interface.
type RouteRepo struct {
	db *sql.DB
}

// NewRouteRepo creates a new RouteRepo.
func NewRouteRepo(db *sql.DB) *RouteRepo {
	return &RouteRepo{db: db}
}

// Upsert replaces a document's routing data (book vector and sections).
func (r *RouteRepo) Upsert(ctx context.Context, index *RouteIndex) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	docID := index.Book.DocumentID
	if _, err := tx.ExecContext(ctx, "DELETE FROM route_sections WHERE document_id = ?", docID); err != nil {
		return fmt.Errorf("failed to clear route sections: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM route_books WHERE document_id = ?", docID); err != nil {
		return fmt.Errorf("failed to clear route book: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO route_books (document_id, vector, chunk_count, page_count) VALUES (?, ?, ?, ?)",
		docID, encodeVector(index.Book.Vector), index.Book.ChunkCount, index.Book.PageCount,
	)
	if err != nil {
		return fmt.Errorf("failed to insert route book: %w", err)
	}

	for i := range index.Sections {
		sec := &index.Sections[i]
		chunkIDs, err := marshalStrings(sec.ChunkIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal section chunk ids: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO route_sections (id, document_id, page_start, page_end, vector, chunk_ids) VALUES (?, ?, ?, ?, ?, ?)",
			sec.ID, sec.DocumentID, sec.PageStart, sec.PageEnd, encodeVector(sec.Vector), chunkIDs,
		)
		if err != nil {
			return fmt.Errorf("failed to insert route section: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit route index: %w", err)
	}
	return nil
}

// GetByDocuments returns routing data for the given documents, keyed by document ID.
func (r *RouteRepo) GetByDocuments(ctx context.Context, documentIDs []string) (map[string]*RouteIndex, error) {
	if len(documentIDs) == 0 {
		return map[string]*RouteIndex{}, nil
	}

	args := make([]any, 0, len(documentIDs))
	for _, id := range documentIDs {
		args = append(args, id)
	}
	in := placeholders(len(documentIDs))

	rows, err := r.db.QueryContext(ctx,
		"SELECT document_id, vector, chunk_count, page_count FROM route_books WHERE document_id IN ("+in+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query route books: %w", err)
	}

	result := make(map[string]*RouteIndex)
	err = func() error {
		defer func() {
			_ = rows.Close()
		}()
		for rows.Next() {
			var book RouteBook
			var vector []byte
			if err := rows.Scan(&book.DocumentID, &vector, &book.ChunkCount, &book.PageCount); err != nil {
				return fmt.Errorf("failed to scan route book: %w", err)
			}
			vec, err := decodeVector(vector)
			if err != nil {
				return err
			}
			book.Vector = vec
			result[book.DocumentID] = &RouteIndex{Book: book}
		}
		return rows.Err()
	}()
	if err != nil {
		return nil, err
	}

	secRows, err := r.db.QueryContext(ctx,
		"SELECT id, document_id, page_start, page_end, vector, chunk_ids FROM route_sections WHERE document_id IN ("+in+") ORDER BY document_id, page_start",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query route sections: %w", err)
	}
	defer func() {
		_ = secRows.Close()
	}()

	for secRows.Next() {
		var sec RouteSection
		var vector []byte
		var chunkIDs sql.NullString
		if err := secRows.Scan(&sec.ID, &sec.DocumentID, &sec.PageStart, &sec.PageEnd, &vector, &chunkIDs); err != nil {
			return nil, fmt.Errorf("failed to scan route section: %w", err)
		}
		vec, err := decodeVector(vector)
		if err != nil {
			return nil, err
		}
		sec.Vector = vec
		if chunkIDs.Valid && chunkIDs.String != "" {
			if err := json.Unmarshal([]byte(chunkIDs.String), &sec.ChunkIDs); err != nil {
				return nil, fmt.Errorf("invalid section chunk ids payload: %w", err)
			}
		}
		index, ok := result[sec.DocumentID]
		if !ok {
			// Section without a book vector; skip rather than fabricate routing data.
			continue
		}
		index.Sections = append(index.Sections, sec)
	}
	if err := secRows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return result, nil
}

// DeleteByDocument removes a document's routing data.
func (r *RouteRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM route_sections WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete route sections: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM route_books WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete route book: %w", err)
	}
	return nil
}
