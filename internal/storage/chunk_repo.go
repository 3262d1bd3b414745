package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks bookchat-ai/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ChunkStore defines the interface for chunk storage operations.
type ChunkStore interface {
	// InsertBatch inserts chunks in a single transaction.
	// Each chunk.ID must be set (UUID) before calling this method.
	InsertBatch(ctx context.Context, chunks []Chunk) error
	// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*Chunk, error)
	// ListScope returns all chunks in a query's scope: chunks of the given
	// documents, or of every document visible to the session when documentIDs
	// is empty. Ordered by (document_id, chunk_index).
	ListScope(ctx context.Context, sessionID string, documentIDs []string) ([]Chunk, error)
	// DeleteByDocument deletes all chunks for a document.
	DeleteByDocument(ctx context.Context, documentID string) error
}

// ChunkRepo provides methods for chunk operations.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// InsertBatch inserts chunks in a single transaction.
func (r *ChunkRepo) InsertBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (id, document_id, session_id, chunk_index, page, pages, content, token_count, embedding) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for i := range chunks {
		chunk := &chunks[i]
		pages, err := marshalInts(chunk.Pages)
		if err != nil {
			return fmt.Errorf("failed to marshal pages for chunk %s: %w", chunk.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			chunk.ID, chunk.DocumentID, chunk.SessionID, chunk.ChunkIndex,
			chunk.Page, pages, chunk.Content, chunk.TokenCount, encodeVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk batch: %w", err)
	}
	return nil
}

// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
func (r *ChunkRepo) GetByID(ctx context.Context, id string) (*Chunk, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, document_id, session_id, chunk_index, page, pages, content, token_count, embedding FROM chunks WHERE id = ?",
		id,
	)

	chunk, err := scanChunk(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	return chunk, nil
}

// ListScope returns all chunks in a query's scope, ordered by (document_id, chunk_index).
func (r *ChunkRepo) ListScope(ctx context.Context, sessionID string, documentIDs []string) ([]Chunk, error) {
	query := "SELECT c.id, c.document_id, c.session_id, c.chunk_index, c.page, c.pages, c.content, c.token_count, c.embedding " +
		"FROM chunks c JOIN documents d ON d.id = c.document_id WHERE d.enabled = 1"
	args := []any{}

	if len(documentIDs) > 0 {
		query += " AND c.document_id IN (" + placeholders(len(documentIDs)) + ")"
		for _, id := range documentIDs {
			args = append(args, id)
		}
	} else {
		query += " AND (c.session_id = ? OR c.session_id = '')"
		args = append(args, sessionID)
	}
	query += " ORDER BY c.document_id, c.chunk_index"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var chunks []Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return chunks, nil
}

// DeleteByDocument deletes all chunks for a document.
// Used when re-ingesting a document to remove old chunks first.
func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks by document: %w", err)
	}
	return nil
}

func scanChunk(scan func(dest ...any) error) (*Chunk, error) {
	var chunk Chunk
	var pages sql.NullString
	var embedding []byte
	err := scan(&chunk.ID, &chunk.DocumentID, &chunk.SessionID, &chunk.ChunkIndex,
		&chunk.Page, &pages, &chunk.Content, &chunk.TokenCount, &embedding)
	if err != nil {
		return nil, err
	}
	if pages.Valid && pages.String != "" {
		if err := json.Unmarshal([]byte(pages.String), &chunk.Pages); err != nil {
			return nil, fmt.Errorf("invalid pages payload: %w", err)
		}
	}
	vec, err := decodeVector(embedding)
	if err != nil {
		return nil, err
	}
	chunk.Embedding = vec
	return &chunk, nil
}

func marshalInts(values []int) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
