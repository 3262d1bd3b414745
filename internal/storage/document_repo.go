package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks bookchat-ai/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"fmt"
)

// DocumentStore defines the interface for document metadata operations.
type DocumentStore interface {
	// Insert inserts a document record. The doc.ID must be set (UUID).
	Insert(ctx context.Context, doc *Document) error
	// GetByID gets a document by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*Document, error)
	// ListBySession returns all enabled documents visible to a session,
	// including shared corpus documents (empty session_id).
	ListBySession(ctx context.Context, sessionID string) ([]Document, error)
	// FindByHash returns the document with the given content hash, or ErrNotFound.
	FindByHash(ctx context.Context, hash string) (*Document, error)
	// SetEnabled toggles a document in or out of retrieval scope.
	SetEnabled(ctx context.Context, id string, enabled bool) error
	// Delete removes a document record. Returns ErrNotFound if not found.
	Delete(ctx context.Context, id string) error
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Insert inserts a document record. The doc.ID must be set (UUID).
func (r *DocumentRepo) Insert(ctx context.Context, doc *Document) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO documents (id, session_id, title, filename, page_count, hash, enabled) VALUES (?, ?, ?, ?, ?, ?, ?)",
		doc.ID, doc.SessionID, doc.Title, doc.Filename, doc.PageCount, doc.Hash, boolToInt(doc.Enabled),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetByID gets a document by its ID. Returns ErrNotFound if not found.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, session_id, title, filename, page_count, hash, enabled, created_at FROM documents WHERE id = ?",
		id,
	)
	return scanDocument(row)
}

// ListBySession returns all enabled documents visible to a session,
// including shared corpus documents (empty session_id).
func (r *DocumentRepo) ListBySession(ctx context.Context, sessionID string) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, session_id, title, filename, page_count, hash, enabled, created_at FROM documents WHERE enabled = 1 AND (session_id = ? OR session_id = '') ORDER BY created_at",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []Document
	for rows.Next() {
		var doc Document
		var enabled int
		if err := rows.Scan(&doc.ID, &doc.SessionID, &doc.Title, &doc.Filename, &doc.PageCount, &doc.Hash, &enabled, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Enabled = enabled != 0
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return docs, nil
}

// FindByHash returns the document with the given content hash, or ErrNotFound.
func (r *DocumentRepo) FindByHash(ctx context.Context, hash string) (*Document, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, session_id, title, filename, page_count, hash, enabled, created_at FROM documents WHERE hash = ?",
		hash,
	)
	return scanDocument(row)
}

// SetEnabled toggles a document in or out of retrieval scope.
func (r *DocumentRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE documents SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a document record. Derived data (chunks, vectors, routing)
// is the ingest pipeline's responsibility.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var enabled int
	err := row.Scan(&doc.ID, &doc.SessionID, &doc.Title, &doc.Filename, &doc.PageCount, &doc.Hash, &enabled, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	doc.Enabled = enabled != 0
	return &doc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
