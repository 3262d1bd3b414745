package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_session_store.go -package=mocks bookchat-ai/internal/storage SessionStore
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_message_store.go -package=mocks bookchat-ai/internal/storage MessageStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SessionStore defines the interface for session operations.
type SessionStore interface {
	// Insert inserts a session record. The session.ID must be set (UUID).
	Insert(ctx context.Context, session *Session) error
	// GetByID gets a session by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*Session, error)
}

// MessageStore defines the interface for message and citation operations.
type MessageStore interface {
	// Insert inserts a message record. The msg.ID must be set (UUID).
	Insert(ctx context.Context, msg *Message) error
	// ListBySession returns all messages of a session in chronological order.
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
	// ListRecent returns up to limit most recent messages of a session,
	// oldest first.
	ListRecent(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// InsertCitations inserts the citations of an assistant message in one transaction.
	InsertCitations(ctx context.Context, citations []Citation) error
	// ListCitations returns a message's citations ordered by source index.
	ListCitations(ctx context.Context, messageID string) ([]Citation, error)
}

// SessionRepo provides methods for session operations.
// It implements the SessionStore interface.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Insert inserts a session record.
func (r *SessionRepo) Insert(ctx context.Context, session *Session) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sessions (id, title) VALUES (?, ?)",
		session.ID, session.Title,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetByID gets a session by its ID. Returns ErrNotFound if not found.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*Session, error) {
	var session Session
	err := r.db.QueryRowContext(ctx,
		"SELECT id, title, created_at FROM sessions WHERE id = ?",
		id,
	).Scan(&session.ID, &session.Title, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &session, nil
}

// MessageRepo provides methods for message and citation operations.
// It implements the MessageStore interface.
type MessageRepo struct {
	db *sql.DB
}

// NewMessageRepo creates a new MessageRepo.
func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert inserts a message record.
func (r *MessageRepo) Insert(ctx context.Context, msg *Message) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO messages (id, session_id, role, content) VALUES (?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListBySession returns all messages of a session in chronological order.
func (r *MessageRepo) ListBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at, id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return collectMessages(rows)
}

// ListRecent returns up to limit most recent messages of a session, oldest first.
func (r *MessageRepo) ListRecent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, session_id, role, content, created_at FROM ("+
			"SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?"+
			") ORDER BY created_at, id",
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	return collectMessages(rows)
}

// InsertCitations inserts the citations of an assistant message in one transaction.
func (r *MessageRepo) InsertCitations(ctx context.Context, citations []Citation) error {
	if len(citations) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := range citations {
		c := &citations[i]
		pages, err := marshalInts(c.Pages)
		if err != nil {
			return fmt.Errorf("failed to marshal citation pages: %w", err)
		}
		chunkIDs, err := marshalStrings(c.ChunkIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal citation chunk ids: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO citations (id, message_id, source_index, document_id, document_title, pages, excerpt, chunk_ids, confidence) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			c.ID, c.MessageID, c.SourceIndex, c.DocumentID, c.DocumentTitle, pages, c.Excerpt, chunkIDs, c.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert citation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit citations: %w", err)
	}
	return nil
}

// ListCitations returns a message's citations ordered by source index.
func (r *MessageRepo) ListCitations(ctx context.Context, messageID string) ([]Citation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, message_id, source_index, document_id, document_title, pages, excerpt, chunk_ids, confidence FROM citations WHERE message_id = ? ORDER BY source_index",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query citations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var citations []Citation
	for rows.Next() {
		var c Citation
		var pages, chunkIDs sql.NullString
		if err := rows.Scan(&c.ID, &c.MessageID, &c.SourceIndex, &c.DocumentID, &c.DocumentTitle, &pages, &c.Excerpt, &chunkIDs, &c.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		if pages.Valid && pages.String != "" {
			if err := json.Unmarshal([]byte(pages.String), &c.Pages); err != nil {
				return nil, fmt.Errorf("invalid citation pages payload: %w", err)
			}
		}
		if chunkIDs.Valid && chunkIDs.String != "" {
			if err := json.Unmarshal([]byte(chunkIDs.String), &c.ChunkIDs); err != nil {
				return nil, fmt.Errorf("invalid citation chunk ids payload: %w", err)
			}
		}
		citations = append(citations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return citations, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() {
		_ = rows.Close()
	}()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return messages, nil
}

func marshalStrings(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
