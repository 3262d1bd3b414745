package rag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"bookchat-ai/internal/citation"
	"bookchat-ai/internal/llm"
	"bookchat-ai/internal/rag/mocks"
	"bookchat-ai/internal/retrieval"
	"bookchat-ai/internal/storage"
)

type engineFixture struct {
	db        *sql.DB
	embedder  *mocks.MockEmbedder
	generator *mocks.MockGenerator
	documents storage.DocumentStore
	chunks    storage.ChunkStore
	sessions  storage.SessionStore
	messages  storage.MessageStore
	engine    Engine
}

func newEngineFixture(t *testing.T, ctrl *gomock.Controller) *engineFixture {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	f := &engineFixture{
		db:        db,
		embedder:  mocks.NewMockEmbedder(ctrl),
		generator: mocks.NewMockGenerator(ctrl),
		documents: storage.NewDocumentRepo(db),
		chunks:    storage.NewChunkRepo(db),
		sessions:  storage.NewSessionRepo(db),
		messages:  storage.NewMessageRepo(db),
	}

	f.engine = NewEngine(Deps{
		Embedder:   f.embedder,
		Generator:  f.generator,
		Chunks:     f.chunks,
		Documents:  f.documents,
		Messages:   f.messages,
		Routes:     storage.NewRouteRepo(db),
		Retriever:  retrieval.NewHybridRetriever(retrieval.DefaultHybridConfig(), nil),
		Prefilter:  retrieval.NewRoutePrefilter(retrieval.DefaultRouteConfig()),
		Combiner:   retrieval.NewPageCombiner(),
		Expander:   retrieval.NewNeighborExpander(retrieval.DefaultNeighborConfig()),
		Validator:  citation.NewValidator(citation.DefaultConfig()),
		Rewriter:   NewQueryRewriter(f.generator),
		MaxResults: 12,
		Strictness: citation.StrictnessNormal,
	})
	return f
}

func (f *engineFixture) seedSession(t *testing.T, sessionID string) {
	t.Helper()
	if err := f.sessions.Insert(context.Background(), &storage.Session{ID: sessionID, Title: "test"}); err != nil {
		t.Fatalf("failed to insert session: %v", err)
	}
}

func (f *engineFixture) seedDocument(t *testing.T, docID, sessionID, title string, contents []string) {
	t.Helper()
	ctx := context.Background()

	doc := storage.Document{
		ID:        docID,
		SessionID: sessionID,
		Title:     title,
		Filename:  title + ".pdf",
		PageCount: len(contents),
		Hash:      "hash-" + docID,
		Enabled:   true,
	}
	if err := f.documents.Insert(ctx, &doc); err != nil {
		t.Fatalf("failed to insert document: %v", err)
	}

	chunks := make([]storage.Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = storage.Chunk{
			ID:         fmt.Sprintf("%s-chunk-%d", docID, i),
			DocumentID: docID,
			SessionID:  sessionID,
			ChunkIndex: i,
			Page:       i + 1,
			Content:    content,
			TokenCount: len(content) / 4,
			Embedding:  []float32{1, float32(i) * 0.01},
		}
	}
	if err := f.chunks.InsertBatch(ctx, chunks); err != nil {
		t.Fatalf("failed to insert chunks: %v", err)
	}
}

func TestEngine_Ask_GroundedAnswer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	f.seedSession(t, "session-1")
	f.seedDocument(t, "doc-1", "session-1", "Eye Anatomy", []string{
		"The lens focuses light onto the retina, where the image forms.",
		"The cornea provides most of the eye's refractive power.",
	})

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)
	f.generator.EXPECT().ChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("The lens focuses light onto the retina [1].", nil)

	resp, err := f.engine.Ask(context.Background(), AskRequest{
		Question:  "How does the lens work?",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if len(resp.References) != 1 {
		t.Fatalf("got %d references, want 1: answer %q", len(resp.References), resp.Answer)
	}
	if !strings.Contains(resp.Answer, "[1]") {
		t.Errorf("answer %q should carry marker [1]", resp.Answer)
	}
	if resp.References[0].SourceIndex != 1 {
		t.Errorf("reference SourceIndex = %d, want 1", resp.References[0].SourceIndex)
	}
	if resp.References[0].DocumentTitle != "Eye Anatomy" {
		t.Errorf("reference title = %q", resp.References[0].DocumentTitle)
	}

	// The turn and its citations are persisted.
	if resp.MessageID == "" {
		t.Fatal("expected a persisted assistant message id")
	}
	stored, err := f.messages.ListBySession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("got %d persisted messages, want 2", len(stored))
	}
	citations, err := f.messages.ListCitations(context.Background(), resp.MessageID)
	if err != nil {
		t.Fatalf("ListCitations() error = %v", err)
	}
	if len(citations) != 1 {
		t.Errorf("got %d persisted citations, want 1", len(citations))
	}
}

func TestEngine_Ask_NoDocumentsAbstains(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)

	resp, err := f.engine.Ask(context.Background(), AskRequest{Question: "Anything at all?"})
	if err != nil {
		t.Fatalf("Ask() with empty scope should not error, got %v", err)
	}
	if resp.Answer != noEvidenceMessage {
		t.Errorf("answer = %q, want the no-evidence message", resp.Answer)
	}
	if len(resp.References) != 0 {
		t.Errorf("got %d references, want 0", len(resp.References))
	}
}

func TestEngine_Ask_RetriesWithOriginalQuery(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	// History makes the rewriter fire; an empty corpus then forces the
	// retry with the original question.
	f.seedSession(t, "session-1")
	seedTurn := func(role, content string) {
		if err := f.messages.Insert(context.Background(), &storage.Message{
			ID: role + "-seed", SessionID: "session-1", Role: role, Content: content,
		}); err != nil {
			t.Fatalf("failed to seed message: %v", err)
		}
	}
	seedTurn("user", "Tell me about cataracts.")

	f.generator.EXPECT().ChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("What causes cataracts?", nil)
	// One embed per retrieval attempt: rewritten first, then original.
	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil).Times(2)

	resp, err := f.engine.Ask(context.Background(), AskRequest{
		Question:  "What are its causes?",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != noEvidenceMessage {
		t.Errorf("answer = %q, want the no-evidence message", resp.Answer)
	}
}

func TestEngine_Ask_GeneratorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	f.seedSession(t, "session-1")
	f.seedDocument(t, "doc-1", "session-1", "Eye Anatomy", []string{
		"The lens focuses light onto the retina, where the image forms.",
	})

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)
	f.generator.EXPECT().ChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("connection reset"))

	_, err := f.engine.Ask(context.Background(), AskRequest{
		Question:  "How does the lens work?",
		SessionID: "session-1",
	})
	if !errors.Is(err, ErrGenerator) {
		t.Errorf("Ask() error = %v, want ErrGenerator", err)
	}
}

func TestEngine_Ask_StrictRetryOnZeroCitations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	f.seedSession(t, "session-1")
	f.seedDocument(t, "doc-1", "session-1", "Eye Anatomy", []string{
		"The lens focuses light onto the retina, where the image forms.",
	})

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)
	gomock.InOrder(
		f.generator.EXPECT().ChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("The answer involves optics and physics generally speaking here.", nil),
		f.generator.EXPECT().ChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any()).
			Return("The lens focuses light onto the retina [1].", nil),
	)

	resp, err := f.engine.Ask(context.Background(), AskRequest{
		Question:  "How does the lens work?",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(resp.References) != 1 {
		t.Fatalf("got %d references after strict retry, want 1: %q", len(resp.References), resp.Answer)
	}
}

func TestEngine_Ask_FailsClosedWhenRetryUngrounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	f.seedSession(t, "session-1")
	f.seedDocument(t, "doc-1", "session-1", "Eye Anatomy", []string{
		"The lens focuses light onto the retina, where the image forms.",
	})

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)
	f.generator.EXPECT().ChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("The answer involves optics and physics generally speaking here.", nil).Times(2)

	resp, err := f.engine.Ask(context.Background(), AskRequest{
		Question:  "How does the lens work?",
		SessionID: "session-1",
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if resp.Answer != citation.GroundingFailureMessage {
		t.Errorf("answer = %q, want the grounding failure message", resp.Answer)
	}
	if len(resp.References) != 0 {
		t.Errorf("got %d references, want 0", len(resp.References))
	}
}

func TestEngine_AskStream_DeliversDraftAndValidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	f.seedSession(t, "session-1")
	f.seedDocument(t, "doc-1", "session-1", "Eye Anatomy", []string{
		"The lens focuses light onto the retina, where the image forms.",
	})

	f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return([][]float32{{1, 0}}, nil)
	f.generator.EXPECT().StreamChatWithMessages(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ []llm.Message, _ llm.ChatParams, callback func(string) error) error {
			for _, chunk := range []string{"The lens focuses light ", "onto the retina [1]."} {
				if err := callback(chunk); err != nil {
					return err
				}
			}
			return nil
		})

	var streamed strings.Builder
	resp, err := f.engine.AskStream(context.Background(), AskRequest{
		Question:  "How does the lens work?",
		SessionID: "session-1",
	}, func(chunk string) error {
		streamed.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("AskStream() error = %v", err)
	}

	if streamed.String() != "The lens focuses light onto the retina [1]." {
		t.Errorf("streamed draft = %q", streamed.String())
	}
	if len(resp.References) != 1 {
		t.Errorf("got %d references, want 1", len(resp.References))
	}
}

func TestEngine_Ask_EmptyQuestion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	f := newEngineFixture(t, ctrl)

	if _, err := f.engine.Ask(context.Background(), AskRequest{Question: "   "}); err == nil {
		t.Error("Ask() with blank question should error")
	}
}
