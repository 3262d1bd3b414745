package storage

import (
	"context"
	"testing"
)

func TestDocumentRepo_InsertAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepo(db)

	doc := &Document{
		ID:        "doc-1",
		Title:     "Clinical Ophthalmology",
		Filename:  "clinical-ophthalmology.pdf",
		PageCount: 540,
		Hash:      "abc123",
		Enabled:   true,
	}
	if err := repo.Insert(context.Background(), doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.GetByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != doc.Title || got.PageCount != 540 || !got.Enabled {
		t.Errorf("GetByID() = %+v, want %+v", got, doc)
	}

	if _, err := repo.GetByID(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("GetByID() for missing doc error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo_FindByHash(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepo(db)

	doc := &Document{ID: "doc-1", Filename: "a.pdf", Hash: "samehash", Enabled: true}
	if err := repo.Insert(context.Background(), doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.FindByHash(context.Background(), "samehash")
	if err != nil {
		t.Fatalf("FindByHash() error = %v", err)
	}
	if got.ID != "doc-1" {
		t.Errorf("FindByHash() ID = %q, want doc-1", got.ID)
	}

	if _, err := repo.FindByHash(context.Background(), "nope"); err != ErrNotFound {
		t.Errorf("FindByHash() for unknown hash error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo_SetEnabled(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepo(db)

	doc := &Document{ID: "doc-1", Filename: "a.pdf", Hash: "h", Enabled: true}
	if err := repo.Insert(context.Background(), doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := repo.SetEnabled(context.Background(), "doc-1", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	docs, err := repo.ListBySession(context.Background(), "any")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("ListBySession() returned %d disabled docs, want 0", len(docs))
	}

	if err := repo.SetEnabled(context.Background(), "missing", true); err != ErrNotFound {
		t.Errorf("SetEnabled() for missing doc error = %v, want ErrNotFound", err)
	}
}

func TestDocumentRepo_Delete(t *testing.T) {
	db := openTestDB(t)
	repo := NewDocumentRepo(db)

	doc := &Document{ID: "doc-1", Filename: "a.pdf", Hash: "h", Enabled: true}
	if err := repo.Insert(context.Background(), doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := repo.Delete(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(context.Background(), "doc-1"); err != ErrNotFound {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := repo.FindByHash(context.Background(), "h"); err != ErrNotFound {
		t.Errorf("FindByHash() after delete error = %v, want ErrNotFound", err)
	}

	if err := repo.Delete(context.Background(), "doc-1"); err != ErrNotFound {
		t.Errorf("Delete() for missing doc error = %v, want ErrNotFound", err)
	}
}
