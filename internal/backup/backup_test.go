package backup

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"readinglog/internal/models"
	"readinglog/internal/store/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.SQLStore {
	t.Helper()
	s, err := sqlstore.New("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)

	rating := 5
	book := models.Book{
		ID:     "b1",
		Title:  "Dune",
		Author: "Frank Herbert",
		Status: models.StatusCompleted,
		Progress: models.Progress{
			Current: 300,
			Total:   300,
			Unit:    "page",
		},
		Rating:    &rating,
		AddedAt:   time.Now().Add(-48 * time.Hour),
		UpdatedAt: time.Now(),
	}
	if err := src.CreateBook(book); err != nil {
		t.Fatal(err)
	}
	if err := src.CreateNote(models.Note{ID: "n1", BookID: "b1", Content: "memo", Type: models.NoteTypeNote}); err != nil {
		t.Fatal(err)
	}
	if err := src.CreateNote(models.Note{ID: "n2", BookID: "b1", Content: "caption", Type: models.NoteTypeVisualization, AIGeneratedImage: "data:image/png;base64,xxxx"}); err != nil {
		t.Fatal(err)
	}
	sess, err := src.EnsureChatSession("b1", models.ChatMessage{Role: "model", Content: "greeting"})
	if err != nil {
		t.Fatal(err)
	}
	if err := src.AppendChatMessage(sess.ID, models.ChatMessage{Role: "user", Content: "最高だった"}); err != nil {
		t.Fatal(err)
	}

	bundle, err := Export(src)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if bundle.Version != FormatVersion {
		t.Errorf("Expected version %s, got %s", FormatVersion, bundle.Version)
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatal(err)
	}

	dst := newTestStore(t)
	summary, err := Import(dst, raw)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if summary.Books != 1 || summary.Notes != 2 || summary.ChatSessions != 1 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	gotBook, err := dst.GetBook("b1")
	if err != nil {
		t.Fatal(err)
	}
	if gotBook.Title != "Dune" || gotBook.Author != "Frank Herbert" ||
		gotBook.Rating == nil || *gotBook.Rating != 5 || gotBook.Progress.Current != 300 {
		t.Errorf("Book did not round-trip: %+v", gotBook)
	}

	gotNotes, err := dst.ListNotes("b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gotNotes) != 2 {
		t.Fatalf("Expected 2 notes, got %d", len(gotNotes))
	}

	gotSess, ok, err := dst.GetChatSession("b1")
	if err != nil || !ok {
		t.Fatalf("Session did not round-trip: ok=%v err=%v", ok, err)
	}
	if len(gotSess.Messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(gotSess.Messages))
	}
	if gotSess.Messages[1].Content != "最高だった" {
		t.Errorf("Message order lost: %+v", gotSess.Messages)
	}
}

func TestImportRejectsInvalidBundles(t *testing.T) {
	s := newTestStore(t)

	for _, tt := range []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"missing version", `{"data": {"books": [], "notes": [], "chatSessions": []}}`},
		{"missing data", `{"version": "1.0"}`},
	} {
		if _, err := Import(s, []byte(tt.raw)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	// Nothing was written
	books, err := s.ListBooks()
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 0 {
		t.Errorf("Expected store untouched, got %d books", len(books))
	}
}

func TestImportBackfillsLegacyNoteTypes(t *testing.T) {
	s := newTestStore(t)

	raw := `{
		"version": "1.0",
		"exportDate": "2024-06-01T00:00:00Z",
		"data": {
			"books": [],
			"notes": [
				{"id": "n1", "bookId": "b1", "content": "視覚的印象：a dark forest", "aiGeneratedImage": "data:image/png;base64,xxxx", "createdAt": "2024-05-01T00:00:00Z"},
				{"id": "n2", "bookId": "b1", "content": "ただのメモ", "createdAt": "2024-05-02T00:00:00Z"},
				{"id": "n3", "bookId": "b1", "content": "no marker", "aiGeneratedImage": "data:image/png;base64,yyyy", "createdAt": "2024-05-03T00:00:00Z"}
			],
			"chatSessions": []
		}
	}`

	if _, err := Import(s, []byte(raw)); err != nil {
		t.Fatalf("Import: %v", err)
	}

	want := map[string]string{
		"n1": models.NoteTypeVisualization,
		"n2": models.NoteTypeNote,
		"n3": models.NoteTypeVisualization,
	}
	for id, wantType := range want {
		n, err := s.GetNote(id)
		if err != nil {
			t.Fatalf("GetNote(%s): %v", id, err)
		}
		if n.Type != wantType {
			t.Errorf("Note %s: expected %s, got %s", id, wantType, n.Type)
		}
	}
}

func TestImportPreservesExplicitTypes(t *testing.T) {
	s := newTestStore(t)

	raw := `{
		"version": "1.0",
		"exportDate": "2024-06-01T00:00:00Z",
		"data": {
			"books": [],
			"notes": [
				{"id": "n1", "bookId": "b1", "content": "視覚的印象：pre-typed", "type": "note", "createdAt": "2024-05-01T00:00:00Z"}
			],
			"chatSessions": []
		}
	}`

	if _, err := Import(s, []byte(raw)); err != nil {
		t.Fatal(err)
	}
	n, err := s.GetNote("n1")
	if err != nil {
		t.Fatal(err)
	}
	if n.Type != models.NoteTypeNote {
		t.Errorf("Explicit type must not be reclassified, got %s", n.Type)
	}
}
