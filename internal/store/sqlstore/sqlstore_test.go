package sqlstore

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"readinglog/internal/models"
	"readinglog/internal/store"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addBook(t *testing.T, s *SQLStore, title string) models.Book {
	t.Helper()
	b := models.Book{
		Title:  title,
		Author: "Author",
		Status: models.StatusReading,
		Progress: models.Progress{
			Current: 10,
			Total:   300,
			Unit:    "page",
		},
	}
	if err := s.CreateBook(b); err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	books, err := s.ListBooks()
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	for _, got := range books {
		if got.Title == title {
			return got
		}
	}
	t.Fatalf("Created book %q not found", title)
	return models.Book{}
}

func TestBookCRUD(t *testing.T) {
	s := newTestStore(t)

	book := addBook(t, s, "Dune")
	if book.ID == "" {
		t.Fatal("Expected generated book ID")
	}

	got, err := s.GetBook(book.ID)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if got.Title != "Dune" || got.Progress.Total != 300 {
		t.Errorf("Unexpected book: %+v", got)
	}
	if got.Rating != nil {
		t.Errorf("Expected nil rating, got %v", *got.Rating)
	}

	newStatus := models.StatusCompleted
	rating := 5
	err = s.UpdateBook(book.ID, models.BookUpdate{Status: &newStatus, Rating: &rating})
	if err != nil {
		t.Fatalf("Failed to update book: %v", err)
	}
	got, _ = s.GetBook(book.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected status completed, got %s", got.Status)
	}
	if got.Rating == nil || *got.Rating != 5 {
		t.Errorf("Expected rating 5, got %v", got.Rating)
	}
	if !got.UpdatedAt.After(book.UpdatedAt) {
		t.Error("Expected updated_at to advance")
	}

	if err := s.UpdateBook("missing", models.BookUpdate{Status: &newStatus}); err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetBook("missing"); err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteBookCascades(t *testing.T) {
	s := newTestStore(t)

	doomed := addBook(t, s, "Doomed")
	kept := addBook(t, s, "Kept")

	for _, b := range []models.Book{doomed, kept} {
		if err := s.CreateNote(models.Note{BookID: b.ID, Content: "memo", Type: models.NoteTypeNote}); err != nil {
			t.Fatalf("Failed to create note: %v", err)
		}
		if _, err := s.EnsureChatSession(b.ID, models.ChatMessage{Role: "model", Content: "greeting"}); err != nil {
			t.Fatalf("Failed to ensure session: %v", err)
		}
	}

	if err := s.DeleteBook(doomed.ID); err != nil {
		t.Fatalf("Failed to delete book: %v", err)
	}

	notes, _ := s.ListNotes(doomed.ID)
	if len(notes) != 0 {
		t.Errorf("Expected doomed book's notes deleted, got %d", len(notes))
	}
	if _, ok, _ := s.GetChatSession(doomed.ID); ok {
		t.Error("Expected doomed book's session deleted")
	}

	// The other book's records survive
	notes, _ = s.ListNotes(kept.ID)
	if len(notes) != 1 {
		t.Errorf("Expected kept book's note to survive, got %d", len(notes))
	}
	sess, ok, _ := s.GetChatSession(kept.ID)
	if !ok || len(sess.Messages) != 1 {
		t.Error("Expected kept book's session to survive")
	}

	if err := s.DeleteBook(doomed.ID); err != store.ErrNotFound {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestNotesByType(t *testing.T) {
	s := newTestStore(t)
	book := addBook(t, s, "Typed")

	if err := s.CreateNote(models.Note{BookID: book.ID, Content: "memo", Type: models.NoteTypeNote}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateNote(models.Note{BookID: book.ID, Content: "caption", Type: models.NoteTypeVisualization, AIGeneratedImage: "data:image/png;base64,xxxx"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListNotes(book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 notes, got %d", len(all))
	}

	viz, err := s.ListNotesByType(book.ID, models.NoteTypeVisualization)
	if err != nil {
		t.Fatal(err)
	}
	if len(viz) != 1 || viz[0].AIGeneratedImage == "" {
		t.Errorf("Expected 1 visualization with image, got %+v", viz)
	}
}

func TestEnsureChatSessionIdempotent(t *testing.T) {
	s := newTestStore(t)
	book := addBook(t, s, "Concurrent")

	seed := models.ChatMessage{Role: "model", Content: "greeting"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.EnsureChatSession(book.ID, seed); err != nil {
				t.Errorf("EnsureChatSession: %v", err)
			}
		}()
	}
	wg.Wait()

	sessions, err := s.ListAllChatSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected exactly 1 session, got %d", len(sessions))
	}
	if len(sessions[0].Messages) != 1 {
		t.Errorf("Expected exactly 1 seeded greeting, got %d messages", len(sessions[0].Messages))
	}
}

func TestAppendChatMessageOrdering(t *testing.T) {
	s := newTestStore(t)
	book := addBook(t, s, "Ordered")

	sess, err := s.EnsureChatSession(book.ID, models.ChatMessage{Role: "model", Content: "greeting"})
	if err != nil {
		t.Fatal(err)
	}
	for i, content := range []string{"first", "second", "third"} {
		err := s.AppendChatMessage(sess.ID, models.ChatMessage{
			Role:      "user",
			Content:   content,
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, ok, err := s.GetChatSession(book.ID)
	if err != nil || !ok {
		t.Fatalf("GetChatSession: ok=%v err=%v", ok, err)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(got.Messages))
	}
	for i := 1; i < len(got.Messages); i++ {
		if got.Messages[i].Timestamp.Before(got.Messages[i-1].Timestamp) {
			t.Errorf("Message %d out of order", i)
		}
	}
	if got.Messages[3].Content != "third" {
		t.Errorf("Expected append order preserved, got %s last", got.Messages[3].Content)
	}
}

func TestMigrationBackfillsLegacyNotes(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")

	// Build a generation-1 database by hand: notes with no type column.
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`CREATE TABLE notes (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL,
			content TEXT NOT NULL,
			ai_image TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`INSERT INTO notes (id, book_id, content, ai_image, created_at) VALUES
			('n1', 'b1', 'ただのメモ', '', '2024-01-01 00:00:00'),
			('n2', 'b1', '視覚的印象：a dark forest', '', '2024-01-02 00:00:00'),
			('n3', 'b1', 'no prefix but image', 'data:image/png;base64,xxxx', '2024-01-03 00:00:00');`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	s, err := New("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Failed to open legacy store: %v", err)
	}
	defer s.Close()

	want := map[string]string{
		"n1": models.NoteTypeNote,
		"n2": models.NoteTypeVisualization,
		"n3": models.NoteTypeVisualization,
	}
	for id, wantType := range want {
		n, err := s.GetNote(id)
		if err != nil {
			t.Fatalf("GetNote(%s): %v", id, err)
		}
		if n.Type != wantType {
			t.Errorf("Note %s: expected type %s, got %s", id, wantType, n.Type)
		}
	}
}

func TestMigrationRunsOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "once.db")

	s, err := New("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen: nothing to do, and the version row stays singular
	s, err = New("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()

	var count, version int
	if err := s.db.QueryRow("SELECT COUNT(*), MAX(version) FROM schema_version").Scan(&count, &version); err != nil {
		t.Fatal(err)
	}
	if count != 1 || version != schemaVersion {
		t.Errorf("Expected single version row at v%d, got count=%d version=%d", schemaVersion, count, version)
	}
}

func TestImportDataUpserts(t *testing.T) {
	s := newTestStore(t)
	existing := addBook(t, s, "Old Title")

	rating := 4
	replacement := existing
	replacement.Title = "New Title"
	replacement.Rating = &rating

	fresh := models.Book{
		ID:        "fresh-id",
		Title:     "Fresh",
		Status:    models.StatusWantToRead,
		Progress:  models.Progress{Unit: "page"},
		AddedAt:   time.Now(),
		UpdatedAt: time.Now(),
	}

	note := models.Note{
		ID:        "note-1",
		BookID:    existing.ID,
		Content:   "imported",
		Type:      models.NoteTypeNote,
		CreatedAt: time.Now(),
	}

	sess := models.ChatSession{
		ID:     "sess-1",
		BookID: existing.ID,
		Messages: []models.ChatMessage{
			{Role: "model", Content: "greeting", Timestamp: time.Now()},
			{Role: "user", Content: "hello", Timestamp: time.Now()},
		},
		UpdatedAt: time.Now(),
	}

	err := s.ImportData([]models.Book{replacement, fresh}, []models.Note{note}, []models.ChatSession{sess})
	if err != nil {
		t.Fatalf("ImportData: %v", err)
	}

	got, err := s.GetBook(existing.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "New Title" || got.Rating == nil || *got.Rating != 4 {
		t.Errorf("Expected conflicting id replaced, got %+v", got)
	}
	if _, err := s.GetBook("fresh-id"); err != nil {
		t.Errorf("Expected fresh book added: %v", err)
	}

	gotSess, ok, err := s.GetChatSession(existing.ID)
	if err != nil || !ok {
		t.Fatalf("GetChatSession: ok=%v err=%v", ok, err)
	}
	if gotSess.ID != "sess-1" || len(gotSess.Messages) != 2 {
		t.Errorf("Unexpected imported session: %+v", gotSess)
	}

	// Importing a session for the same book under a new id replaces it,
	// keeping one session per book.
	sess2 := sess
	sess2.ID = "sess-2"
	sess2.Messages = sess.Messages[:1]
	if err := s.ImportData(nil, nil, []models.ChatSession{sess2}); err != nil {
		t.Fatal(err)
	}
	sessions, _ := s.ListAllChatSessions()
	if len(sessions) != 1 || sessions[0].ID != "sess-2" {
		t.Errorf("Expected single replaced session, got %+v", sessions)
	}
}
