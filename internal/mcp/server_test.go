package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"readinglog/internal/models"
	"readinglog/internal/store/sqlstore"

	"github.com/mark3labs/mcp-go/mcp"
)

func newTestServer(t *testing.T) (*Server, *sqlstore.SQLStore) {
	t.Helper()
	s, err := sqlstore.New("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewServer(s), s
}

func callArgs(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	textContent, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected TextContent, got %T", result.Content[0])
	}
	return textContent.Text
}

func TestListBooksTool(t *testing.T) {
	srv, s := newTestServer(t)

	for _, b := range []models.Book{
		{ID: "b1", Title: "Dune", Author: "Frank Herbert", Status: models.StatusReading,
			Progress: models.Progress{Current: 120, Total: 600, Unit: "page"}},
		{ID: "b2", Title: "Hyperion", Author: "Dan Simmons", Status: models.StatusCompleted},
	} {
		if err := s.CreateBook(b); err != nil {
			t.Fatalf("Failed to create book: %v", err)
		}
	}

	result, err := srv.listBooksHandler(context.Background(), callArgs(nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Result is error: %v", result)
	}
	content := resultText(t, result)
	if !strings.Contains(content, "Dune by Frank Herbert") || !strings.Contains(content, "Hyperion by Dan Simmons") {
		t.Errorf("Expected both books, got: %s", content)
	}
	if !strings.Contains(content, "120/600 page") {
		t.Errorf("Expected progress, got: %s", content)
	}

	// Status filter
	result, err = srv.listBooksHandler(context.Background(), callArgs(map[string]interface{}{
		"status": "completed",
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	content = resultText(t, result)
	if strings.Contains(content, "Dune") || !strings.Contains(content, "Hyperion") {
		t.Errorf("Filter not applied: %s", content)
	}

	// Unknown status
	result, err = srv.listBooksHandler(context.Background(), callArgs(map[string]interface{}{
		"status": "abandoned",
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error for unknown status")
	}
}

func TestListBooksToolEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.listBooksHandler(context.Background(), callArgs(nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "No books found") {
		t.Errorf("Unexpected content: %s", resultText(t, result))
	}
}

func TestGetBookNotesTool(t *testing.T) {
	srv, s := newTestServer(t)

	if err := s.CreateBook(models.Book{ID: "b1", Title: "Dune", Author: "Frank Herbert", Status: models.StatusReading}); err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	if err := s.CreateNote(models.Note{ID: "n1", BookID: "b1", Content: "砂漠の描写が見事", Type: models.NoteTypeNote}); err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}
	// Visualization notes are image captions, not reading notes
	if err := s.CreateNote(models.Note{ID: "n2", BookID: "b1", Content: "caption", Type: models.NoteTypeVisualization, AIGeneratedImage: "data:x"}); err != nil {
		t.Fatalf("Failed to create note: %v", err)
	}

	// Title match is case-insensitive
	result, err := srv.getBookNotesHandler(context.Background(), callArgs(map[string]interface{}{
		"title": "dune",
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Result is error: %v", result)
	}
	content := resultText(t, result)
	if !strings.Contains(content, "砂漠の描写が見事") {
		t.Errorf("Expected note content, got: %s", content)
	}
	if strings.Contains(content, "caption") {
		t.Errorf("Visualization note leaked: %s", content)
	}

	// Book not found
	result, err = srv.getBookNotesHandler(context.Background(), callArgs(map[string]interface{}{
		"title": "nonexistent",
	}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error for unknown book")
	}

	// Missing title
	result, err = srv.getBookNotesHandler(context.Background(), callArgs(nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error for missing title")
	}
}
