// Package backup serializes the whole store to a versioned JSON bundle
// and restores such bundles.
package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"readinglog/internal/models"
	"readinglog/internal/store"
)

// FormatVersion is the bundle format written by Export.
const FormatVersion = "1.0"

// Bundle is the export file format.
type Bundle struct {
	Version    string `json:"version"`
	ExportDate string `json:"exportDate"`
	Data       *Data  `json:"data"`
}

type Data struct {
	Books        []models.Book        `json:"books"`
	Notes        []models.Note        `json:"notes"`
	ChatSessions []models.ChatSession `json:"chatSessions"`
}

// Export collects all three collections into a bundle.
func Export(s store.Store) (Bundle, error) {
	books, err := s.ListBooks()
	if err != nil {
		return Bundle{}, fmt.Errorf("export books: %w", err)
	}
	notes, err := s.ListAllNotes()
	if err != nil {
		return Bundle{}, fmt.Errorf("export notes: %w", err)
	}
	sessions, err := s.ListAllChatSessions()
	if err != nil {
		return Bundle{}, fmt.Errorf("export chat sessions: %w", err)
	}
	return Bundle{
		Version:    FormatVersion,
		ExportDate: time.Now().Format(time.RFC3339),
		Data: &Data{
			Books:        books,
			Notes:        notes,
			ChatSessions: sessions,
		},
	}, nil
}

// Filename names the download in the original app's convention.
func Filename(now time.Time) string {
	return "reading-log-backup-" + now.Format("2006-01-02") + ".json"
}

// Summary reports how many records an import wrote.
type Summary struct {
	Books        int `json:"books"`
	Notes        int `json:"notes"`
	ChatSessions int `json:"chatSessions"`
}

// Import parses a bundle and upserts its collections. A bundle without a
// version or data payload is rejected before anything is written; legacy
// notes without a type are classified with the same heuristic the schema
// migration uses. Conflicting ids are replaced, the rest are added.
func Import(s store.Store, raw []byte) (Summary, error) {
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return Summary{}, fmt.Errorf("無効なバックアップファイルです: %w", err)
	}
	if bundle.Version == "" || bundle.Data == nil {
		return Summary{}, fmt.Errorf("無効なバックアップファイルです")
	}

	notes := make([]models.Note, len(bundle.Data.Notes))
	for i, n := range bundle.Data.Notes {
		if n.Type == "" {
			n.Type = models.ClassifyNoteType(n.Content, n.AIGeneratedImage != "")
		}
		notes[i] = n
	}

	if err := s.ImportData(bundle.Data.Books, notes, bundle.Data.ChatSessions); err != nil {
		return Summary{}, fmt.Errorf("import: %w", err)
	}
	return Summary{
		Books:        len(bundle.Data.Books),
		Notes:        len(notes),
		ChatSessions: len(bundle.Data.ChatSessions),
	}, nil
}
