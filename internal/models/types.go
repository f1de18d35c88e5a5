package models

import (
	"strings"
	"time"
)

// Book reading status values.
const (
	StatusWantToRead = "want_to_read"
	StatusReading    = "reading"
	StatusCompleted  = "completed"
)

// Note type values.
const (
	NoteTypeNote          = "note"
	NoteTypeVisualization = "visualization"
)

// LegacyVisualizationPrefix is the marker older releases prepended to the
// content of AI-generated impression notes before the type column existed.
const LegacyVisualizationPrefix = "視覚的印象："

// Progress tracks how far through a book the reader is.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Unit    string `json:"unit"` // "page" or "percent"
}

type Book struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Status    string    `json:"status"`
	Progress  Progress  `json:"progress"`
	Rating    *int      `json:"rating,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Note struct {
	ID               string    `json:"id"`
	BookID           string    `json:"bookId"`
	Content          string    `json:"content"`
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"createdAt"`
	AIGeneratedImage string    `json:"aiGeneratedImage,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"-"`
	Role      string    `json:"role"` // "user" or "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatSession struct {
	ID        string        `json:"id"`
	BookID    string        `json:"bookId"`
	Messages  []ChatMessage `json:"messages"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// BookUpdate is a partial update of a book; nil fields are left unchanged.
type BookUpdate struct {
	Title    *string
	Author   *string
	CoverURL *string
	Status   *string
	Progress *Progress
	Rating   *int
}

// ClassifyNoteType decides the type of a note that predates the type
// column. The schema migration and the import backfill must agree on this
// heuristic: a note is a visualization iff it carries a generated image or
// its content starts with the legacy marker.
func ClassifyNoteType(content string, hasImage bool) string {
	if hasImage || strings.HasPrefix(content, LegacyVisualizationPrefix) {
		return NoteTypeVisualization
	}
	return NoteTypeNote
}

// StatusLabel returns the Japanese UI label for a reading status, falling
// back to the raw value for unknown statuses.
func StatusLabel(status string) string {
	switch status {
	case StatusWantToRead:
		return "読みたい"
	case StatusReading:
		return "読書中"
	case StatusCompleted:
		return "読了"
	}
	return status
}
