package store

import (
	"errors"

	"readinglog/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations
type Store interface {
	// Books
	CreateBook(b models.Book) error
	GetBook(id string) (models.Book, error)
	ListBooks() ([]models.Book, error)
	UpdateBook(id string, upd models.BookUpdate) error
	// DeleteBook cascades to the book's notes and chat session.
	DeleteBook(id string) error

	// Notes
	CreateNote(n models.Note) error
	GetNote(id string) (models.Note, error)
	ListNotes(bookID string) ([]models.Note, error)
	ListNotesByType(bookID, noteType string) ([]models.Note, error)
	DeleteNote(id string) error

	// Chat sessions. EnsureChatSession creates the session for a book if
	// none exists, seeding it with the given message; at most one session
	// per book ever exists, even under concurrent callers.
	EnsureChatSession(bookID string, seed models.ChatMessage) (models.ChatSession, error)
	GetChatSession(bookID string) (models.ChatSession, bool, error)
	AppendChatMessage(sessionID string, msg models.ChatMessage) error

	// Bulk access for export/import. ImportData upserts all three
	// collections in a single transaction: conflicting ids are replaced,
	// the rest are added.
	ListAllNotes() ([]models.Note, error)
	ListAllChatSessions() ([]models.ChatSession, error)
	ImportData(books []models.Book, notes []models.Note, sessions []models.ChatSession) error

	Close() error
}
