package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"readinglog/internal/models"
	"readinglog/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the reading log to MCP clients.
type Server struct {
	store store.Store
}

func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

func (s *Server) listBooksHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", "")
	switch status {
	case "", models.StatusWantToRead, models.StatusReading, models.StatusCompleted:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", status)), nil
	}

	books, err := s.store.ListBooks()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database error: %v", err)), nil
	}

	var lines []string
	for _, b := range books {
		if status != "" && b.Status != status {
			continue
		}
		progress := ""
		if b.Progress.Total > 0 {
			progress = fmt.Sprintf(", progress %d/%d %s", b.Progress.Current, b.Progress.Total, b.Progress.Unit)
		}
		lines = append(lines, fmt.Sprintf("%s by %s (%s%s)", b.Title, b.Author, models.StatusLabel(b.Status), progress))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("No books found."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d books:\n%s", len(lines), strings.Join(lines, "\n"))), nil
}

func (s *Server) getBookNotesHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("title is required"), nil
	}

	books, err := s.store.ListBooks()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database error: %v", err)), nil
	}
	var book *models.Book
	for i := range books {
		if strings.EqualFold(books[i].Title, title) {
			book = &books[i]
			break
		}
	}
	if book == nil {
		return mcp.NewToolResultError("book not found"), nil
	}

	notes, err := s.store.ListNotesByType(book.ID, models.NoteTypeNote)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database error: %v", err)), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("No notes found for this book."), nil
	}

	var noteStrings []string
	for _, n := range notes {
		noteStrings = append(noteStrings, fmt.Sprintf("[%s] %s", n.CreatedAt.Format(time.RFC3339), n.Content))
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d notes for %q:\n%s", len(notes), book.Title, strings.Join(noteStrings, "\n"))), nil
}

// HTTPServer builds the streamable HTTP MCP server with the reading-log
// tools registered.
func (s *Server) HTTPServer() *server.StreamableHTTPServer {
	mcpServer := server.NewMCPServer("ReadingLog", "1.0.0")

	listBooks := mcp.NewTool("list_books",
		mcp.WithDescription("List the books in the reading log, optionally filtered by status."),
		mcp.WithString("status", mcp.Description("Filter: want_to_read, reading, or completed")),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
	mcpServer.AddTool(listBooks, s.listBooksHandler)

	getNotes := mcp.NewTool("get_book_notes",
		mcp.WithDescription("Retrieve the user's notes for a book by title."),
		mcp.WithString("title", mcp.Required(), mcp.Description("The book title to fetch notes for")),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
	mcpServer.AddTool(getNotes, s.getBookNotesHandler)

	return server.NewStreamableHTTPServer(mcpServer, server.WithStateLess(true))
}
