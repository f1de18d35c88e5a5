package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"readinglog/internal/ai"
	"readinglog/internal/auth"
	"readinglog/internal/backup"
	"readinglog/internal/chat"
	"readinglog/internal/images"
	"readinglog/internal/models"
	"readinglog/internal/store"
)

// Cookies holding per-browser AI preferences.
const (
	APIKeyCookie     = "gemini_api_key"
	ImageModelCookie = "image_model"
)

const maxImportBytes = 50 << 20

// Gateway is what the handlers need from the AI client; satisfied by
// ai.Client.
type Gateway interface {
	chat.Gateway
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Handlers wires the store, orchestrator and AI gateway to HTTP.
type Handlers struct {
	store  store.Store
	orch   *chat.Orchestrator
	search ai.BookSearcher
	auth   *auth.Authenticator

	defaultAPIKey string

	// NewGateway builds the per-request AI client; tests replace it.
	NewGateway func(apiKey, imageVariant string) Gateway
}

func NewHandlers(s store.Store, search ai.BookSearcher, a *auth.Authenticator, defaultAPIKey string) *Handlers {
	return &Handlers{
		store:         s,
		orch:          chat.New(s),
		search:        search,
		auth:          a,
		defaultAPIKey: defaultAPIKey,
		NewGateway: func(apiKey, imageVariant string) Gateway {
			return ai.NewClient(apiKey, imageVariant)
		},
	}
}

// Orchestrator exposes the chat orchestrator, mainly for tests tuning
// timeouts.
func (h *Handlers) Orchestrator() *chat.Orchestrator {
	return h.orch
}

// credentials resolves the AI credential and image-model preference for
// this request: the per-browser cookie overrides the environment default.
func (h *Handlers) credentials(r *http.Request) (apiKey, imageVariant string) {
	apiKey = h.defaultAPIKey
	if c, err := r.Cookie(APIKeyCookie); err == nil && c.Value != "" {
		apiKey = c.Value
	}
	imageVariant = ai.VariantNano
	if c, err := r.Cookie(ImageModelCookie); err == nil && c.Value != "" {
		imageVariant = c.Value
	}
	return apiKey, imageVariant
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeAIError renders an AI failure as a value-level result so the client
// shows it inline in the conversation instead of a transport error.
func writeAIError(w http.ResponseWriter, message string) {
	writeJSON(w, map[string]string{"error": message})
}

func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.auth.Login(body.Password); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	h.auth.SetAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	auth.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) BooksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if id := r.URL.Query().Get("id"); id != "" {
			book, err := h.store.GetBook(id)
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "Book not found", http.StatusNotFound)
				return
			}
			if err != nil {
				http.Error(w, "Database error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, book)
			return
		}
		booksList, err := h.store.ListBooks()
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		if booksList == nil {
			booksList = []models.Book{}
		}
		writeJSON(w, booksList)

	case http.MethodPost:
		var b models.Book
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if b.Title == "" {
			http.Error(w, "Title required", http.StatusBadRequest)
			return
		}
		if b.Status == "" {
			b.Status = models.StatusWantToRead
		}
		if b.Progress.Unit == "" {
			b.Progress.Unit = "page"
		}
		if b.Author == "" && h.search != nil {
			apiKey, imageVariant := h.credentials(r)
			author, err := ai.FindAuthor(r.Context(), h.search, h.NewGateway(apiKey, imageVariant), b.Title)
			if err != nil {
				log.Printf("Author lookup failed for %q: %v", b.Title, err)
			} else if author != "" {
				b.Author = author
			}
		}
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		now := time.Now()
		b.AddedAt = now
		b.UpdatedAt = now
		if err := h.store.CreateBook(b); err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, b)

	case http.MethodPut:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Invalid book ID", http.StatusBadRequest)
			return
		}
		var upd struct {
			Title    *string          `json:"title"`
			Author   *string          `json:"author"`
			CoverURL *string          `json:"coverUrl"`
			Status   *string          `json:"status"`
			Progress *models.Progress `json:"progress"`
			Rating   *int             `json:"rating"`
		}
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		err := h.store.UpdateBook(id, models.BookUpdate{
			Title:    upd.Title,
			Author:   upd.Author,
			CoverURL: upd.CoverURL,
			Status:   upd.Status,
			Progress: upd.Progress,
			Rating:   upd.Rating,
		})
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Book not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Invalid book ID", http.StatusBadRequest)
			return
		}
		err := h.store.DeleteBook(id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Book not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) NotesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bookID := r.URL.Query().Get("book_id")
		if bookID == "" {
			http.Error(w, "Invalid book ID", http.StatusBadRequest)
			return
		}
		var (
			notes []models.Note
			err   error
		)
		if noteType := r.URL.Query().Get("type"); noteType != "" {
			notes, err = h.store.ListNotesByType(bookID, noteType)
		} else {
			notes, err = h.store.ListNotes(bookID)
		}
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		if notes == nil {
			notes = []models.Note{}
		}
		writeJSON(w, notes)

	case http.MethodPost:
		var n models.Note
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if n.BookID == "" || n.Content == "" {
			http.Error(w, "Book ID and content required", http.StatusBadRequest)
			return
		}
		if _, err := h.store.GetBook(n.BookID); err != nil {
			http.Error(w, "Book not found", http.StatusNotFound)
			return
		}
		n.ID = uuid.New().String()
		n.Type = models.NoteTypeNote
		n.CreatedAt = time.Now()
		n.AIGeneratedImage = ""
		if err := h.store.CreateNote(n); err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, n)

	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Invalid note ID", http.StatusBadRequest)
			return
		}
		err := h.store.DeleteNote(id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Note not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// NoteImageHandler serves a scaled thumbnail of a visualization note's
// generated image.
func (h *Handlers) NoteImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Invalid note ID", http.StatusBadRequest)
		return
	}
	note, err := h.store.GetNote(id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && note.AIGeneratedImage == "") {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	width, _ := strconv.Atoi(r.URL.Query().Get("w"))
	thumb, err := images.Thumbnail(note.AIGeneratedImage, width)
	if err != nil {
		log.Printf("Thumbnail for note %s: %v", id, err)
		http.Error(w, "Invalid image data", http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(thumb)
}

func (h *Handlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bookID := r.URL.Query().Get("book_id")
	if bookID == "" {
		http.Error(w, "Invalid book ID", http.StatusBadRequest)
		return
	}
	if _, err := h.orch.EnsureSession(bookID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Book not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	items, err := h.orch.Timeline(bookID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []chat.TimelineItem{}
	}
	writeJSON(w, map[string]interface{}{
		"state": h.orch.State(bookID),
		"items": items,
	})
}

func (h *Handlers) ChatSendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		BookID  string `json:"bookId"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	apiKey, imageVariant := h.credentials(r)
	reply, err := h.orch.Send(r.Context(), h.NewGateway(apiKey, imageVariant), body.BookID, body.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Book not found", http.StatusNotFound)
	case err != nil:
		log.Printf("Chat error for book %s: %v", body.BookID, err)
		writeAIError(w, err.Error())
	default:
		writeJSON(w, map[string]string{"reply": reply})
	}
}

func (h *Handlers) ChatVisualizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		BookID string `json:"bookId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	apiKey, imageVariant := h.credentials(r)
	note, err := h.orch.Visualize(r.Context(), h.NewGateway(apiKey, imageVariant), body.BookID)
	var timeoutErr *chat.TimeoutError
	switch {
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Book not found", http.StatusNotFound)
	case errors.As(err, &timeoutErr):
		writeAIError(w, "画像生成がタイムアウトしました。サーバーが混雑している可能性があります。しばらく待ってから再試行してください。")
	case err != nil:
		log.Printf("Visualize error for book %s: %v", body.BookID, err)
		writeAIError(w, err.Error())
	default:
		writeJSON(w, note)
	}
}

func (h *Handlers) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bundle, err := backup.Export(h.store)
	if err != nil {
		log.Printf("Export error: %v", err)
		http.Error(w, "Export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+backup.Filename(time.Now())+`"`)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(bundle)
}

func (h *Handlers) ImportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	summary, err := backup.Import(h.store, raw)
	if err != nil {
		log.Printf("Import error: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, summary)
}

func (h *Handlers) SettingsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		apiKey, imageVariant := h.credentials(r)
		writeJSON(w, map[string]interface{}{
			"hasApiKey":  apiKey != "",
			"imageModel": imageVariant,
		})

	case http.MethodPost:
		var body struct {
			APIKey     *string `json:"apiKey"`
			ImageModel *string `json:"imageModel"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if body.APIKey != nil {
			http.SetCookie(w, &http.Cookie{
				Name:     APIKeyCookie,
				Value:    *body.APIKey,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   365 * 24 * 60 * 60,
			})
		}
		if body.ImageModel != nil {
			if *body.ImageModel != ai.VariantNano && *body.ImageModel != ai.VariantPro {
				http.Error(w, "Invalid image model", http.StatusBadRequest)
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     ImageModelCookie,
				Value:    *body.ImageModel,
				Path:     "/",
				SameSite: http.SameSiteLaxMode,
				MaxAge:   365 * 24 * 60 * 60,
			})
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		http.SetCookie(w, &http.Cookie{
			Name:     APIKeyCookie,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
