package main

import (
	"log"
	"net/http"

	"readinglog/internal/api"
	"readinglog/internal/auth"
	"readinglog/internal/books"
	"readinglog/internal/config"
	"readinglog/internal/mcp"
	"readinglog/internal/middleware"
	"readinglog/internal/store/sqlstore"
)

func main() {
	cfg, err := config.Load("./config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize store; without it no data-dependent feature can run
	store, err := sqlstore.New(cfg.DBDriver, cfg.DBConn)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	authenticator := auth.New(cfg.CookieSecret, cfg.OwnerPasswordHash)
	handlers := api.NewHandlers(store, books.NewClient(), authenticator, cfg.GeminiAPIKey)

	mux := http.NewServeMux()

	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("./static"))))

	mux.HandleFunc("/api/login", handlers.LoginHandler)
	mux.HandleFunc("/api/logout", handlers.LogoutHandler)
	mux.HandleFunc("/api/books", handlers.BooksHandler)
	mux.HandleFunc("/api/notes", handlers.NotesHandler)
	mux.HandleFunc("/api/notes/image", handlers.NoteImageHandler)
	mux.HandleFunc("/api/chat", handlers.ChatHandler)
	mux.HandleFunc("/api/chat/send", handlers.ChatSendHandler)
	mux.HandleFunc("/api/chat/visualize", handlers.ChatVisualizeHandler)
	mux.HandleFunc("/api/export", handlers.ExportHandler)
	mux.HandleFunc("/api/import", handlers.ImportHandler)
	mux.HandleFunc("/api/settings", handlers.SettingsHandler)

	// Expose the reading log to MCP clients
	mux.Handle("/mcp", mcp.NewServer(store).HTTPServer())

	// Apply middleware: Logging -> Auth
	handler := middleware.Logging(middleware.Auth(authenticator, mux))

	log.Printf("Server started at :%s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
