package sqlstore

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"readinglog/internal/models"
	"readinglog/internal/store"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DBType represents the type of database
type DBType string

const (
	SQLite   DBType = "sqlite3"
	Postgres DBType = "postgres"
)

// schemaVersion is the current schema generation. Generation 1 predates
// the notes type column; opening a generation-1 database backfills it.
const schemaVersion = 2

// SQLStore implements the Store interface for SQL databases
type SQLStore struct {
	db     *sql.DB
	dbType DBType
}

// New creates a new SQLStore with the given driver and connection string
func New(driver, connStr string) (*SQLStore, error) {
	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{
		db:     db,
		dbType: DBType(driver),
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dbType == SQLite {
		return query
	}
	var result strings.Builder
	argNum := 1
	for _, c := range query {
		if c == '?' {
			result.WriteString(fmt.Sprintf("$%d", argNum))
			argNum++
		} else {
			result.WriteRune(c)
		}
	}
	return result.String()
}

func (s *SQLStore) initSchema() error {
	var stmts []string

	if s.dbType == Postgres {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS books (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				author TEXT NOT NULL DEFAULT '',
				cover_url TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				progress_current INTEGER NOT NULL DEFAULT 0,
				progress_total INTEGER NOT NULL DEFAULT 0,
				progress_unit TEXT NOT NULL DEFAULT 'page',
				rating INTEGER,
				added_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				book_id TEXT NOT NULL,
				content TEXT NOT NULL,
				type TEXT,
				ai_image TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_notes_book ON notes(book_id, type);`,
			`CREATE TABLE IF NOT EXISTS chat_sessions (
				id TEXT PRIMARY KEY,
				book_id TEXT NOT NULL UNIQUE,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq SERIAL PRIMARY KEY,
				id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, seq);`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS books (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				author TEXT NOT NULL DEFAULT '',
				cover_url TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				progress_current INTEGER NOT NULL DEFAULT 0,
				progress_total INTEGER NOT NULL DEFAULT 0,
				progress_unit TEXT NOT NULL DEFAULT 'page',
				rating INTEGER,
				added_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS notes (
				id TEXT PRIMARY KEY,
				book_id TEXT NOT NULL,
				content TEXT NOT NULL,
				type TEXT,
				ai_image TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_notes_book ON notes(book_id, type);`,
			`CREATE TABLE IF NOT EXISTS chat_sessions (
				id TEXT PRIMARY KEY,
				book_id TEXT NOT NULL UNIQUE,
				updated_at DATETIME NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, seq);`,
		}
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrate brings a database created under an older schema generation up to
// date. Generation 1 notes have no type column; every untyped note is
// classified by the shared heuristic. The recorded version makes the pass
// run exactly once, and the WHERE clause makes it a no-op on fresh data.
func (s *SQLStore) migrate() error {
	// Generation-1 databases predate the type column entirely. The ALTER
	// fails harmlessly when the column already exists.
	s.db.Exec("ALTER TABLE notes ADD COLUMN type TEXT")

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	res, err := s.db.Exec(s.rebind(`
		UPDATE notes SET type = CASE
			WHEN ai_image <> '' OR content LIKE ? THEN 'visualization'
			ELSE 'note'
		END
		WHERE type IS NULL OR type = ''`),
		models.LegacyVisualizationPrefix+"%")
	if err != nil {
		return fmt.Errorf("backfill note types: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("Migrated %d untyped notes to schema v%d", n, schemaVersion)
	}

	if _, err := s.db.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err = s.db.Exec(s.rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Book functions
func (s *SQLStore) CreateBook(b models.Book) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now()
	if b.AddedAt.IsZero() {
		b.AddedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}
	_, err := s.db.Exec(s.rebind(`INSERT INTO books
		(id, title, author, cover_url, status, progress_current, progress_total, progress_unit, rating, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.Title, b.Author, b.CoverURL, b.Status,
		b.Progress.Current, b.Progress.Total, b.Progress.Unit,
		ratingValue(b.Rating), b.AddedAt, b.UpdatedAt)
	return err
}

func (s *SQLStore) GetBook(id string) (models.Book, error) {
	row := s.db.QueryRow(s.rebind(`SELECT id, title, author, cover_url, status,
		progress_current, progress_total, progress_unit, rating, added_at, updated_at
		FROM books WHERE id = ?`), id)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return models.Book{}, store.ErrNotFound
	}
	return b, err
}

func (s *SQLStore) ListBooks() ([]models.Book, error) {
	rows, err := s.db.Query(`SELECT id, title, author, cover_url, status,
		progress_current, progress_total, progress_unit, rating, added_at, updated_at
		FROM books ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			log.Printf("Error scanning book: %v", err)
			continue
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

func (s *SQLStore) UpdateBook(id string, upd models.BookUpdate) error {
	var sets []string
	var args []interface{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Author != nil {
		add("author", *upd.Author)
	}
	if upd.CoverURL != nil {
		add("cover_url", *upd.CoverURL)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Progress != nil {
		add("progress_current", upd.Progress.Current)
		add("progress_total", upd.Progress.Total)
		add("progress_unit", upd.Progress.Unit)
	}
	if upd.Rating != nil {
		add("rating", *upd.Rating)
	}
	add("updated_at", time.Now())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE books SET %s WHERE id = ?", strings.Join(sets, ", "))
	result, err := s.db.Exec(s.rebind(query), args...)
	if err != nil {
		return err
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteBook(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(s.rebind("DELETE FROM books WHERE id = ?"), id)
	if err != nil {
		return err
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	// Cascade: the book's notes, chat session and its messages go with it
	if _, err := tx.Exec(s.rebind("DELETE FROM notes WHERE book_id = ?"), id); err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind(
		"DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE book_id = ?)"), id); err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM chat_sessions WHERE book_id = ?"), id); err != nil {
		return err
	}
	return tx.Commit()
}

// Note functions
func (s *SQLStore) CreateNote(n models.Note) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Type == "" {
		n.Type = models.ClassifyNoteType(n.Content, n.AIGeneratedImage != "")
	}
	_, err := s.db.Exec(s.rebind(
		"INSERT INTO notes (id, book_id, content, type, ai_image, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		n.ID, n.BookID, n.Content, n.Type, n.AIGeneratedImage, n.CreatedAt)
	return err
}

func (s *SQLStore) GetNote(id string) (models.Note, error) {
	var n models.Note
	err := s.db.QueryRow(s.rebind(
		"SELECT id, book_id, content, type, ai_image, created_at FROM notes WHERE id = ?"), id).
		Scan(&n.ID, &n.BookID, &n.Content, &n.Type, &n.AIGeneratedImage, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Note{}, store.ErrNotFound
	}
	return n, err
}

func (s *SQLStore) ListNotes(bookID string) ([]models.Note, error) {
	return s.queryNotes("SELECT id, book_id, content, type, ai_image, created_at FROM notes WHERE book_id = ? ORDER BY created_at ASC", bookID)
}

func (s *SQLStore) ListNotesByType(bookID, noteType string) ([]models.Note, error) {
	return s.queryNotes("SELECT id, book_id, content, type, ai_image, created_at FROM notes WHERE book_id = ? AND type = ? ORDER BY created_at ASC", bookID, noteType)
}

func (s *SQLStore) ListAllNotes() ([]models.Note, error) {
	return s.queryNotes("SELECT id, book_id, content, type, ai_image, created_at FROM notes ORDER BY created_at ASC")
}

func (s *SQLStore) queryNotes(query string, args ...interface{}) ([]models.Note, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.BookID, &n.Content, &n.Type, &n.AIGeneratedImage, &n.CreatedAt); err != nil {
			log.Printf("Error scanning note: %v", err)
			continue
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *SQLStore) DeleteNote(id string) error {
	result, err := s.db.Exec(s.rebind("DELETE FROM notes WHERE id = ?"), id)
	if err != nil {
		return err
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Chat session functions

// EnsureChatSession creates a session for the book if none exists, seeded
// with the given greeting. The unique index on book_id plus the
// insert-or-ignore makes the lazy init safe under concurrent callers: at
// most one session per book, the losers read the winner's row.
func (s *SQLStore) EnsureChatSession(bookID string, seed models.ChatMessage) (models.ChatSession, error) {
	id := uuid.New().String()
	now := time.Now()
	result, err := s.db.Exec(s.rebind(
		"INSERT INTO chat_sessions (id, book_id, updated_at) VALUES (?, ?, ?) ON CONFLICT (book_id) DO NOTHING"),
		id, bookID, now)
	if err != nil {
		return models.ChatSession{}, err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		if err := s.AppendChatMessage(id, seed); err != nil {
			return models.ChatSession{}, err
		}
	}
	sess, ok, err := s.GetChatSession(bookID)
	if err != nil {
		return models.ChatSession{}, err
	}
	if !ok {
		return models.ChatSession{}, store.ErrNotFound
	}
	return sess, nil
}

func (s *SQLStore) GetChatSession(bookID string) (models.ChatSession, bool, error) {
	var sess models.ChatSession
	err := s.db.QueryRow(s.rebind(
		"SELECT id, book_id, updated_at FROM chat_sessions WHERE book_id = ?"), bookID).
		Scan(&sess.ID, &sess.BookID, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.ChatSession{}, false, nil
	}
	if err != nil {
		return models.ChatSession{}, false, err
	}
	msgs, err := s.sessionMessages(sess.ID)
	if err != nil {
		return models.ChatSession{}, false, err
	}
	sess.Messages = msgs
	return sess, true, nil
}

func (s *SQLStore) sessionMessages(sessionID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(s.rebind(
		"SELECT id, role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY seq ASC"), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			log.Printf("Error scanning message: %v", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLStore) AppendChatMessage(sessionID string, msg models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	_, err := s.db.Exec(s.rebind(
		"INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)"),
		msg.ID, sessionID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(s.rebind("UPDATE chat_sessions SET updated_at = ? WHERE id = ?"), msg.Timestamp, sessionID)
	return err
}

func (s *SQLStore) ListAllChatSessions() ([]models.ChatSession, error) {
	rows, err := s.db.Query("SELECT id, book_id, updated_at FROM chat_sessions ORDER BY updated_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ChatSession
	for rows.Next() {
		var sess models.ChatSession
		if err := rows.Scan(&sess.ID, &sess.BookID, &sess.UpdatedAt); err != nil {
			log.Printf("Error scanning session: %v", err)
			continue
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sessions {
		msgs, err := s.sessionMessages(sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

// ImportData upserts all three collections in one transaction. Records
// with conflicting ids are replaced wholesale, the rest are added.
func (s *SQLStore) ImportData(books []models.Book, notes []models.Note, sessions []models.ChatSession) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range books {
		_, err := tx.Exec(s.rebind(`INSERT INTO books
			(id, title, author, cover_url, status, progress_current, progress_total, progress_unit, rating, added_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				title = excluded.title, author = excluded.author, cover_url = excluded.cover_url,
				status = excluded.status, progress_current = excluded.progress_current,
				progress_total = excluded.progress_total, progress_unit = excluded.progress_unit,
				rating = excluded.rating, added_at = excluded.added_at, updated_at = excluded.updated_at`),
			b.ID, b.Title, b.Author, b.CoverURL, b.Status,
			b.Progress.Current, b.Progress.Total, b.Progress.Unit,
			ratingValue(b.Rating), b.AddedAt, b.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import book %s: %w", b.ID, err)
		}
	}

	for _, n := range notes {
		_, err := tx.Exec(s.rebind(`INSERT INTO notes (id, book_id, content, type, ai_image, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				book_id = excluded.book_id, content = excluded.content, type = excluded.type,
				ai_image = excluded.ai_image, created_at = excluded.created_at`),
			n.ID, n.BookID, n.Content, n.Type, n.AIGeneratedImage, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("import note %s: %w", n.ID, err)
		}
	}

	for _, sess := range sessions {
		// Replace any prior session for this id or book along with its
		// messages, keeping the one-session-per-book invariant.
		if _, err := tx.Exec(s.rebind(
			"DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE id = ? OR book_id = ?)"),
			sess.ID, sess.BookID); err != nil {
			return err
		}
		if _, err := tx.Exec(s.rebind("DELETE FROM chat_sessions WHERE id = ? OR book_id = ?"),
			sess.ID, sess.BookID); err != nil {
			return err
		}
		if _, err := tx.Exec(s.rebind("INSERT INTO chat_sessions (id, book_id, updated_at) VALUES (?, ?, ?)"),
			sess.ID, sess.BookID, sess.UpdatedAt); err != nil {
			return fmt.Errorf("import session %s: %w", sess.ID, err)
		}
		for _, m := range sess.Messages {
			id := m.ID
			if id == "" {
				id = uuid.New().String()
			}
			if _, err := tx.Exec(s.rebind(
				"INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)"),
				id, sess.ID, m.Role, m.Content, m.Timestamp); err != nil {
				return fmt.Errorf("import session %s messages: %w", sess.ID, err)
			}
		}
	}

	return tx.Commit()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanBook(row scannable) (models.Book, error) {
	var b models.Book
	var rating sql.NullInt64
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.CoverURL, &b.Status,
		&b.Progress.Current, &b.Progress.Total, &b.Progress.Unit,
		&rating, &b.AddedAt, &b.UpdatedAt)
	if err != nil {
		return models.Book{}, err
	}
	if rating.Valid {
		v := int(rating.Int64)
		b.Rating = &v
	}
	return b, nil
}

func ratingValue(r *int) interface{} {
	if r == nil {
		return nil
	}
	return *r
}
