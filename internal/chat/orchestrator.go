// Package chat coordinates chat sessions between the store and the AI
// gateway: lazy session init, optimistic message appends, timeouts, and
// the merged conversation timeline.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"readinglog/internal/ai"
	"readinglog/internal/models"
	"readinglog/internal/store"
)

// greetingMarker identifies the seeded greeting message, which is excluded
// from the history sent to the model.
const greetingMarker = "こんにちは！この本について語り合いましょう"

const (
	defaultTextTimeout  = 60 * time.Second
	defaultImageTimeout = 120 * time.Second
)

// Session states.
const (
	StateIdle        = "idle"
	StateSending     = "sending"
	StateVisualizing = "visualizing"
)

var (
	// ErrBusy rejects a second send/visualize while one is outstanding.
	ErrBusy = errors.New("別のリクエストを処理中です。完了をお待ちください。")
	// ErrEmptyMessage rejects blank input.
	ErrEmptyMessage = errors.New("メッセージを入力してください")
)

// TimeoutError reports that the AI gateway did not answer in time. The
// upstream request keeps running; its late result is discarded.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("タイムアウト（%d秒）", int(e.Duration.Seconds()))
}

// Gateway is the AI boundary the orchestrator talks to; satisfied by
// ai.Client.
type Gateway interface {
	GenerateChatReply(ctx context.Context, history []ai.Turn, message string) (string, error)
	GenerateImpression(ctx context.Context, bookTitle string, history []ai.Turn) (ai.Impression, error)
}

// TimelineItem is one entry in the merged conversation view.
type TimelineItem struct {
	Kind      string    `json:"kind"` // "message" or "visualization"
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	NoteID    string    `json:"noteId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Orchestrator serializes send/visualize per book and merges persisted
// messages with visualization notes.
type Orchestrator struct {
	store store.Store

	TextTimeout  time.Duration
	ImageTimeout time.Duration

	mu     sync.Mutex
	states map[string]string
}

func New(s store.Store) *Orchestrator {
	return &Orchestrator{
		store:        s,
		TextTimeout:  defaultTextTimeout,
		ImageTimeout: defaultImageTimeout,
		states:       make(map[string]string),
	}
}

// State reports the current per-book state.
func (o *Orchestrator) State(bookID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[bookID]; ok {
		return s
	}
	return StateIdle
}

func (o *Orchestrator) acquire(bookID, state string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.states[bookID]; ok && s != StateIdle {
		return ErrBusy
	}
	o.states[bookID] = state
	return nil
}

func (o *Orchestrator) release(bookID string) {
	o.mu.Lock()
	o.states[bookID] = StateIdle
	o.mu.Unlock()
}

func seedGreeting(bookTitle string) models.ChatMessage {
	return models.ChatMessage{
		Role:      "model",
		Content:   fmt.Sprintf(`%s： "%s". ここまでの感想はいかがですか？`, greetingMarker, bookTitle),
		Timestamp: time.Now(),
	}
}

// EnsureSession lazily creates the book's chat session, seeded with the
// greeting. Repeated and concurrent calls yield the same single session.
func (o *Orchestrator) EnsureSession(bookID string) (models.ChatSession, error) {
	book, err := o.store.GetBook(bookID)
	if err != nil {
		return models.ChatSession{}, err
	}
	return o.store.EnsureChatSession(bookID, seedGreeting(book.Title))
}

// Send appends the user's message to the session, asks the gateway for a
// reply, and appends the reply. The user message is written before the
// gateway call, so a failed or timed-out reply never loses it; the error
// is returned for inline rendering and the session goes back to idle.
func (o *Orchestrator) Send(ctx context.Context, gw Gateway, bookID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if err := o.acquire(bookID, StateSending); err != nil {
		return "", err
	}
	defer o.release(bookID)

	book, err := o.store.GetBook(bookID)
	if err != nil {
		return "", err
	}
	sess, err := o.store.EnsureChatSession(bookID, seedGreeting(book.Title))
	if err != nil {
		return "", err
	}

	history, err := o.buildHistory(book, sess.Messages)
	if err != nil {
		return "", err
	}

	// Optimistic write: the user turn is persisted before awaiting the model
	if err := o.store.AppendChatMessage(sess.ID, models.ChatMessage{
		Role:      "user",
		Content:   text,
		Timestamp: time.Now(),
	}); err != nil {
		return "", err
	}

	reply, err := race(o.TextTimeout, func() (string, error) {
		return gw.GenerateChatReply(ctx, history, text)
	})
	if err != nil {
		return "", err
	}

	if err := o.store.AppendChatMessage(sess.ID, models.ChatMessage{
		Role:      "model",
		Content:   reply,
		Timestamp: time.Now(),
	}); err != nil {
		return "", err
	}
	return reply, nil
}

// Visualize runs the impression pipeline over the session history and
// persists the result as a visualization note. A note is only written on
// full pipeline success.
func (o *Orchestrator) Visualize(ctx context.Context, gw Gateway, bookID string) (models.Note, error) {
	if err := o.acquire(bookID, StateVisualizing); err != nil {
		return models.Note{}, err
	}
	defer o.release(bookID)

	book, err := o.store.GetBook(bookID)
	if err != nil {
		return models.Note{}, err
	}
	sess, err := o.store.EnsureChatSession(bookID, seedGreeting(book.Title))
	if err != nil {
		return models.Note{}, err
	}

	history, err := o.buildHistory(book, sess.Messages)
	if err != nil {
		return models.Note{}, err
	}

	impression, err := race(o.ImageTimeout, func() (ai.Impression, error) {
		return gw.GenerateImpression(ctx, book.Title, history)
	})
	if err != nil {
		return models.Note{}, err
	}

	note := models.Note{
		ID:               uuid.New().String(),
		BookID:           bookID,
		Content:          impression.Caption,
		Type:             models.NoteTypeVisualization,
		CreatedAt:        time.Now(),
		AIGeneratedImage: impression.Image,
	}
	if err := o.store.CreateNote(note); err != nil {
		return models.Note{}, err
	}
	return note, nil
}

// Timeline merges the session's messages and the book's visualization
// notes into one view sorted by timestamp ascending. The two item kinds
// come from disjoint write paths, so no deduplication is needed.
func (o *Orchestrator) Timeline(bookID string) ([]TimelineItem, error) {
	sess, ok, err := o.store.GetChatSession(bookID)
	if err != nil {
		return nil, err
	}
	var items []TimelineItem
	if ok {
		for _, m := range sess.Messages {
			items = append(items, TimelineItem{
				Kind:      "message",
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			})
		}
	}
	visualizations, err := o.store.ListNotesByType(bookID, models.NoteTypeVisualization)
	if err != nil {
		return nil, err
	}
	for _, v := range visualizations {
		items = append(items, TimelineItem{
			Kind:      "visualization",
			Content:   v.Content,
			Image:     v.AIGeneratedImage,
			NoteID:    v.ID,
			Timestamp: v.CreatedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items, nil
}

// buildHistory prefixes a context turn (book metadata plus the user's
// notes) to the persisted messages, minus the seeded greeting.
func (o *Orchestrator) buildHistory(book models.Book, messages []models.ChatMessage) ([]ai.Turn, error) {
	notes, err := o.store.ListNotes(book.ID)
	if err != nil {
		return nil, err
	}

	author := book.Author
	if author == "" {
		author = "不明"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "この会話は「%s」（著者: %s）についてです。", book.Title, author)
	if book.Status != "" {
		sb.WriteString("\n現在のステータス: " + models.StatusLabel(book.Status))
	}
	if len(notes) > 0 {
		sb.WriteString("\n\nユーザーのメモ:\n")
		for i, n := range notes {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(n.Content)
		}
	}

	history := []ai.Turn{{Role: "user", Text: sb.String()}}
	for _, m := range messages {
		if m.Role == "model" && strings.Contains(m.Content, greetingMarker) {
			continue
		}
		history = append(history, ai.Turn{Role: m.Role, Text: m.Content})
	}
	return history, nil
}

// race waits for call or the timer, whichever finishes first. The buffered
// channel lets a late call finish and be dropped without leaking a
// goroutine; the underlying request is not cancelled.
func race[T any](timeout time.Duration, call func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := call()
		ch <- outcome{v, err}
	}()
	select {
	case o := <-ch:
		return o.v, o.err
	case <-time.After(timeout):
		var zero T
		return zero, &TimeoutError{Duration: timeout}
	}
}
