// Package store owns the authoritative in-memory conversation state: the
// current session descriptor and its ordered message list.
package store

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noahchat/noah-client/internal/assembler"
	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/user"
	"github.com/noahchat/noah-client/internal/persist"
)

var (
	ErrUserRequired    = errors.New("user id is required")
	ErrNoSession       = errors.New("no active session")
	ErrMessageNotFound = errors.New("message not found")
)

// Options tunes persistence scheduling.
type Options struct {
	// DebounceWindow coalesces saves while a message streams. Zero means
	// the 500 ms reference window.
	DebounceWindow time.Duration
}

// SessionStore serializes all mutations behind one mutex; callers on any
// goroutine see the same total order the single UI thread would produce.
// Mutations mark a dirty flag and kick the save scheduler rather than
// calling storage inline, so the core stays storage-agnostic.
type SessionStore struct {
	persister persist.Persister
	auth      user.Resolver
	asm       *assembler.Assembler
	saver     *debouncer

	mu       sync.RWMutex
	session  chat.Session
	messages []chat.Message
	index    map[string]int
	dirty    bool
}

// New builds a store over its collaborators. auth may be nil when callers
// always pass an explicit user id.
func New(p persist.Persister, auth user.Resolver, opts Options) *SessionStore {
	window := opts.DebounceWindow
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &SessionStore{
		persister: p,
		auth:      auth,
		asm:       assembler.New(),
		saver:     newDebouncer(window),
		index:     make(map[string]int),
	}
}

// InitializeSession replaces the current session and message list with a
// fresh session for userID, loading that user's persisted history. An empty
// userID falls back to the authentication collaborator; with neither it
// fails fast. Any pending debounced save for the previous user is flushed
// first so its tail is not lost.
func (s *SessionStore) InitializeSession(_ context.Context, userID string) (chat.Session, error) {
	if strings.TrimSpace(userID) == "" && s.auth != nil {
		if u, ok := s.auth.Current(); ok {
			userID = u.ID
		}
	}
	if strings.TrimSpace(userID) == "" {
		return chat.Session{}, ErrUserRequired
	}

	s.saver.Flush()

	history, err := s.persister.Load(userID)
	if err != nil {
		log.Printf("[store] loading history for %s failed, starting empty: %v", userID, err)
		history = nil
	}

	s.mu.Lock()
	s.session = chat.NewSession(userID)
	s.messages = history
	s.index = make(map[string]int, len(history))
	for i, m := range history {
		s.index[m.ID] = i
	}
	s.dirty = false
	session := s.session
	s.mu.Unlock()

	log.Printf("[store] session %s initialized with %d persisted messages", session.ID, len(history))
	return session, nil
}

// AppendUserMessage records a chat turn typed by the user.
func (s *SessionStore) AppendUserMessage(text string) (chat.Message, error) {
	return s.append(chat.SenderUser, text, chat.KindText, nil)
}

// AppendAssistantMessage records a complete (non-streaming) assistant turn.
func (s *SessionStore) AppendAssistantMessage(text string, kind chat.Kind, meta *chat.Metadata) (chat.Message, error) {
	return s.append(chat.SenderAssistant, text, kind, meta)
}

func (s *SessionStore) append(sender, text string, kind chat.Kind, meta *chat.Metadata) (chat.Message, error) {
	s.mu.Lock()
	if !s.session.Active {
		s.mu.Unlock()
		return chat.Message{}, ErrNoSession
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Content:   text,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
		Metadata:  meta,
	}
	s.messages = append(s.messages, msg)
	s.index[msg.ID] = len(s.messages) - 1
	s.session.Touch()
	s.dirty = true
	s.mu.Unlock()

	s.saveNow()
	return msg, nil
}

// BeginStreamingMessage appends an empty assistant message in the streaming
// state and returns its id.
func (s *SessionStore) BeginStreamingMessage(kind chat.Kind) (string, error) {
	s.mu.Lock()
	if !s.session.Active {
		s.mu.Unlock()
		return "", ErrNoSession
	}
	msg := chat.Message{
		ID:        uuid.NewString(),
		Sender:    chat.SenderAssistant,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	s.asm.Begin(&msg)
	s.messages = append(s.messages, msg)
	s.index[msg.ID] = len(s.messages) - 1
	s.session.Touch()
	s.dirty = true
	s.mu.Unlock()

	s.scheduleSave()
	return msg.ID, nil
}

// ApplyChunk feeds one inbound chunk to the assembler. Persistence is
// debounced while the message streams; a chunk flagged final also finalizes
// the message. Chunks for unknown or finalized messages are protocol
// violations: logged, never applied, never fatal.
func (s *SessionStore) ApplyChunk(messageID string, c assembler.Chunk) error {
	s.mu.Lock()
	i, ok := s.index[messageID]
	if !ok {
		s.mu.Unlock()
		log.Printf("[store] dropping chunk for unknown message %s", messageID)
		return ErrMessageNotFound
	}
	applied, err := s.asm.Apply(&s.messages[i], c)
	if err != nil {
		s.mu.Unlock()
		log.Printf("[store] dropping chunk for finalized message %s", messageID)
		return err
	}
	if applied {
		s.session.Touch()
		s.dirty = true
	}
	s.mu.Unlock()

	if c.IsFinal {
		return s.FinalizeStreamingMessage(messageID, "", nil)
	}
	if applied {
		s.scheduleSave()
	}
	return nil
}

// FinalizeStreamingMessage makes the message immutable. A non-empty
// finalText overwrites the accumulated content; meta attaches kind payloads
// (recommendations, purchase links) delivered with the terminal frame.
func (s *SessionStore) FinalizeStreamingMessage(messageID, finalText string, meta *chat.Metadata) error {
	s.mu.Lock()
	i, ok := s.index[messageID]
	if !ok {
		s.mu.Unlock()
		log.Printf("[store] cannot finalize unknown message %s", messageID)
		return ErrMessageNotFound
	}
	if err := s.asm.Finalize(&s.messages[i], finalText); err != nil {
		s.mu.Unlock()
		log.Printf("[store] message %s finalized twice", messageID)
		return err
	}
	if meta != nil {
		m := s.messages[i].Metadata
		m.Recommendations = meta.Recommendations
		m.PurchaseLinks = meta.PurchaseLinks
	}
	s.session.Touch()
	s.dirty = true
	s.mu.Unlock()

	s.saveNow()
	return nil
}

// Clear empties the message list and deletes the persisted snapshot for the
// current user. A pending debounced save is discarded so stale data cannot
// resurrect.
func (s *SessionStore) Clear() error {
	s.saver.Cancel()

	s.mu.Lock()
	userID := s.session.UserID
	s.messages = nil
	s.index = make(map[string]int)
	s.dirty = false
	s.mu.Unlock()

	if userID == "" {
		return nil
	}
	return s.persister.Delete(userID)
}

// Session returns the current session descriptor.
func (s *SessionStore) Session() chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Messages returns an independent copy of the list, ordered by creation
// time for display.
func (s *SessionStore) Messages() []chat.Message {
	s.mu.RLock()
	out := make([]chat.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m
		out[i].Metadata = m.Metadata.Clone()
	}
	s.mu.RUnlock()

	chat.SortMessages(out)
	return out
}

// Message looks a message up by id in O(1).
func (s *SessionStore) Message(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return chat.Message{}, false
	}
	msg := s.messages[i]
	msg.Metadata = msg.Metadata.Clone()
	return msg, true
}

// saveNow persists immediately, superseding any pending debounced save.
// Losing a completed message to a crash is worse than the extra write.
func (s *SessionStore) saveNow() {
	s.saver.Cancel()
	s.persistSnapshot()
}

func (s *SessionStore) scheduleSave() {
	s.saver.Debounce(s.persistSnapshot)
}

// persistSnapshot hands a sanitized copy of the list to the persister. The
// copy is taken under the lock so in-flight chunk bookkeeping is never read
// concurrently.
func (s *SessionStore) persistSnapshot() {
	s.mu.Lock()
	if !s.dirty || s.session.UserID == "" {
		s.mu.Unlock()
		return
	}
	userID := s.session.UserID
	snapshot := make([]chat.Message, len(s.messages))
	for i, m := range s.messages {
		snapshot[i] = m.Sanitized()
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.persister.Save(userID, snapshot); err != nil {
		log.Printf("[store] snapshot save for %s failed: %v", userID, err)
	}
}
