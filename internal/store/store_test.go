package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noahchat/noah-client/internal/assembler"
	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/user"
	"github.com/noahchat/noah-client/internal/store"
)

// fakePersister records saves so tests can observe scheduling behavior.
type fakePersister struct {
	mu        sync.Mutex
	saves     int
	snapshots map[string][]chat.Message
	deleted   []string
}

func newFakePersister() *fakePersister {
	return &fakePersister{snapshots: make(map[string][]chat.Message)}
}

func (p *fakePersister) Load(userID string) ([]chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.snapshots[userID]...), nil
}

func (p *fakePersister) Save(userID string, msgs []chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.snapshots[userID] = append([]chat.Message(nil), msgs...)
	return nil
}

func (p *fakePersister) Delete(userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, userID)
	delete(p.snapshots, userID)
	return nil
}

func (p *fakePersister) SetLanguage(string) error       { return nil }
func (p *fakePersister) Language() (string, error)      { return "english", nil }
func (p *fakePersister) SetUser(user.User) error        { return nil }
func (p *fakePersister) User() (user.User, bool, error) { return user.User{}, false, nil }
func (p *fakePersister) Close() error                   { return nil }

func (p *fakePersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func (p *fakePersister) snapshot(userID string) []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.snapshots[userID]...)
}

func intPtr(v int) *int { return &v }

func TestInitializeSessionRequiresUser(t *testing.T) {
	s := store.New(newFakePersister(), nil, store.Options{})

	if _, err := s.InitializeSession(context.Background(), "  "); err != store.ErrUserRequired {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
}

func TestInitializeSessionResolverFallback(t *testing.T) {
	resolver := user.Static{User: user.User{ID: "alice"}}
	s := store.New(newFakePersister(), resolver, store.Options{})

	session, err := s.InitializeSession(context.Background(), "")
	if err != nil {
		t.Fatalf("InitializeSession err: %v", err)
	}
	if session.UserID != "alice" {
		t.Fatalf("unexpected user: got %s", session.UserID)
	}
	if !session.Active {
		t.Fatal("session should be active")
	}
}

func TestAppendPersistsImmediately(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{DebounceWindow: time.Hour})

	if _, err := s.InitializeSession(context.Background(), "alice"); err != nil {
		t.Fatalf("InitializeSession err: %v", err)
	}
	if _, err := s.AppendUserMessage("hi there"); err != nil {
		t.Fatalf("AppendUserMessage err: %v", err)
	}

	// Non-streaming mutations bypass the debounce entirely.
	if got := p.saveCount(); got != 1 {
		t.Fatalf("expected 1 immediate save, got %d", got)
	}
	if msgs := s.Messages(); len(msgs) != 1 || msgs[0].Content != "hi there" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestAppendWithoutSession(t *testing.T) {
	s := store.New(newFakePersister(), nil, store.Options{})

	if _, err := s.AppendUserMessage("orphan"); err != store.ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSessionReplacement(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{})
	ctx := context.Background()

	if _, err := s.InitializeSession(ctx, "alice"); err != nil {
		t.Fatalf("init alice err: %v", err)
	}
	s.AppendUserMessage("alice's message")

	if _, err := s.InitializeSession(ctx, "bob"); err != nil {
		t.Fatalf("init bob err: %v", err)
	}
	if msgs := s.Messages(); len(msgs) != 0 {
		t.Fatalf("bob's session should start empty, got %d messages", len(msgs))
	}

	// Switching back restores alice's persisted history.
	if _, err := s.InitializeSession(ctx, "alice"); err != nil {
		t.Fatalf("re-init alice err: %v", err)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Content != "alice's message" {
		t.Fatalf("unexpected restored history: %+v", msgs)
	}
}

func TestInitializeSessionFlushesPendingSave(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{DebounceWindow: time.Hour})
	ctx := context.Background()

	s.InitializeSession(ctx, "alice")
	id, err := s.BeginStreamingMessage(chat.KindText)
	if err != nil {
		t.Fatalf("BeginStreamingMessage err: %v", err)
	}
	if err := s.ApplyChunk(id, assembler.Chunk{Text: "streamed tail", Sequence: intPtr(1)}); err != nil {
		t.Fatalf("ApplyChunk err: %v", err)
	}
	if got := p.saveCount(); got != 0 {
		t.Fatalf("streaming save should still be pending, got %d saves", got)
	}

	// Switching users must flush the pending save so alice's tail survives.
	if _, err := s.InitializeSession(ctx, "bob"); err != nil {
		t.Fatalf("init bob err: %v", err)
	}
	if got := p.saveCount(); got != 1 {
		t.Fatalf("pending save not flushed on user switch: %d saves", got)
	}
	snap := p.snapshot("alice")
	if len(snap) != 1 || snap[0].Content != "streamed tail" {
		t.Fatalf("alice's streamed tail not persisted: %+v", snap)
	}
}

func TestDebounceCoalescing(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{DebounceWindow: 40 * time.Millisecond})
	s.InitializeSession(context.Background(), "alice")

	id, err := s.BeginStreamingMessage(chat.KindText)
	if err != nil {
		t.Fatalf("BeginStreamingMessage err: %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := s.ApplyChunk(id, assembler.Chunk{Text: "x", Sequence: intPtr(i + 1)}); err != nil {
			t.Fatalf("ApplyChunk %d err: %v", i+1, err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	if got := p.saveCount(); got != 1 {
		t.Fatalf("expected 10 rapid chunks to coalesce into 1 save, got %d", got)
	}

	// A chunk after the quiet period schedules a second write.
	if err := s.ApplyChunk(id, assembler.Chunk{Text: "y", Sequence: intPtr(11)}); err != nil {
		t.Fatalf("late ApplyChunk err: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := p.saveCount(); got != 2 {
		t.Fatalf("expected a 2nd save after the gap, got %d", got)
	}
}

func TestFinalizePersistsImmediatelyAndFreezesContent(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{DebounceWindow: time.Hour})
	s.InitializeSession(context.Background(), "alice")

	id, _ := s.BeginStreamingMessage(chat.KindText)
	s.ApplyChunk(id, assembler.Chunk{Text: "stream", Sequence: intPtr(1)})

	before := p.saveCount()
	if err := s.FinalizeStreamingMessage(id, "", nil); err != nil {
		t.Fatalf("Finalize err: %v", err)
	}
	if got := p.saveCount(); got != before+1 {
		t.Fatalf("finalize should persist immediately: saves %d -> %d", before, got)
	}

	if err := s.ApplyChunk(id, assembler.Chunk{Text: "late", Sequence: intPtr(2)}); err != assembler.ErrFinalized {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	msg, ok := s.Message(id)
	if !ok || msg.Content != "stream" {
		t.Fatalf("finalized content mutated: %+v", msg)
	}
}

func TestApplyChunkUnknownMessage(t *testing.T) {
	s := store.New(newFakePersister(), nil, store.Options{})
	s.InitializeSession(context.Background(), "alice")

	if err := s.ApplyChunk("missing", assembler.Chunk{Text: "x"}); err != store.ErrMessageNotFound {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestClearDeletesSnapshotAndPendingSave(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{DebounceWindow: 40 * time.Millisecond})
	s.InitializeSession(context.Background(), "alice")

	id, _ := s.BeginStreamingMessage(chat.KindText)
	s.ApplyChunk(id, assembler.Chunk{Text: "doomed", Sequence: intPtr(1)})

	before := p.saveCount()
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear err: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if got := p.saveCount(); got != before {
		t.Fatalf("pending debounced save should be discarded: saves %d -> %d", before, got)
	}
	if len(s.Messages()) != 0 {
		t.Fatal("messages should be cleared")
	}

	p.mu.Lock()
	deleted := append([]string(nil), p.deleted...)
	p.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "alice" {
		t.Fatalf("expected alice's snapshot deleted, got %v", deleted)
	}
}

func TestStreamedReplyScenario(t *testing.T) {
	p := newFakePersister()
	s := store.New(p, nil, store.Options{DebounceWindow: 20 * time.Millisecond})
	s.InitializeSession(context.Background(), "alice")

	s.AppendUserMessage("Hello")

	id, _ := s.BeginStreamingMessage(chat.KindText)
	for i, text := range []string{"I ", "received ", "your message"} {
		if err := s.ApplyChunk(id, assembler.Chunk{Text: text, Sequence: intPtr(i + 1)}); err != nil {
			t.Fatalf("ApplyChunk err: %v", err)
		}
	}
	if err := s.FinalizeStreamingMessage(id, "", nil); err != nil {
		t.Fatalf("Finalize err: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Sender != chat.SenderUser || msgs[0].Content != "Hello" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Sender != chat.SenderAssistant || msgs[1].Content != "I received your message" {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}

	// The persisted form carries no streaming bookkeeping at all.
	for _, m := range p.snapshot("alice") {
		if m.Metadata != nil {
			t.Fatalf("persisted message still carries metadata: %+v", m.Metadata)
		}
	}
}
