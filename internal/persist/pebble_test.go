package persist_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/user"
	"github.com/noahchat/noah-client/internal/persist"
)

func openStore(t *testing.T, dir string) *persist.Store {
	t.Helper()
	s, err := persist.Open(dir)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []chat.Message{
		{ID: "m1", Sender: chat.SenderUser, Content: "Hello", Kind: chat.KindText, CreatedAt: created},
		{
			ID: "m2", Sender: chat.SenderAssistant, Content: "Hi!", Kind: chat.KindText,
			CreatedAt: created.Add(time.Second),
			Metadata: &chat.Metadata{
				Streaming:         true,
				ProcessedChunkIDs: map[string]struct{}{"seq:1": {}},
			},
		},
	}

	if err := s.Save("alice", msgs); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	loaded, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded))
	}
	if loaded[0].Content != "Hello" || loaded[1].Content != "Hi!" {
		t.Fatalf("unexpected contents: %+v", loaded)
	}
	// Streaming bookkeeping never survives the round trip.
	if loaded[1].Metadata != nil {
		t.Fatalf("persisted metadata should be stripped, got %+v", loaded[1].Metadata)
	}
}

func TestLoadMissingUser(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	msgs, err := s.Load("nobody")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(msgs))
	}
}

func TestCorruptSnapshotTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	if err := s.Save("alice", []chat.Message{{ID: "m1", Content: "ok"}}); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	// Corrupt the snapshot behind the store's back.
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		t.Fatalf("raw open err: %v", err)
	}
	if err := db.Set([]byte("history:alice"), []byte("{not json"), pebble.Sync); err != nil {
		t.Fatalf("raw set err: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("raw close err: %v", err)
	}

	s = openStore(t, dir)
	defer s.Close()
	msgs, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("corrupt snapshot should read as empty, got %d messages", len(msgs))
	}
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	s.Save("alice", []chat.Message{{ID: "m1", Content: "bye"}})
	if err := s.Delete("alice"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}

	msgs, _ := s.Load("alice")
	if len(msgs) != 0 {
		t.Fatalf("expected empty history after delete, got %d", len(msgs))
	}
}

func TestLanguagePreference(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	lang, err := s.Language()
	if err != nil || lang != persist.LanguageEnglish {
		t.Fatalf("expected english default, got %q err %v", lang, err)
	}

	if err := s.SetLanguage(persist.LanguageJapanese); err != nil {
		t.Fatalf("SetLanguage err: %v", err)
	}
	lang, err = s.Language()
	if err != nil || lang != persist.LanguageJapanese {
		t.Fatalf("expected japanese, got %q err %v", lang, err)
	}

	if err := s.SetLanguage("klingon"); err == nil {
		t.Fatal("expected error for unsupported language")
	}
}

func TestUserDescriptor(t *testing.T) {
	s := openStore(t, t.TempDir())
	defer s.Close()

	if _, ok, err := s.User(); err != nil || ok {
		t.Fatalf("expected no stored user, got ok=%v err=%v", ok, err)
	}
	if _, ok := s.Current(); ok {
		t.Fatal("resolver should report signed out")
	}

	want := user.User{ID: "alice", Name: "Alice", Language: persist.LanguageEnglish}
	if err := s.SetUser(want); err != nil {
		t.Fatalf("SetUser err: %v", err)
	}

	got, ok, err := s.User()
	if err != nil || !ok {
		t.Fatalf("User err: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("unexpected descriptor: got %+v want %+v", got, want)
	}

	if resolved, ok := s.Current(); !ok || resolved.ID != "alice" {
		t.Fatalf("resolver mismatch: %+v ok=%v", resolved, ok)
	}
}
