package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/cockroachdb/pebble"

	"github.com/noahchat/noah-client/internal/metrics"
	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/user"
)

// Key layout: one history entry per user, one entry for the language
// preference, one for the authenticated user descriptor.
const (
	historyPrefix = "history:"
	languageKey   = "pref:language"
	userKey       = "auth:user"
)

// Store persists snapshots in a local pebble database. Pebble holds a
// directory lock, so two processes cannot share a data dir.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the user's snapshot. Missing keys and corrupt snapshots both
// come back as an empty history; corruption is logged, not propagated.
func (s *Store) Load(userID string) ([]chat.Message, error) {
	val, closer, err := s.db.Get([]byte(historyPrefix + userID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", userID, err)
	}
	defer closer.Close()

	var msgs []chat.Message
	if err := json.Unmarshal(val, &msgs); err != nil {
		log.Printf("[persist] corrupt snapshot for user %s, treating as empty: %v", userID, err)
		return nil, nil
	}
	return msgs, nil
}

// Save writes a sanitized snapshot for the user with a synced write; a
// completed message lost to a crash is worse than the extra fsync.
func (s *Store) Save(userID string, msgs []chat.Message) error {
	sanitized := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		sanitized[i] = m.Sanitized()
	}
	data, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("marshal history for %s: %w", userID, err)
	}
	if err := s.db.Set([]byte(historyPrefix+userID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save history for %s: %w", userID, err)
	}
	metrics.SnapshotWrites.Inc()
	return nil
}

func (s *Store) Delete(userID string) error {
	if err := s.db.Delete([]byte(historyPrefix+userID), pebble.Sync); err != nil {
		return fmt.Errorf("delete history for %s: %w", userID, err)
	}
	return nil
}

func (s *Store) SetLanguage(lang string) error {
	if lang != LanguageEnglish && lang != LanguageJapanese {
		return fmt.Errorf("unsupported language %q", lang)
	}
	if err := s.db.Set([]byte(languageKey), []byte(lang), pebble.Sync); err != nil {
		return fmt.Errorf("save language: %w", err)
	}
	return nil
}

// Language returns the stored UI language, defaulting to english.
func (s *Store) Language() (string, error) {
	val, closer, err := s.db.Get([]byte(languageKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return LanguageEnglish, nil
	}
	if err != nil {
		return "", fmt.Errorf("load language: %w", err)
	}
	defer closer.Close()
	return string(val), nil
}

func (s *Store) SetUser(u user.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user descriptor: %w", err)
	}
	if err := s.db.Set([]byte(userKey), data, pebble.Sync); err != nil {
		return fmt.Errorf("save user descriptor: %w", err)
	}
	return nil
}

func (s *Store) User() (user.User, bool, error) {
	val, closer, err := s.db.Get([]byte(userKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return user.User{}, false, nil
	}
	if err != nil {
		return user.User{}, false, fmt.Errorf("load user descriptor: %w", err)
	}
	defer closer.Close()

	var u user.User
	if err := json.Unmarshal(val, &u); err != nil {
		log.Printf("[persist] corrupt user descriptor, treating as signed out: %v", err)
		return user.User{}, false, nil
	}
	return u, u.ID != "", nil
}

// Current implements user.Resolver off the stored descriptor, so the store
// can fall back to the signed-in user on session init.
func (s *Store) Current() (user.User, bool) {
	u, ok, err := s.User()
	if err != nil {
		log.Printf("[persist] resolve current user: %v", err)
		return user.User{}, false
	}
	return u, ok
}
