// Package persist is the client-local durable layer behind the session
// store: per-user history snapshots plus the language preference and the
// authenticated-user descriptor.
package persist

import (
	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/user"
)

// Languages the UI supports.
const (
	LanguageEnglish  = "english"
	LanguageJapanese = "japanese"
)

// Persister abstracts durable storage so the store can swap the embedded
// database for something else without touching message logic.
//
// Implementations must be safe for concurrent use. Snapshots are keyed by
// user id, so sessions for different users never contend; two stores
// sharing one Persister for the same user race on the snapshot key and the
// later Save wins.
type Persister interface {
	// Load returns the snapshot for the user. A missing key or an
	// undecodable snapshot yields an empty history, never an error.
	Load(userID string) ([]chat.Message, error)
	// Save writes a sanitized snapshot; streaming bookkeeping is stripped
	// before serialization.
	Save(userID string, msgs []chat.Message) error
	Delete(userID string) error

	SetLanguage(lang string) error
	Language() (string, error)

	SetUser(u user.User) error
	User() (user.User, bool, error)

	Close() error
}
