package chat

import (
	"fmt"
	"time"
)

// Session scopes one conversation for one signed-in user. The store replaces
// it wholesale on login or user switch.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Active         bool      `json:"isActive"`
}

// NewSession derives a unique session id from the user and the creation
// instant.
func NewSession(userID string) Session {
	now := time.Now().UTC()
	return Session{
		ID:             fmt.Sprintf("%s-%d", userID, now.UnixNano()),
		UserID:         userID,
		StartedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}
}

// Touch records message activity on the session.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now().UTC()
}
