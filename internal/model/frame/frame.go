package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/noahchat/noah-client/internal/model/chat"
)

// Type discriminates the frames exchanged with the backend.
type Type string

// Outbound frame types (client to server).
const (
	TypeUserMessage      Type = "user_message"
	TypeJoinSession      Type = "join_session"
	TypePreferenceUpdate Type = "preference_update"
)

// Inbound frame types (server to client).
const (
	TypeNoahMessage       Type = "noah_message"
	TypeContentChunk      Type = "content_chunk"
	TypeRecommendationSet Type = "recommendation_set"
	TypePurchaseLinkSet   Type = "purchase_link_set"
	TypeComplete          Type = "complete"
	TypeTyping            Type = "typing"
	TypeHistory           Type = "history"
	TypeError             Type = "error"

	// TypeRecommendations is the request-scoped stream's short alias for a
	// recommendation set; transports normalize it to TypeRecommendationSet
	// before dispatch.
	TypeRecommendations Type = "recommendations"
)

// StreamLinePrefix marks decodable lines of a request-scoped stream
// response. Lines without it are ignored.
const StreamLinePrefix = "data: "

var ErrMissingType = errors.New("frame has no type")

// Frame is one discrete typed unit exchanged over a transport. Fields are a
// union across the taxonomy; unused ones stay empty on the wire.
type Frame struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Sequence  *int   `json:"sequence,omitempty"`
	IsFinal   bool   `json:"is_final,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	Metadata        json.RawMessage       `json:"metadata,omitempty"`
	PreferenceData  json.RawMessage       `json:"preferenceData,omitempty"`
	Recommendations []chat.Recommendation `json:"recommendations,omitempty"`
	PurchaseLinks   []chat.PurchaseLink   `json:"purchaseLinks,omitempty"`
	Messages        []chat.Message        `json:"messages,omitempty"`
}

// Decode parses a raw JSON frame. Unknown types decode fine; callers decide
// whether to dispatch or drop them.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, ErrMissingType
	}
	return &f, nil
}

// NewUserMessage builds an outbound chat turn.
func NewUserMessage(sessionID, content string) *Frame {
	return &Frame{
		Type:      TypeUserMessage,
		SessionID: sessionID,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}
}

// NewJoinSession attaches the client to a session room.
func NewJoinSession(sessionID, userID string) *Frame {
	return &Frame{
		Type:      TypeJoinSession,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	}
}

// NewPreferenceUpdate notifies the backend of a preference edit so the
// server-side record can reconcile.
func NewPreferenceUpdate(userID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode preference data: %w", err)
	}
	return &Frame{
		Type:           TypePreferenceUpdate,
		UserID:         userID,
		PreferenceData: raw,
		Timestamp:      time.Now().Unix(),
	}, nil
}

// NewContentChunk builds one fragment of an in-progress assistant message.
func NewContentChunk(messageID, text string, sequence int, final bool) *Frame {
	seq := sequence
	return &Frame{
		Type:      TypeContentChunk,
		MessageID: messageID,
		Content:   text,
		Sequence:  &seq,
		IsFinal:   final,
		Timestamp: time.Now().Unix(),
	}
}

// NewComplete marks a streamed message finished.
func NewComplete(messageID string) *Frame {
	return &Frame{
		Type:      TypeComplete,
		MessageID: messageID,
		Timestamp: time.Now().Unix(),
	}
}

// NewError carries a transport-level failure to subscribers.
func NewError(message string) *Frame {
	return &Frame{
		Type:      TypeError,
		Content:   message,
		Timestamp: time.Now().Unix(),
	}
}
