package chat

import (
	"sort"
	"time"
)

// Sender values for Message.Sender.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Kind selects the metadata payload a message carries.
type Kind string

const (
	KindText           Kind = "text"
	KindRecommendation Kind = "recommendation"
	KindPurchaseLinks  Kind = "purchase_links"
)

// Recommendation is one ranked item attached to a recommendation message.
type Recommendation struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Reason string  `json:"reason,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

// PurchaseLink points at a storefront for a recommended item.
type PurchaseLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Store string `json:"store,omitempty"`
}

// Metadata carries kind-specific payloads plus, while a message streams,
// transient assembly bookkeeping. The bookkeeping never reaches the
// persisted form.
type Metadata struct {
	Recommendations   []Recommendation    `json:"recommendations,omitempty"`
	PurchaseLinks     []PurchaseLink      `json:"purchaseLinks,omitempty"`
	Streaming         bool                `json:"isStreaming,omitempty"`
	ProcessedChunkIDs map[string]struct{} `json:"processedChunkIds,omitempty"`
}

// Clone returns an independent copy, including the bookkeeping map.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := &Metadata{
		Recommendations: append([]Recommendation(nil), m.Recommendations...),
		PurchaseLinks:   append([]PurchaseLink(nil), m.PurchaseLinks...),
		Streaming:       m.Streaming,
	}
	if m.ProcessedChunkIDs != nil {
		out.ProcessedChunkIDs = make(map[string]struct{}, len(m.ProcessedChunkIDs))
		for id := range m.ProcessedChunkIDs {
			out.ProcessedChunkIDs[id] = struct{}{}
		}
	}
	return out
}

// Message is a single conversation turn. Content is mutable only while the
// message streams; once finalized it never changes.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// Sanitized returns a copy safe to persist: streaming bookkeeping stripped,
// metadata dropped entirely when nothing else remains.
func (m Message) Sanitized() Message {
	if m.Metadata == nil {
		return m
	}
	meta := m.Metadata.Clone()
	meta.Streaming = false
	meta.ProcessedChunkIDs = nil
	if len(meta.Recommendations) == 0 && len(meta.PurchaseLinks) == 0 {
		m.Metadata = nil
		return m
	}
	m.Metadata = meta
	return m
}

// SortMessages orders messages ascending by creation time for display. The
// sort is stable so same-instant messages keep their append order.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
