// Package assembler turns at-least-once chunk delivery into exactly-once
// content accumulation for streaming assistant messages.
package assembler

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"time"

	"github.com/noahchat/noah-client/internal/metrics"
	"github.com/noahchat/noah-client/internal/model/chat"
)

var (
	// ErrFinalized means a chunk arrived for a message whose content is
	// already immutable. Callers log it as a protocol violation.
	ErrFinalized = errors.New("message already finalized")
)

// Chunk is one fragment of an in-progress assistant message.
type Chunk struct {
	Text     string
	Sequence *int
	IsFinal  bool
}

// Assembler applies inbound chunks to streaming messages exactly once. It
// deduplicates but never reorders: chunks apply in delivery order.
type Assembler struct {
	now func() time.Time
}

func New() *Assembler {
	return &Assembler{now: time.Now}
}

// Begin puts msg into the streaming state with empty accumulation.
func (a *Assembler) Begin(msg *chat.Message) {
	msg.Content = ""
	if msg.Metadata == nil {
		msg.Metadata = &chat.Metadata{}
	}
	msg.Metadata.Streaming = true
	msg.Metadata.ProcessedChunkIDs = make(map[string]struct{})
}

// Apply appends one chunk to a streaming message. Re-delivered chunks are
// discarded and reported as applied=false with no error.
func (a *Assembler) Apply(msg *chat.Message, c Chunk) (applied bool, err error) {
	if !streaming(msg) {
		return false, ErrFinalized
	}

	id := a.identity(c)
	if _, seen := msg.Metadata.ProcessedChunkIDs[id]; seen {
		metrics.ChunkDuplicates.Inc()
		return false, nil
	}

	msg.Content += c.Text
	msg.Metadata.ProcessedChunkIDs[id] = struct{}{}
	return true, nil
}

// Finalize makes the message immutable and clears the transient bookkeeping
// so it never reaches the persisted form. A non-empty finalText overwrites
// the accumulated content wholesale; the terminal frame is the source of
// truth for the final form when the backend supplies one.
func (a *Assembler) Finalize(msg *chat.Message, finalText string) error {
	if !streaming(msg) {
		return ErrFinalized
	}
	if finalText != "" {
		msg.Content = finalText
	}
	msg.Metadata.Streaming = false
	msg.Metadata.ProcessedChunkIDs = nil
	return nil
}

func streaming(msg *chat.Message) bool {
	return msg.Metadata != nil && msg.Metadata.Streaming
}

// identity derives the dedup key for a chunk. The sequence number is the
// reliable path. Without one we fall back to a cheap hash of the text, its
// length and a coarse arrival bucket; that fallback can collide, and a true
// duplicate arriving in a later bucket is not recognized. The metric makes
// fallback use observable.
func (a *Assembler) identity(c Chunk) string {
	if c.Sequence != nil {
		return "seq:" + strconv.Itoa(*c.Sequence)
	}
	metrics.ChunkHashIdentity.Inc()
	h := fnv.New64a()
	io.WriteString(h, c.Text)
	bucket := a.now().Unix() / 2
	return fmt.Sprintf("hash:%x:%d:%d", h.Sum64(), len(c.Text), bucket)
}
