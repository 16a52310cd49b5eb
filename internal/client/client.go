// Package client binds the transport's frame stream to the session store:
// inbound chunks become streaming messages, completes finalize them, and
// user actions go back out as frames.
package client

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/noahchat/noah-client/internal/assembler"
	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/frame"
	"github.com/noahchat/noah-client/internal/store"
	"github.com/noahchat/noah-client/internal/transport"
)

// Notify observes inbound frames after they are applied; the UI uses it to
// render incrementally. May be nil.
type Notify func(*frame.Frame)

var errWireFinalized = errors.New("wire message already finalized")

// finalizedHistory bounds how many finished wire ids are remembered for
// rejecting late re-deliveries.
const finalizedHistory = 128

// Client drives one conversation over one transport.
type Client struct {
	store     *store.SessionStore
	transport transport.Transport
	notify    Notify

	mu             sync.Mutex
	inflight       map[string]string // wire message id -> local message id
	finalized      map[string]struct{}
	finalizedOrder []string
	unsubs         []func()
}

func New(st *store.SessionStore, tr transport.Transport, notify Notify) *Client {
	return &Client{
		store:     st,
		transport: tr,
		notify:    notify,
		inflight:  make(map[string]string),
		finalized: make(map[string]struct{}),
	}
}

// Start connects the transport, subscribes the frame handlers and joins the
// current session's room.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.unsubs = []func(){
		c.transport.Subscribe(frame.TypeContentChunk, c.onChunk),
		c.transport.Subscribe(frame.TypeComplete, c.onComplete),
		c.transport.Subscribe(frame.TypeNoahMessage, c.onNoahMessage),
		c.transport.Subscribe(frame.TypeRecommendationSet, c.onRecommendationSet),
		c.transport.Subscribe(frame.TypePurchaseLinkSet, c.onPurchaseLinkSet),
		c.transport.Subscribe(frame.TypeError, c.onError),
		c.transport.Subscribe(frame.TypeTyping, c.forward),
		c.transport.Subscribe(frame.TypeHistory, c.forward),
	}
	c.mu.Unlock()

	session := c.store.Session()
	if err := c.transport.Send(frame.NewJoinSession(session.ID, session.UserID)); err != nil {
		log.Printf("[client] join session failed: %v", err)
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (c *Client) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	c.transport.Disconnect()
}

// SendUserMessage appends the turn locally and forwards it to the backend.
func (c *Client) SendUserMessage(text string) (chat.Message, error) {
	msg, err := c.store.AppendUserMessage(text)
	if err != nil {
		return chat.Message{}, err
	}
	if err := c.transport.Send(frame.NewUserMessage(c.store.Session().ID, text)); err != nil {
		return msg, err
	}
	return msg, nil
}

// onChunk routes a content fragment to its streaming message, starting one
// on the first chunk for an unseen wire id. A chunk re-delivered after the
// message finished is a protocol violation: logged and dropped, never the
// start of a new message.
func (c *Client) onChunk(f *frame.Frame) {
	localID, err := c.ensureStreaming(f.MessageID)
	if err != nil {
		log.Printf("[client] dropping chunk for message %s: %v", f.MessageID, err)
		return
	}

	chunk := assembler.Chunk{Text: f.Content, Sequence: f.Sequence, IsFinal: f.IsFinal}
	if err := c.store.ApplyChunk(localID, chunk); err != nil {
		return
	}
	if f.IsFinal {
		c.finish(f.MessageID)
	}
	c.forward(f)
}

func (c *Client) onComplete(f *frame.Frame) {
	c.mu.Lock()
	localID, ok := c.inflight[f.MessageID]
	c.mu.Unlock()

	if !ok {
		log.Printf("[client] complete for unknown message %s", f.MessageID)
		return
	}
	c.finish(f.MessageID)
	if err := c.store.FinalizeStreamingMessage(localID, f.Content, nil); err != nil {
		return
	}
	c.forward(f)
}

func (c *Client) onNoahMessage(f *frame.Frame) {
	if _, err := c.store.AppendAssistantMessage(f.Content, chat.KindText, nil); err != nil {
		log.Printf("[client] append assistant message: %v", err)
		return
	}
	c.forward(f)
}

func (c *Client) onRecommendationSet(f *frame.Frame) {
	meta := &chat.Metadata{Recommendations: f.Recommendations}
	if _, err := c.store.AppendAssistantMessage(f.Content, chat.KindRecommendation, meta); err != nil {
		log.Printf("[client] append recommendation set: %v", err)
		return
	}
	c.forward(f)
}

func (c *Client) onPurchaseLinkSet(f *frame.Frame) {
	meta := &chat.Metadata{PurchaseLinks: f.PurchaseLinks}
	if _, err := c.store.AppendAssistantMessage(f.Content, chat.KindPurchaseLinks, meta); err != nil {
		log.Printf("[client] append purchase links: %v", err)
		return
	}
	c.forward(f)
}

func (c *Client) onError(f *frame.Frame) {
	log.Printf("[client] backend error: %s", f.Content)
	c.forward(f)
}

func (c *Client) forward(f *frame.Frame) {
	if c.notify != nil {
		c.notify(f)
	}
}

// ensureStreaming maps the wire message id to a local streaming message,
// beginning one on first sight. Wire ids that already finished are refused.
func (c *Client) ensureStreaming(wireID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.finalized[wireID]; done {
		return "", errWireFinalized
	}
	if localID, ok := c.inflight[wireID]; ok {
		return localID, nil
	}
	localID, err := c.store.BeginStreamingMessage(chat.KindText)
	if err != nil {
		return "", err
	}
	c.inflight[wireID] = localID
	return localID, nil
}

// finish retires a wire id: the inflight mapping goes away and the id joins
// the bounded finalized set so late re-deliveries are rejected.
func (c *Client) finish(wireID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, wireID)
	if _, done := c.finalized[wireID]; done {
		return
	}
	c.finalized[wireID] = struct{}{}
	c.finalizedOrder = append(c.finalizedOrder, wireID)
	if len(c.finalizedOrder) > finalizedHistory {
		oldest := c.finalizedOrder[0]
		c.finalizedOrder = c.finalizedOrder[1:]
		delete(c.finalized, oldest)
	}
}
