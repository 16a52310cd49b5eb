// Package transport normalizes the two backend feeds, a persistent socket
// and a request-scoped chunked HTTP stream, into one typed frame stream.
package transport

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/noahchat/noah-client/internal/model/frame"
)

var ErrNotConnected = errors.New("transport not connected")

// Handler consumes inbound frames of a subscribed type.
type Handler func(*frame.Frame)

// Transport is the single interface upper layers see regardless of mode.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(f *frame.Frame) error
	// Subscribe registers a handler for one frame type and returns its
	// unsubscribe function.
	Subscribe(t frame.Type, h Handler) func()
	Connected() bool
	// Err reports the last observed transport error, cleared on a
	// successful connect.
	Err() error
}

var inboundTypes = map[frame.Type]bool{
	frame.TypeNoahMessage:       true,
	frame.TypeContentChunk:      true,
	frame.TypeRecommendationSet: true,
	frame.TypePurchaseLinkSet:   true,
	frame.TypeComplete:          true,
	frame.TypeTyping:            true,
	frame.TypeHistory:           true,
	frame.TypeError:             true,
}

// registry fans inbound frames out to per-type subscribers. Both transport
// modes share it so subscription behavior is identical.
type registry struct {
	mu   sync.RWMutex
	subs map[frame.Type]map[int]Handler
	next int
}

func (r *registry) subscribe(t frame.Type, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs == nil {
		r.subs = make(map[frame.Type]map[int]Handler)
	}
	if r.subs[t] == nil {
		r.subs[t] = make(map[int]Handler)
	}
	id := r.next
	r.next++
	r.subs[t][id] = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[t], id)
	}
}

// dispatch delivers f to its subscribers. Frames outside the inbound
// taxonomy are logged and ignored, never an error.
func (r *registry) dispatch(tag string, f *frame.Frame) {
	if !inboundTypes[f.Type] {
		log.Printf("[%s] ignoring unknown frame type %q", tag, f.Type)
		return
	}
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs[f.Type]))
	for _, h := range r.subs[f.Type] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()
	for _, h := range handlers {
		h(f)
	}
}
