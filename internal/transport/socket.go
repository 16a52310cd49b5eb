package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noahchat/noah-client/internal/metrics"
	"github.com/noahchat/noah-client/internal/model/frame"
)

// SocketOptions tunes the persistent transport.
type SocketOptions struct {
	// ReconnectDelay is how long to wait before the single reconnection
	// attempt scheduled after a non-deliberate close.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
}

// DefaultSocketOptions mirrors the reference client behavior.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Socket is the persistent transport: one long-lived websocket the server
// can push frames on at any time.
type Socket struct {
	url  string
	opts SocketOptions
	reg  registry

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	dialing    bool
	closing    bool
	gen        int
	lastErr    error
	reconnect  *time.Timer
	cancelPing context.CancelFunc
}

// NewSocket builds a persistent transport for the given websocket URL.
func NewSocket(url string, opts SocketOptions) *Socket {
	def := DefaultSocketOptions()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &Socket{url: url, opts: opts}
}

// Connect dials the socket, clears the error state and starts the read and
// ping loops. Connecting while connected or mid-dial is a no-op, so
// concurrent calls cannot stack connections.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.closing = false
	s.mu.Unlock()

	dialer := &websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		err = fmt.Errorf("websocket dial failed: %w", err)
		s.lastErr = err
		s.mu.Unlock()
		return err
	}
	if s.closing {
		// Disconnect won the race while the dial was in flight.
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	pingCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connected = true
	s.lastErr = nil
	s.cancelPing = cancel
	s.mu.Unlock()

	go s.readPump(conn)
	go s.pingLoop(pingCtx, conn)
	return nil
}

// Disconnect tears the connection down deliberately: the pending reconnect
// timer is canceled and the generation advances so a timer that already
// fired cannot resurrect the connection.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.closing = true
	s.gen++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.cancelPing != nil {
		s.cancelPing()
		s.cancelPing = nil
	}
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(s.opts.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
}

// Send writes one frame. Sending while disconnected records and returns
// ErrNotConnected rather than failing silently.
func (s *Socket) Send(f *frame.Frame) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()

	if !connected || conn == nil {
		s.setErr(ErrNotConnected)
		return ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.WriteJSON(f); err != nil {
		err = fmt.Errorf("socket send: %w", err)
		s.setErr(err)
		return err
	}
	return nil
}

func (s *Socket) Subscribe(t frame.Type, h Handler) func() {
	return s.reg.subscribe(t, h)
}

func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Socket) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Socket) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		f, derr := frame.Decode(data)
		if derr != nil {
			log.Printf("[socket] dropping malformed frame: %v", derr)
			continue
		}
		s.reg.dispatch("socket", f)
	}
}

// handleClose runs when the read loop dies. A deliberate Disconnect has
// already detached the connection; anything else schedules one reconnect
// attempt after the configured delay.
func (s *Socket) handleClose(conn *websocket.Conn, err error) {
	conn.Close()

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connected = false
	if s.cancelPing != nil {
		s.cancelPing()
		s.cancelPing = nil
	}
	closing := s.closing
	if !closing {
		s.lastErr = err
		gen := s.gen
		s.reconnect = time.AfterFunc(s.opts.ReconnectDelay, func() { s.redial(gen) })
	}
	s.mu.Unlock()

	if closing {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("[socket] abnormal close: %v", err)
	} else {
		log.Printf("[socket] connection closed: %v", err)
	}
}

// redial runs the scheduled reconnect attempt. A generation armed before a
// deliberate Disconnect is stale and does nothing.
func (s *Socket) redial(gen int) {
	s.mu.Lock()
	stale := gen != s.gen || s.closing
	s.mu.Unlock()
	if stale {
		return
	}

	metrics.SocketReconnects.Inc()
	log.Printf("[socket] reconnecting to %s", s.url)
	if err := s.Connect(context.Background()); err != nil {
		log.Printf("[socket] reconnect failed: %v", err)
	}
}

func (s *Socket) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
