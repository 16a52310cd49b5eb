package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/noahchat/noah-client/internal/model/frame"
)

// StreamOptions tunes the request-scoped transport.
type StreamOptions struct {
	// Timeout is the hard cap on one call; reaching it aborts the request
	// and releases the response body.
	Timeout time.Duration
}

// DefaultStreamOptions mirrors the reference client behavior.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{Timeout: 600 * time.Second}
}

// Stream is the request-scoped transport: one Call is one fully buffered
// outbound request whose chunked response is consumed line by line until
// completion. Calls are independent; there is no shared connection state and
// therefore nothing to reconnect.
type Stream struct {
	url    string
	opts   StreamOptions
	client *http.Client
	reg    registry

	mu      sync.Mutex
	lastErr error
}

// NewStream builds a request-scoped transport for the given endpoint.
func NewStream(url string, opts StreamOptions) *Stream {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultStreamOptions().Timeout
	}
	return &Stream{url: url, opts: opts, client: &http.Client{}}
}

// Connect validates the endpoint. There is no connection to establish.
func (s *Stream) Connect(_ context.Context) error {
	if strings.TrimSpace(s.url) == "" {
		return errors.New("stream endpoint is not configured")
	}
	return nil
}

// Disconnect is a no-op; each call carries its own cancellation.
func (s *Stream) Disconnect() {}

// Send issues one streaming call in the background. Decoded frames arrive
// through the subscription registry, failures additionally as error frames.
func (s *Stream) Send(f *frame.Frame) error {
	go func() {
		if err := s.Call(context.Background(), f); err != nil {
			log.Printf("[stream] call failed: %v", err)
		}
	}()
	return nil
}

// Call posts the frame and consumes the chunked response until the server
// finishes or the hard timeout aborts the read. Only lines carrying the
// stream prefix are decoded; a line split across reads stays buffered until
// the rest arrives.
func (s *Stream) Call(ctx context.Context, out *frame.Frame) error {
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode request frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		err = fmt.Errorf("stream request: %w", err)
		s.fail(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("stream request: unexpected status %s", resp.Status)
		s.fail(err)
		return err
	}
	s.setErr(nil)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if text := strings.TrimRight(line, "\r\n"); text != "" {
			s.handleLine(text)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				aerr := fmt.Errorf("stream call aborted: %w", ctx.Err())
				s.fail(aerr)
				return aerr
			}
			err = fmt.Errorf("stream read: %w", err)
			s.fail(err)
			return err
		}
	}
}

// handleLine decodes one prefixed line. Malformed JSON is logged and
// dropped; types outside the stream taxonomy are ignored.
func (s *Stream) handleLine(line string) {
	payload, ok := strings.CutPrefix(line, frame.StreamLinePrefix)
	if !ok {
		return
	}
	f, err := frame.Decode([]byte(payload))
	if err != nil {
		log.Printf("[stream] dropping malformed line: %v", err)
		return
	}
	switch f.Type {
	case frame.TypeContentChunk, frame.TypeComplete, frame.TypeError:
	case frame.TypeRecommendations:
		f.Type = frame.TypeRecommendationSet
	default:
		log.Printf("[stream] ignoring frame type %q outside stream taxonomy", f.Type)
		return
	}
	s.reg.dispatch("stream", f)
}

func (s *Stream) Subscribe(t frame.Type, h Handler) func() {
	return s.reg.subscribe(t, h)
}

// Connected reports whether the transport is usable. Calls are
// request-scoped, so a configured endpoint is all connectivity there is.
func (s *Stream) Connected() bool {
	return strings.TrimSpace(s.url) != ""
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// fail records the error and surfaces it to subscribers as an error frame.
func (s *Stream) fail(err error) {
	s.setErr(err)
	s.reg.dispatch("stream", frame.NewError(err.Error()))
}
