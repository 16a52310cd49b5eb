// Command devserver is a local mock backend for developing the client: it
// speaks the frame protocol over both transports with a scripted responder
// standing in for the real generation and recommendation services.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noahchat/noah-client/internal/model/chat"
	"github.com/noahchat/noah-client/internal/model/frame"
	"github.com/noahchat/noah-client/pkg/utils"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	chunkDelay := flag.Duration("chunk-delay", 80*time.Millisecond, "pause between streamed chunks")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &server{
		chunkDelay: *chunkDelay,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleSocket)
	r.Post("/api/stream", s.handleStream)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Noah devserver listening on %s", *addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type server struct {
	chunkDelay time.Duration
	upgrader   websocket.Upgrader
}

// handleSocket speaks the persistent side of the protocol: one read loop,
// scripted replies written synchronously from it.
func (s *server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[devserver] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[devserver] socket connected from %s", r.RemoteAddr)

	for {
		var f frame.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[devserver] read error: %v", err)
			}
			return
		}

		switch f.Type {
		case frame.TypeJoinSession:
			s.writeFrame(conn, &frame.Frame{
				Type:      frame.TypeHistory,
				SessionID: f.SessionID,
				Timestamp: time.Now().Unix(),
			})
		case frame.TypeUserMessage:
			s.respond(conn, &f)
		case frame.TypePreferenceUpdate:
			log.Printf("[devserver] preference update for user %s", f.UserID)
		case frame.TypeTyping:
			// nothing to do
		default:
			s.writeFrame(conn, frame.NewError("unsupported frame type: "+string(f.Type)))
		}
	}
}

// respond streams a scripted reply as sequenced chunks followed by a
// complete frame, with a recommendation set when the user asks for one.
func (s *server) respond(conn *websocket.Conn, in *frame.Frame) {
	s.writeFrame(conn, &frame.Frame{
		Type:      frame.TypeTyping,
		SessionID: in.SessionID,
		Timestamp: time.Now().Unix(),
	})

	messageID := uuid.NewString()
	for i, word := range replyWords(in.Content) {
		s.writeFrame(conn, frame.NewContentChunk(messageID, word, i+1, false))
		time.Sleep(s.chunkDelay)
	}
	s.writeFrame(conn, frame.NewComplete(messageID))

	if wantsRecommendations(in.Content) {
		s.writeFrame(conn, &frame.Frame{
			Type:            frame.TypeRecommendationSet,
			SessionID:       in.SessionID,
			Content:         "Here are a few picks for you.",
			Recommendations: sampleRecommendations(),
			Timestamp:       time.Now().Unix(),
		})
	}
}

func (s *server) writeFrame(conn *websocket.Conn, f *frame.Frame) {
	if err := conn.WriteJSON(f); err != nil {
		log.Printf("[devserver] write failed: %v", err)
	}
}

// handleStream speaks the request-scoped side: one buffered request frame
// in, newline-delimited data lines out until complete.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var in frame.Frame
	if err := frameFromBody(r, &in); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request frame")
		return
	}
	if in.Type != frame.TypeUserMessage {
		utils.RespondError(w, http.StatusBadRequest, "expected a user_message frame")
		return
	}

	utils.SetupStreamHeaders(w)

	messageID := uuid.NewString()
	for i, word := range replyWords(in.Content) {
		utils.WriteStreamLine(w, flusher, frame.NewContentChunk(messageID, word, i+1, false))
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.chunkDelay):
		}
	}

	if wantsRecommendations(in.Content) {
		utils.WriteStreamLine(w, flusher, &frame.Frame{
			Type:            frame.TypeRecommendations,
			Content:         "Here are a few picks for you.",
			Recommendations: sampleRecommendations(),
			Timestamp:       time.Now().Unix(),
		})
	}
	utils.WriteStreamLine(w, flusher, frame.NewComplete(messageID))
}

func frameFromBody(r *http.Request, f *frame.Frame) error {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	decoded, err := frame.Decode(data)
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}

// replyWords splits the scripted echo into word-sized chunks, each keeping
// its trailing space so concatenation reproduces the sentence.
func replyWords(userText string) []string {
	reply := "I received your message: " + strings.TrimSpace(userText)
	words := strings.Fields(reply)
	out := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			out[i] = w + " "
		} else {
			out[i] = w
		}
	}
	return out
}

func wantsRecommendations(text string) bool {
	return strings.Contains(strings.ToLower(text), "recommend")
}

func sampleRecommendations() []chat.Recommendation {
	return []chat.Recommendation{
		{ID: "rec-1", Title: "The Left Hand of Darkness", Reason: "matches your sci-fi topic boost", Score: 0.92},
		{ID: "rec-2", Title: "Project Hail Mary", Reason: "popular with similar readers", Score: 0.87},
		{ID: "rec-3", Title: "Exhalation", Reason: "short stories at your reading level", Score: 0.81},
	}
}
