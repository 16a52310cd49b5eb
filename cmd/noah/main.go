// Command noah is the terminal client: it keeps one conversation session
// against the backend, streams assistant replies as they arrive, and
// persists history locally per user.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/noahchat/noah-client/internal/client"
	"github.com/noahchat/noah-client/internal/config"
	"github.com/noahchat/noah-client/internal/impact"
	"github.com/noahchat/noah-client/internal/model/frame"
	"github.com/noahchat/noah-client/internal/persist"
	"github.com/noahchat/noah-client/internal/store"
	"github.com/noahchat/noah-client/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := persist.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open local store: %v", err)
	}
	defer db.Close()

	if err := db.SetLanguage(cfg.Language); err != nil {
		log.Printf("warning: failed to store language preference: %v", err)
	}

	sessionStore := store.New(db, db, store.Options{DebounceWindow: cfg.PersistDebounce})
	session, err := sessionStore.InitializeSession(ctx, cfg.UserID)
	if err != nil {
		log.Fatalf("failed to initialize session: %v", err)
	}
	log.Printf("session %s started for user %s", session.ID, session.UserID)

	var tr transport.Transport
	switch cfg.Transport {
	case config.TransportStream:
		tr = transport.NewStream(cfg.StreamURL, transport.StreamOptions{Timeout: cfg.StreamTimeout})
		log.Printf("using request-scoped stream transport at %s", cfg.StreamURL)
	default:
		tr = transport.NewSocket(cfg.SocketURL, transport.SocketOptions{ReconnectDelay: cfg.ReconnectDelay})
		log.Printf("using persistent socket transport at %s", cfg.SocketURL)
	}

	c := client.New(sessionStore, tr, renderFrame)
	if err := c.Start(ctx); err != nil {
		log.Fatalf("failed to start client: %v", err)
	}
	defer c.Stop()

	estimator := impact.New(sessionStore, tr, nil)

	printHistory(sessionStore)
	runREPL(ctx, c, sessionStore, estimator)
}

// renderFrame prints streamed assistant output as it arrives.
func renderFrame(f *frame.Frame) {
	switch f.Type {
	case frame.TypeContentChunk:
		fmt.Print(f.Content)
	case frame.TypeComplete:
		fmt.Println()
	case frame.TypeNoahMessage:
		fmt.Println(f.Content)
	case frame.TypeRecommendationSet:
		fmt.Println(f.Content)
		for _, rec := range f.Recommendations {
			fmt.Printf("  - %s (%s)\n", rec.Title, rec.Reason)
		}
	case frame.TypePurchaseLinkSet:
		for _, link := range f.PurchaseLinks {
			fmt.Printf("  - %s: %s\n", link.Title, link.URL)
		}
	case frame.TypeError:
		fmt.Printf("! %s\n", f.Content)
	}
}

func printHistory(s *store.SessionStore) {
	for _, m := range s.Messages() {
		fmt.Printf("[%s] %s\n", m.Sender, m.Content)
	}
}

func runREPL(ctx context.Context, c *client.Client, s *store.SessionStore, est *impact.Estimator) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("type a message, /pref <kind> <item> <old> <new>, /clear, or /quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := handleLine(line, c, s, est); done {
				return
			}
		}
	}
}

func handleLine(line string, c *client.Client, s *store.SessionStore, est *impact.Estimator) bool {
	text := strings.TrimSpace(line)
	switch {
	case text == "":
		return false
	case text == "/quit":
		return true
	case text == "/clear":
		if err := s.Clear(); err != nil {
			fmt.Printf("! clear failed: %v\n", err)
		}
		return false
	case strings.HasPrefix(text, "/pref"):
		handlePreference(text, est)
		return false
	default:
		if _, err := c.SendUserMessage(text); err != nil {
			fmt.Printf("! send failed: %v\n", err)
		}
		return false
	}
}

func handlePreference(text string, est *impact.Estimator) {
	fields := strings.Fields(text)
	if len(fields) != 5 {
		fmt.Println("usage: /pref <topic|content_type|reading_level> <item> <old> <new>")
		return
	}
	oldVal, err1 := strconv.ParseFloat(fields[3], 64)
	newVal, err2 := strconv.ParseFloat(fields[4], 64)
	if err1 != nil || err2 != nil {
		fmt.Println("old and new values must be numbers")
		return
	}

	delta := impact.Delta{
		Kind:     impact.Kind(fields[1]),
		Item:     fields[2],
		OldValue: oldVal,
		NewValue: newVal,
	}
	if _, err := est.Apply(delta); err != nil {
		fmt.Printf("! preference update failed: %v\n", err)
	}
}
