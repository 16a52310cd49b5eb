package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport mode names.
const (
	TransportSocket = "socket"
	TransportStream = "stream"
)

// Config aggregates the client's settings, loaded from the environment.
type Config struct {
	// Transport selects the mode: socket (persistent) or stream
	// (request-scoped chunked HTTP).
	Transport string
	SocketURL string
	StreamURL string

	// DataDir holds the local durable store.
	DataDir string

	// UserID optionally pins the signed-in user; otherwise the stored
	// descriptor resolves it.
	UserID   string
	Language string

	ReconnectDelay  time.Duration
	StreamTimeout   time.Duration
	PersistDebounce time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	transportMode := getEnvOrDefault("NOAH_TRANSPORT", TransportSocket)
	if transportMode != TransportSocket && transportMode != TransportStream {
		return nil, fmt.Errorf("invalid NOAH_TRANSPORT value %q: want %s or %s", transportMode, TransportSocket, TransportStream)
	}

	language := getEnvOrDefault("NOAH_LANGUAGE", "english")
	if language != "english" && language != "japanese" {
		return nil, fmt.Errorf("invalid NOAH_LANGUAGE value %q: want english or japanese", language)
	}

	reconnect, err := parseMillisEnv("NOAH_RECONNECT_DELAY_MS", 3000)
	if err != nil {
		return nil, err
	}
	streamTimeout, err := parseMillisEnv("NOAH_STREAM_TIMEOUT_MS", 600000)
	if err != nil {
		return nil, err
	}
	debounce, err := parseMillisEnv("NOAH_PERSIST_DEBOUNCE_MS", 500)
	if err != nil {
		return nil, err
	}

	return &Config{
		Transport:       transportMode,
		SocketURL:       getEnvOrDefault("NOAH_SOCKET_URL", "ws://localhost:8080/ws"),
		StreamURL:       getEnvOrDefault("NOAH_STREAM_URL", "http://localhost:8080/api/stream"),
		DataDir:         getEnvOrDefault("NOAH_DATA_DIR", "noah-data"),
		UserID:          strings.TrimSpace(os.Getenv("NOAH_USER_ID")),
		Language:        language,
		ReconnectDelay:  reconnect,
		StreamTimeout:   streamTimeout,
		PersistDebounce: debounce,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseMillisEnv(key string, defaultMillis int) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return time.Duration(defaultMillis) * time.Millisecond, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: want a positive integer of milliseconds", key, raw)
	}
	return time.Duration(val) * time.Millisecond, nil
}
