package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

// RespondJSON writes a JSON response with the given status.
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError writes a JSON error body.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// SetupStreamHeaders prepares a chunked newline-delimited frame response.
func SetupStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// WriteStreamLine writes one prefixed data line and flushes it so the
// client sees the frame immediately.
func WriteStreamLine(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal stream payload: %v", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n", data); err != nil {
		log.Printf("failed to write stream line: %v", err)
		return
	}
	flusher.Flush()
}
