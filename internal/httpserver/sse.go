package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SetSSEHeaders configures w for a text/event-stream response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// WriteSSEEvent writes a single named SSE event carrying data marshaled as
// JSON, then flushes. Returns an error if the underlying writer does not
// support flushing or the write fails — the caller should treat either as a
// disconnected client and unwind.
func WriteSSEEvent(w http.ResponseWriter, event string, data any) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling sse event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// WriteSSEComment writes a comment line (not a named event) — used for
// heartbeat/keep-alive frames that don't need to be parsed as JSON.
func WriteSSEComment(w http.ResponseWriter, comment string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
