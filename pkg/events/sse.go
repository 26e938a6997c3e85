package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// SSEWriter formats fabric events as Server-Sent Events on one
// long-lived response. Callers own the event loop; the writer only
// handles framing and flushing.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter prepares a response for event streaming and emits the
// opening comment. Returns an error when the transport cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSEWriter{w: w, flusher: flusher}
	if err := s.Comment("connected"); err != nil {
		return nil, err
	}
	return s, nil
}

// Comment writes an SSE comment line; used for the opening marker and
// heartbeats.
func (s *SSEWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send writes one fabric event. The id field carries the bus event id
// so clients can track their position; missed events are reconciled by
// polling, never replayed.
func (s *SSEWriter) Send(evt Event) error {
	data, err := json.Marshal(evt.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n",
		strconv.FormatInt(evt.ID, 10), evt.Envelope.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
