package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	contractx "github.com/pattarawat/steward/agent/contract"
)

// sseWriter encodes stream events as server-sent events. The mux
// serializes calls, so no locking here.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) WriteFrame(ev contractx.StreamEvent) error {
	data := []byte("{}")
	if ev.Data != nil {
		encoded, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode %s frame: %w", ev.Type, err)
		}
		data = encoded
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Type, err)
	}
	s.flusher.Flush()
	return nil
}
