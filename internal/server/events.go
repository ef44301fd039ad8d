package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bryan-buckman/rssreader/internal/event"
)

// handleEvents streams library events as server-sent events until the
// client disconnects. A slow client loses events instead of stalling writers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := event.NewChannel(eventBuffer, s.log)
	unsubscribe := s.bus.Subscribe(ch)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch.C():
			data, err := json.Marshal(e)
			if err != nil {
				s.log.WarnContext(r.Context(), "Failed to encode event",
					"error", err,
					"kind", e.Kind)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
