package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/progress"
)

// eventBuffer is the number of progress messages held for a slow client
// before new ones are dropped.
const eventBuffer = 256

// handleEvents implements GET /api/events as a Server-Sent Events stream of
// the progress channels of one workspace. Each event is named after its
// channel and carries the JSON-encoded message.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.orch.Resolve(r.URL.Query().Get("workspace"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.New("streaming unsupported"))
		return
	}

	messages := make(chan progress.Message, eventBuffer)
	unsubscribe := s.publisher.Subscribe(ws.ID(), func(m progress.Message) {
		select {
		case messages <- m:
		default:
			s.logger.WithWorkspace(ws.ID()).Warn("dropping progress event for slow client", "channel", m.Channel)
		}
	})
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case m := <-messages:
			if err := writeEvent(w, m); err != nil {
				s.logger.WithWorkspace(ws.ID()).Debug("event stream closed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, m progress.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Channel, data)
	return err
}
