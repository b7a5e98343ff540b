package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/step"
)

// streamRun subscribes to runID's events before launching runFn in its
// own goroutine (so no event can be published before the subscriber
// exists), then writes one SSE frame per event until the connection
// closes or the bus closes the topic (run reached a terminal state).
// Each frame is "event: <kind>\ndata: <json>\n\n" — spec 6 requires
// parsers accept either CRLF or LF; writing LF is sufficient for either.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, runID string, runFn func(ctx context.Context) (*step.Run, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("server: response writer does not support flushing"))
		return
	}

	sub := s.bus.Subscribe(runID)
	defer sub.Unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := runFn(context.WithoutCancel(r.Context()))
		errCh <- err
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEFrame(w, ev)
			flusher.Flush()
		case err := <-errCh:
			if err != nil {
				writeSSEFrame(w, event.Event{Kind: event.KindError, RunID: runID, Error: err.Error()})
				flusher.Flush()
			}
			// Drain any already-queued terminal event before closing.
			for {
				select {
				case ev, ok := <-sub.Events():
					if !ok {
						return
					}
					writeSSEFrame(w, ev)
					flusher.Flush()
				default:
					return
				}
			}
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\n", ev.Kind)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
