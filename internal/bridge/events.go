package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleViewEvents streams the panel snapshot as server-sent events. A new
// snapshot is sent whenever it changed; the poll covers changes the
// projection does not see (the active tab moving).
func (s *Server) handleViewEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snap := p.Snapshot()
	last := snapshotFingerprint(snap)
	if err := writeSSEEvent(w, flusher, "view", snap); err != nil {
		return
	}

	changes, cancel := p.Subscribe()
	defer cancel()

	pollTicker := time.NewTicker(viewEventsPollInterval)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(viewEventsHeartbeatInterval)
	defer heartbeatTicker.Stop()

	emitIfChanged := func() error {
		next := p.Snapshot()
		fp := snapshotFingerprint(next)
		if fp == last {
			return nil
		}
		if err := writeSSEEvent(w, flusher, "view", next); err != nil {
			return err
		}
		last = fp
		return nil
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			if err := writeSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		case <-changes:
			if err := emitIfChanged(); err != nil {
				return
			}
		case <-pollTicker.C:
			if err := emitIfChanged(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEComment(w http.ResponseWriter, flusher http.Flusher, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
