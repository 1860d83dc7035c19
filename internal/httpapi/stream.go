package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"raha.health/internal/auth"
)

const streamHeartbeat = 15 * time.Second

// streamSession pushes auth state transitions as Server-Sent Events, starting
// with the current state. Slow readers miss intermediate states, never the latest.
func (a *API) streamSession(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := make(chan auth.AuthState, 16)
	unsubscribe := a.deps.Session.Subscribe(func(st auth.AuthState) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(st auth.AuthState) bool {
		payload, err := json.Marshal(st)
		if err != nil {
			return true
		}
		if _, err := w.Write([]byte("event: auth\ndata: ")); err != nil {
			return false
		}
		_, _ = w.Write(payload)
		_, err = w.Write([]byte("\n\n"))
		flusher.Flush()
		return err == nil
	}

	if !send(a.deps.Session.AuthState()) {
		return
	}

	ticker := time.NewTicker(streamHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case st := <-updates:
			if !send(st) {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
