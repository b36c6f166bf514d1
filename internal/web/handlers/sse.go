package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/enrollment"
)

// isTerminalEvent returns true if the event ends the stream.
func isTerminalEvent(eventType string) bool {
	return eventType == enrollment.EventCompleted ||
		eventType == enrollment.EventAborted ||
		eventType == enrollment.EventFailed
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// Events streams session events via SSE: the current snapshot first, then
// every status and capture notification until the session ends or the
// client disconnects.
func (h *CapturesHandler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return
	}

	ctrl := h.manager.Get(sessionID)
	if ctrl == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	eventCh := ctrl.Events().AddListener()
	defer ctrl.Events().RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "snapshot", ctrl.Snapshot())

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ctrl.Done():
			sendSSEEvent(w, flusher, "snapshot", ctrl.Snapshot())
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isTerminalEvent(event.Type) {
				return
			}
		}
	}
}
