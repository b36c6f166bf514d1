package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/postgres"
)

// AttendanceStore queries persisted attendance records.
type AttendanceStore interface {
	ListAttendance(ctx context.Context, from, to time.Time) ([]postgres.SessionRecord, error)
}

// AttendanceHandler serves the attendance log built from completed sessions.
type AttendanceHandler struct {
	store AttendanceStore
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(store AttendanceStore) *AttendanceHandler {
	return &AttendanceHandler{store: store}
}

// AttendanceEntry is one row of the attendance log.
type AttendanceEntry struct {
	SessionID  string     `json:"session_id"`
	Badge      string     `json:"badge"`
	GuardName  string     `json:"guard_name,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// List returns completed sessions in the requested window. Defaults to the
// last 24 hours when no bounds are given.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "attendance storage is not configured")
		return
	}

	now := time.Now()
	from, to := now.Add(-24*time.Hour), now

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'from' timestamp, want RFC 3339")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid 'to' timestamp, want RFC 3339")
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		respondError(w, http.StatusBadRequest, "'from' must be before 'to'")
		return
	}

	records, err := h.store.ListAttendance(r.Context(), from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "attendance query failed")
		return
	}

	entries := make([]AttendanceEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, AttendanceEntry{
			SessionID:  rec.ID,
			Badge:      rec.Badge,
			GuardName:  rec.GuardName,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"to":      to,
		"entries": entries,
	})
}
