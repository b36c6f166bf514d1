package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/enrollment"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/mariadb"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/postgres"
)

// SessionFactory builds a controller wired to the post's camera and analyzer
// for one capture session.
type SessionFactory func(sessionID, badge string) (*enrollment.Controller, error)

// GuardDirectory looks up roster entries. A nil directory disables the
// badge check (replay and development setups).
type GuardDirectory interface {
	GetGuard(ctx context.Context, badge string) (*mariadb.Guard, error)
}

// SessionRecorder persists session records. A nil recorder disables
// persistence.
type SessionRecorder interface {
	Save(ctx context.Context, rec postgres.SessionRecord) error
	SaveArtifacts(ctx context.Context, sessionID string, artifacts []liveness.CapturedImage) error
}

// CapturesHandler handles capture session endpoints.
type CapturesHandler struct {
	manager    *enrollment.Manager
	newSession SessionFactory
	guards     GuardDirectory
	recorder   SessionRecorder
}

// NewCapturesHandler creates a new captures handler.
func NewCapturesHandler(manager *enrollment.Manager, factory SessionFactory, guards GuardDirectory, recorder SessionRecorder) *CapturesHandler {
	return &CapturesHandler{
		manager:    manager,
		newSession: factory,
		guards:     guards,
		recorder:   recorder,
	}
}

// StartRequest represents a capture session start request.
type StartRequest struct {
	Badge string `json:"badge"`
}

// Start begins a new capture session. The post has a single camera, so only
// one session may run at a time.
func (h *CapturesHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Badge == "" {
		respondError(w, http.StatusBadRequest, "badge is required")
		return
	}

	guardName := ""
	if h.guards != nil {
		guard, err := h.guards.GetGuard(r.Context(), req.Badge)
		if err != nil {
			respondError(w, http.StatusBadGateway, "roster lookup failed")
			return
		}
		if guard == nil {
			respondError(w, http.StatusNotFound, "badge not on the roster")
			return
		}
		if !guard.Active {
			respondError(w, http.StatusForbidden, "badge is not active")
			return
		}
		guardName = guard.Name
	}

	sessionID := uuid.New().String()
	ctrl, err := h.newSession(sessionID, req.Badge)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "could not set up the capture pipeline")
		return
	}

	// The post has a single camera; at most one session may register.
	if err := h.manager.StartSession(ctrl); err != nil {
		respondError(w, http.StatusConflict, "a capture session is already running")
		return
	}

	// Session outlives the request.
	if err := ctrl.Start(context.Background()); err != nil {
		h.manager.Remove(sessionID)
		log.Printf("session %s failed to start: %v", sessionID, err)
		respondError(w, http.StatusBadGateway, "camera stream could not be started")
		return
	}

	if h.recorder != nil {
		h.persistLifecycle(ctrl, guardName)
	}

	respondJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

// persistLifecycle writes the running record and, once the session ends, the
// terminal record with its artifacts.
func (h *CapturesHandler) persistLifecycle(ctrl *enrollment.Controller, guardName string) {
	record := func(snap enrollment.Snapshot) postgres.SessionRecord {
		return postgres.SessionRecord{
			ID:            snap.ID,
			Badge:         snap.Badge,
			GuardName:     guardName,
			State:         string(snap.State),
			DroppedFrames: snap.DroppedFrames,
			Error:         snap.Error,
			StartedAt:     snap.StartedAt,
			FinishedAt:    snap.FinishedAt,
		}
	}

	snap := ctrl.Snapshot()
	if err := h.recorder.Save(context.Background(), record(snap)); err != nil {
		log.Printf("failed to persist session %s: %v", sanitizeForLog(snap.ID), err)
	}

	go func() {
		<-ctrl.Done()
		snap := ctrl.Snapshot()
		ctx := context.Background()
		if err := h.recorder.Save(ctx, record(snap)); err != nil {
			log.Printf("failed to persist session %s: %v", sanitizeForLog(snap.ID), err)
			return
		}
		if snap.State == enrollment.StateCompleted {
			if err := h.recorder.SaveArtifacts(ctx, snap.ID, snap.Artifacts); err != nil {
				log.Printf("failed to persist artifacts of session %s: %v", sanitizeForLog(snap.ID), err)
			}
		}
	}()
}

// Get returns the current snapshot of a capture session.
func (h *CapturesHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	respondJSON(w, http.StatusOK, ctrl.Snapshot())
}

// Abort tears down a capture session, discarding all partial artifacts.
func (h *CapturesHandler) Abort(w http.ResponseWriter, r *http.Request) {
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

	ctrl.Abort()
	respondJSON(w, http.StatusOK, map[string]bool{"aborted": true})
}
