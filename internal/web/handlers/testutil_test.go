package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/capture"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/enrollment"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/replay"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/mariadb"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/postgres"
)

// idleScenario keeps a session running without ever triggering a capture.
const idleScenario = `
name: idle
frame_interval_ms: 2
frames:
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 10000
`

// replayFactory builds controllers backed by a fresh replay source per call.
func replayFactory(t *testing.T) SessionFactory {
	t.Helper()
	scenario, err := replay.Parse([]byte(idleScenario))
	if err != nil {
		t.Fatalf("failed to parse scenario: %v", err)
	}
	thresholds := liveness.DefaultThresholds()

	return func(sessionID, badge string) (*enrollment.Controller, error) {
		source := replay.NewSource(scenario)
		return enrollment.New(enrollment.Config{
			SessionID:    sessionID,
			Badge:        badge,
			Source:       source,
			Analyzer:     source,
			Gate:         liveness.NewGate(thresholds),
			Machine:      liveness.NewMachine(thresholds),
			Orchestrator: capture.NewOrchestrator(source, capture.MinCooldown),
		})
	}
}

var errRosterDown = errors.New("roster database unreachable")

type fakeGuards struct {
	guards map[string]mariadb.Guard
	err    error
}

func (f *fakeGuards) GetGuard(ctx context.Context, badge string) (*mariadb.Guard, error) {
	if f.err != nil {
		return nil, f.err
	}
	if g, ok := f.guards[badge]; ok {
		return &g, nil
	}
	return nil, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	records   []postgres.SessionRecord
	artifacts map[string][]liveness.CapturedImage
}

func (f *fakeRecorder) Save(ctx context.Context, rec postgres.SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) SaveArtifacts(ctx context.Context, sessionID string, artifacts []liveness.CapturedImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artifacts == nil {
		f.artifacts = make(map[string][]liveness.CapturedImage)
	}
	f.artifacts[sessionID] = artifacts
	return nil
}

func (f *fakeRecorder) lastState() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return ""
	}
	return f.records[len(f.records)-1].State
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// abortAll tears down every session so goroutines do not outlive the test.
func abortAll(t *testing.T, manager *enrollment.Manager) {
	t.Helper()
	for _, ctrl := range manager.List() {
		ctrl.Abort()
		select {
		case <-ctrl.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("session did not shut down")
		}
	}
}
