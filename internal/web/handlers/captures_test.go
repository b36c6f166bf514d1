package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/enrollment"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/store/mariadb"
)

func activeGuards() *fakeGuards {
	return &fakeGuards{guards: map[string]mariadb.Guard{
		"G-1042": {Badge: "G-1042", Name: "A. Wira", Post: "gate-1", Active: true},
		"G-9999": {Badge: "G-9999", Name: "B. Retired", Active: false},
	}}
}

func TestStartSession(t *testing.T) {
	manager := enrollment.NewManager()
	recorder := &fakeRecorder{}
	h := NewCapturesHandler(manager, replayFactory(t), activeGuards(), recorder)
	defer abortAll(t, manager)

	rec := httptest.NewRecorder()
	h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var snap enrollment.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.ID == "" {
		t.Error("expected a session ID")
	}
	if snap.Badge != "G-1042" {
		t.Errorf("expected badge G-1042, got %s", snap.Badge)
	}
	if snap.State != enrollment.StateRunning {
		t.Errorf("expected running state, got %s", snap.State)
	}
	if manager.Get(snap.ID) == nil {
		t.Error("expected the session to be registered")
	}
	if recorder.lastState() != string(enrollment.StateRunning) {
		t.Errorf("expected a running record to be persisted, got %q", recorder.lastState())
	}
}

func TestStartSessionValidation(t *testing.T) {
	manager := enrollment.NewManager()
	h := NewCapturesHandler(manager, replayFactory(t), activeGuards(), nil)
	defer abortAll(t, manager)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"garbage body", `not json`, http.StatusBadRequest},
		{"missing badge", `{}`, http.StatusBadRequest},
		{"unknown badge", `{"badge":"G-0000"}`, http.StatusNotFound},
		{"inactive badge", `{"badge":"G-9999"}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", tc.body))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStartSessionConflict(t *testing.T) {
	manager := enrollment.NewManager()
	h := NewCapturesHandler(manager, replayFactory(t), activeGuards(), nil)
	defer abortAll(t, manager)

	rec := httptest.NewRecorder()
	h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while a session is running, got %d", rec.Code)
	}
}

func TestStartSessionConcurrentRequests(t *testing.T) {
	manager := enrollment.NewManager()
	inner := replayFactory(t)

	// Hold both requests inside the factory so they race the registration.
	var entered sync.WaitGroup
	entered.Add(2)
	proceed := make(chan struct{})
	factory := func(sessionID, badge string) (*enrollment.Controller, error) {
		entered.Done()
		<-proceed
		return inner(sessionID, badge)
	}
	h := NewCapturesHandler(manager, factory, activeGuards(), nil)
	defer abortAll(t, manager)

	codes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			rec := httptest.NewRecorder()
			h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))
			codes <- rec.Code
		}()
	}
	entered.Wait()
	close(proceed)

	accepted, conflicts := 0, 0
	for i := 0; i < 2; i++ {
		switch code := <-codes; code {
		case http.StatusAccepted:
			accepted++
		case http.StatusConflict:
			conflicts++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if accepted != 1 || conflicts != 1 {
		t.Errorf("expected one 202 and one 409, got %d accepted and %d conflicts", accepted, conflicts)
	}

	running := 0
	for _, ctrl := range manager.List() {
		if ctrl.Snapshot().State == enrollment.StateRunning {
			running++
		}
	}
	if running != 1 {
		t.Errorf("expected exactly one running session, got %d", running)
	}
}

func TestStartSessionRosterDown(t *testing.T) {
	manager := enrollment.NewManager()
	h := NewCapturesHandler(manager, replayFactory(t), &fakeGuards{err: errRosterDown}, nil)

	rec := httptest.NewRecorder()
	h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when the roster is unreachable, got %d", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	manager := enrollment.NewManager()
	h := NewCapturesHandler(manager, replayFactory(t), nil, nil)
	defer abortAll(t, manager)

	rec := httptest.NewRecorder()
	h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))
	var started enrollment.Snapshot
	json.Unmarshal(rec.Body.Bytes(), &started)

	rec = httptest.NewRecorder()
	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/captures/"+started.ID, nil),
		map[string]string{"id": started.ID})
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap enrollment.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.ID != started.ID {
		t.Errorf("expected session %s, got %s", started.ID, snap.ID)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	h := NewCapturesHandler(enrollment.NewManager(), replayFactory(t), nil, nil)

	rec := httptest.NewRecorder()
	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/captures/nope", nil),
		map[string]string{"id": "nope"})
	h.Get(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAbortSession(t *testing.T) {
	manager := enrollment.NewManager()
	recorder := &fakeRecorder{}
	h := NewCapturesHandler(manager, replayFactory(t), nil, recorder)

	rec := httptest.NewRecorder()
	h.Start(rec, jsonRequest(http.MethodPost, "/api/v1/captures", `{"badge":"G-1042"}`))
	var started enrollment.Snapshot
	json.Unmarshal(rec.Body.Bytes(), &started)

	rec = httptest.NewRecorder()
	req := requestWithChiParams(
		httptest.NewRequest(http.MethodDelete, "/api/v1/captures/"+started.ID, nil),
		map[string]string{"id": started.ID})
	h.Abort(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	ctrl := manager.Get(started.ID)
	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down after abort")
	}
	if snap := ctrl.Snapshot(); snap.State != enrollment.StateAborted {
		t.Errorf("expected aborted state, got %s", snap.State)
	}

	// The terminal record lands asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for recorder.lastState() != string(enrollment.StateAborted) {
		if time.Now().After(deadline) {
			t.Fatalf("terminal record never persisted, last state %q", recorder.lastState())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
