package enrollment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/capture"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/replay"
)

// happyPathYAML drives a complete session. Poses are repeated generously so
// the run survives the frames consumed while a capture request is in flight.
const happyPathYAML = `
name: happy-path
frame_interval_ms: 5
frames:
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 4
  - signals: {left_eye_open: 0.1, right_eye_open: 0.1}
    repeat: 4
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 4
  - signals: {left_eye_open: 0.1, right_eye_open: 0.1}
    repeat: 6
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, yaw: -40}
    repeat: 10
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, yaw: 40}
    repeat: 10
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, pitch: 25}
    repeat: 10
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, pitch: -25}
    repeat: 10
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, smile_prob: 0.9}
    repeat: 10
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, smile_prob: 0.05}
    repeat: 80
    delay_ms: 10
`

// testThresholds shortens the neutral hold so runs stay fast.
func testThresholds() liveness.Thresholds {
	t := liveness.DefaultThresholds()
	t.NeutralHold = 150 * time.Millisecond
	return t
}

type recordingUploader struct {
	mu        sync.Mutex
	sessionID string
	badge     string
	artifacts []liveness.CapturedImage
	calls     int
}

func (u *recordingUploader) UploadSession(ctx context.Context, sessionID, badge string, artifacts []liveness.CapturedImage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessionID = sessionID
	u.badge = badge
	u.artifacts = artifacts
	u.calls++
	return nil
}

func newTestController(t *testing.T, scenarioYAML string, uploader Uploader) (*Controller, *replay.Source) {
	t.Helper()

	scenario, err := replay.Parse([]byte(scenarioYAML))
	if err != nil {
		t.Fatalf("failed to parse scenario: %v", err)
	}
	source := replay.NewSource(scenario)
	thresholds := testThresholds()

	ctrl, err := New(Config{
		SessionID:    "test-session",
		Badge:        "G-1042",
		Source:       source,
		Analyzer:     source,
		Gate:         liveness.NewGate(thresholds),
		Machine:      liveness.NewMachine(thresholds),
		Orchestrator: capture.NewOrchestrator(source, capture.MinCooldown),
		Uploader:     uploader,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return ctrl, source
}

func waitDone(t *testing.T, ctrl *Controller, timeout time.Duration) {
	t.Helper()
	select {
	case <-ctrl.Done():
	case <-time.After(timeout):
		t.Fatalf("session did not finish in %v; snapshot: %+v", timeout, ctrl.Snapshot())
	}
}

func TestControllerHappyPath(t *testing.T) {
	uploader := &recordingUploader{}
	ctrl, _ := newTestController(t, happyPathYAML, uploader)

	events := ctrl.Events().AddListener()
	defer ctrl.Events().RemoveListener(events)

	// Drain the stream while the run is live; the broadcaster drops events
	// once a listener's buffer fills up.
	var (
		logMu    sync.Mutex
		eventLog []Event
	)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			logMu.Lock()
			eventLog = append(eventLog, ev)
			logMu.Unlock()
			if ev.Type == EventCompleted || ev.Type == EventAborted || ev.Type == EventFailed {
				return
			}
		}
	}()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, ctrl, 30*time.Second)

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event arrived on the stream")
	}

	snap := ctrl.Snapshot()
	if snap.State != StateCompleted {
		t.Fatalf("expected state %s, got %s (error: %s)", StateCompleted, snap.State, snap.Error)
	}
	if snap.Step != liveness.StepCompleted.String() {
		t.Errorf("expected step %s, got %s", liveness.StepCompleted, snap.Step)
	}
	if snap.Captured != liveness.RequiredCaptures {
		t.Fatalf("expected %d artifacts, got %d", liveness.RequiredCaptures, snap.Captured)
	}

	wantTags := []string{"blink2", "turn_left", "turn_right", "tilt_up", "tilt_down", "smile", "neutral"}
	for i, img := range snap.Artifacts {
		if img.StepTag != wantTags[i] {
			t.Errorf("artifact %d: expected tag %q, got %q", i, wantTags[i], img.StepTag)
		}
		if img.SequenceIndex != i {
			t.Errorf("artifact %d: expected sequence index %d, got %d", i, i, img.SequenceIndex)
		}
	}

	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if uploader.calls != 1 {
		t.Fatalf("expected exactly one upload, got %d", uploader.calls)
	}
	if uploader.sessionID != "test-session" || uploader.badge != "G-1042" {
		t.Errorf("upload carried wrong identifiers: %s / %s", uploader.sessionID, uploader.badge)
	}
	if len(uploader.artifacts) != liveness.RequiredCaptures {
		t.Errorf("expected %d uploaded artifacts, got %d", liveness.RequiredCaptures, len(uploader.artifacts))
	}

	logMu.Lock()
	defer logMu.Unlock()
	var captured, completed int
	for _, ev := range eventLog {
		switch ev.Type {
		case EventCaptured:
			captured++
		case EventCompleted:
			completed++
		}
	}
	if captured != liveness.RequiredCaptures {
		t.Errorf("expected %d captured events, got %d", liveness.RequiredCaptures, captured)
	}
	if completed != 1 {
		t.Errorf("expected exactly one completed event, got %d", completed)
	}
}

func TestControllerAbortDiscardsArtifacts(t *testing.T) {
	// Endless neutral frames: the run can never complete on its own.
	const yaml = `
name: endless
frame_interval_ms: 2
frames:
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 5000
`
	uploader := &recordingUploader{}
	ctrl, _ := newTestController(t, yaml, uploader)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	ctrl.Abort()
	waitDone(t, ctrl, 5*time.Second)

	snap := ctrl.Snapshot()
	if snap.State != StateAborted {
		t.Fatalf("expected state %s, got %s", StateAborted, snap.State)
	}
	if snap.Captured != 0 || len(snap.Artifacts) != 0 {
		t.Errorf("aborted session must discard artifacts, kept %d", snap.Captured)
	}

	uploader.mu.Lock()
	calls := uploader.calls
	uploader.mu.Unlock()
	if calls != 0 {
		t.Error("aborted session must never upload")
	}
}

func TestControllerContextCancelAborts(t *testing.T) {
	const yaml = `
name: endless
frame_interval_ms: 2
frames:
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 5000
`
	ctrl, _ := newTestController(t, yaml, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	cancel()
	waitDone(t, ctrl, 5*time.Second)

	if snap := ctrl.Snapshot(); snap.State != StateAborted {
		t.Errorf("expected state %s after context cancel, got %s", StateAborted, snap.State)
	}
}

// A failed still capture clears the pending flag and the still-held pose
// re-triggers the capture on a later frame.
func TestControllerCaptureFailureRetries(t *testing.T) {
	const yaml = `
name: retry
frame_interval_ms: 5
frames:
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 4
  - signals: {left_eye_open: 0.1, right_eye_open: 0.1}
    repeat: 4
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 4
  - signals: {left_eye_open: 0.1, right_eye_open: 0.1}
    repeat: 6
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9, yaw: -40}
    repeat: 40
fail_captures: [1]
`
	ctrl, source := newTestController(t, yaml, nil)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-source.Finished():
	case <-time.After(30 * time.Second):
		t.Fatal("replay did not finish")
	}
	// Give the loop a moment to drain the last capture result.
	time.Sleep(500 * time.Millisecond)

	snap := ctrl.Snapshot()
	if snap.Captured != 2 {
		t.Fatalf("expected 2 artifacts (blink2 + retried turn_left), got %d: %+v", snap.Captured, snap.Artifacts)
	}
	if snap.Artifacts[1].StepTag != "turn_left" {
		t.Errorf("expected second artifact tagged turn_left, got %s", snap.Artifacts[1].StepTag)
	}
	if snap.Step != liveness.StepTurnRight.String() {
		t.Errorf("expected step %s after the retried capture, got %s", liveness.StepTurnRight, snap.Step)
	}
	if snap.State != StateRunning {
		t.Errorf("session should still be running, got %s", snap.State)
	}

	ctrl.Abort()
	waitDone(t, ctrl, 5*time.Second)
}

// blinkCaptureYAML runs up to the first capture trigger and then holds the
// closed-eyes pose.
const blinkCaptureYAML = `
name: blink-capture
frame_interval_ms: 2
frames:
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 6
  - signals: {left_eye_open: 0.1, right_eye_open: 0.1}
    repeat: 6
  - signals: {left_eye_open: 0.9, right_eye_open: 0.9}
    repeat: 6
  - signals: {left_eye_open: 0.1, right_eye_open: 0.1}
    repeat: 5000
`

// gatedDevice holds TakePicture until released so a capture can be kept in
// flight deliberately.
type gatedDevice struct {
	camera.Device
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *gatedDevice) TakePicture(ctx context.Context) (string, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return d.Device.TakePicture(ctx)
}

func TestControllerAbortWaitsForInFlightCapture(t *testing.T) {
	scenario, err := replay.Parse([]byte(blinkCaptureYAML))
	if err != nil {
		t.Fatalf("failed to parse scenario: %v", err)
	}
	source := replay.NewSource(scenario)
	device := &gatedDevice{
		Device:  source,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	thresholds := testThresholds()
	uploader := &recordingUploader{}

	ctrl, err := New(Config{
		SessionID:    "abort-mid-capture",
		Badge:        "G-1042",
		Source:       source,
		Analyzer:     source,
		Gate:         liveness.NewGate(thresholds),
		Machine:      liveness.NewMachine(thresholds),
		Orchestrator: capture.NewOrchestrator(device, capture.MinCooldown),
		Uploader:     uploader,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-device.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("the blink capture never started")
	}

	ctrl.Abort()

	// Teardown must wait for the in-flight capture to resolve.
	select {
	case <-ctrl.Done():
		t.Fatal("session ended while a capture was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(device.release)
	waitDone(t, ctrl, 5*time.Second)

	snap := ctrl.Snapshot()
	if snap.State != StateAborted {
		t.Fatalf("expected state %s, got %s", StateAborted, snap.State)
	}
	if snap.Captured != 0 || len(snap.Artifacts) != 0 {
		t.Errorf("aborted session must discard the late artifact, kept %d", snap.Captured)
	}

	uploader.mu.Lock()
	calls := uploader.calls
	uploader.mu.Unlock()
	if calls != 0 {
		t.Error("aborted session must never upload")
	}
}

// resumeFailDevice leaves the stream dead after every capture.
type resumeFailDevice struct {
	camera.Device
}

func (d *resumeFailDevice) StartStream() error {
	return errors.New("stream did not come back")
}

func TestControllerDeadStreamFailsSession(t *testing.T) {
	scenario, err := replay.Parse([]byte(blinkCaptureYAML))
	if err != nil {
		t.Fatalf("failed to parse scenario: %v", err)
	}
	source := replay.NewSource(scenario)
	thresholds := testThresholds()

	ctrl, err := New(Config{
		SessionID:    "dead-stream",
		Badge:        "G-1042",
		Source:       source,
		Analyzer:     source,
		Gate:         liveness.NewGate(thresholds),
		Machine:      liveness.NewMachine(thresholds),
		Orchestrator: capture.NewOrchestrator(&resumeFailDevice{Device: source}, capture.MinCooldown),
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, ctrl, 10*time.Second)

	snap := ctrl.Snapshot()
	if snap.State != StateFailed {
		t.Fatalf("expected state %s when the stream stays down, got %s", StateFailed, snap.State)
	}
	if snap.Error == "" {
		t.Error("expected the device failure to be recorded on the snapshot")
	}
	if snap.Captured != 0 {
		t.Errorf("a capture without a live stream must not be kept, got %d", snap.Captured)
	}
}
