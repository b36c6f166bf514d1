// Package enrollment runs a liveness capture session end to end: it owns the
// session state, funnels frames, capture results and aborts through a single
// event loop, and hands the completed artifact set to the uploader.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/analyzer"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/capture"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// State is the lifecycle state of a capture session.
type State string

// Session lifecycle states.
const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateFailed    State = "failed"
)

// Uploader receives the ordered artifact set of a completed session.
type Uploader interface {
	UploadSession(ctx context.Context, sessionID, badge string, artifacts []liveness.CapturedImage) error
}

// Config wires a Controller to its collaborators.
type Config struct {
	SessionID    string
	Badge        string
	Source       camera.FrameSource
	Analyzer     analyzer.Analyzer
	Gate         *liveness.Gate
	Machine      *liveness.Machine
	Orchestrator *capture.Orchestrator
	Uploader     Uploader // optional; nil skips the upload hand-off
	Required     int      // artifacts needed for completion; 0 uses the default
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID             string                   `json:"id"`
	Badge          string                   `json:"badge"`
	State          State                    `json:"state"`
	Step           string                   `json:"step"`
	PendingCapture bool                     `json:"pending_capture"`
	Captured       int                      `json:"captured"`
	Required       int                      `json:"required"`
	DroppedFrames  uint64                   `json:"dropped_frames"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     *time.Time               `json:"finished_at,omitempty"`
	Error          string                   `json:"error,omitempty"`
	Artifacts      []liveness.CapturedImage `json:"artifacts,omitempty"`
}

type captureOutcome struct {
	img liveness.CapturedImage
	err error
}

// loopEvent is the single funnel into the session loop. Exactly one field is
// set per event.
type loopEvent struct {
	frame   *camera.Frame
	capture *captureOutcome
	abort   bool
}

// Controller owns one liveness session. All session state is mutated by the
// run loop goroutine only; the public methods communicate with it through the
// event channel and read state through the snapshot mutex.
type Controller struct {
	cfg         Config
	events      chan loopEvent
	broadcaster *Broadcaster

	busy    atomic.Bool // analyzer-busy guard: frames arriving while set are dropped
	dropped atomic.Uint64

	ctx  context.Context
	done chan struct{}

	mu   sync.RWMutex
	snap Snapshot

	// Loop-owned; never touched outside run().
	session liveness.Session
	acc     *liveness.Accumulator
}

// New creates a controller for one capture session.
func New(cfg Config) (*Controller, error) {
	if cfg.Source == nil || cfg.Analyzer == nil || cfg.Gate == nil || cfg.Machine == nil || cfg.Orchestrator == nil {
		return nil, errors.New("source, analyzer, gate, machine and orchestrator are required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	required := cfg.Required
	if required < 1 {
		required = liveness.RequiredCaptures
	}

	return &Controller{
		cfg:         cfg,
		events:      make(chan loopEvent, 4),
		broadcaster: &Broadcaster{},
		done:        make(chan struct{}),
		session:     liveness.NewSession(),
		acc:         liveness.NewAccumulator(required),
		snap: Snapshot{
			ID:       cfg.SessionID,
			Badge:    cfg.Badge,
			State:    StateRunning,
			Step:     liveness.StepInitial.String(),
			Required: required,
		},
	}, nil
}

// Start opens the frame stream and launches the session loop. A stream that
// cannot start is fatal: the session never ran.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx = ctx
	c.mu.Lock()
	c.snap.StartedAt = time.Now()
	c.mu.Unlock()

	if err := c.cfg.Source.Start(ctx, c.onFrame); err != nil {
		return fmt.Errorf("starting frame stream: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Abort()
		case <-c.done:
		}
	}()
	go c.run()
	return nil
}

// Abort requests teardown: the frame stream stops and all partial artifacts
// are discarded without uploading. An in-flight capture is allowed to finish
// or fail before the session ends.
func (c *Controller) Abort() {
	select {
	case c.events <- loopEvent{abort: true}:
	case <-c.done:
	}
}

// Done is closed when the session loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Events returns the session's event broadcaster.
func (c *Controller) Events() *Broadcaster {
	return c.broadcaster
}

// Snapshot returns a copy of the session's observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.snap
	snap.DroppedFrames = c.dropped.Load()
	snap.Artifacts = append([]liveness.CapturedImage(nil), c.snap.Artifacts...)
	return snap
}

// onFrame is the frame stream callback. A frame arriving while the previous
// one is still being processed is dropped, never queued: stale signals must
// not drive transitions after the real pose has already changed.
func (c *Controller) onFrame(frame camera.Frame) {
	if !c.busy.CompareAndSwap(false, true) {
		c.dropped.Add(1)
		return
	}
	select {
	case c.events <- loopEvent{frame: &frame}:
	default:
		c.busy.Store(false)
		c.dropped.Add(1)
	}
}

func (c *Controller) run() {
	defer close(c.done)

	aborting := false
	for ev := range c.events {
		switch {
		case ev.frame != nil:
			if aborting {
				c.busy.Store(false)
				continue
			}
			c.handleFrame(*ev.frame)

		case ev.capture != nil:
			finished := c.handleCapture(*ev.capture, aborting)
			if aborting {
				c.finishAborted()
				return
			}
			if finished {
				return
			}

		case ev.abort:
			if aborting {
				continue
			}
			aborting = true
			_ = c.cfg.Source.Stop()
			if !c.session.PendingCapture {
				c.finishAborted()
				return
			}
			// Wait for the in-flight capture to resolve before teardown.
		}
	}
}

func (c *Controller) handleFrame(frame camera.Frame) {
	defer c.busy.Store(false)

	faces, err := c.cfg.Analyzer.Analyze(c.ctx, frame)
	if err != nil {
		c.sendStatus(liveness.StatusEffect{
			Message:  "face analysis failed: " + err.Error(),
			Severity: liveness.SeverityWarn,
			Step:     c.session.Step,
		})
		return
	}

	var sig liveness.FaceSignals
	if len(faces) > 0 {
		sig = faces[0]
	}
	sig.FaceCount = len(faces)

	quality := c.cfg.Gate.Classify(frame.Luma)

	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	session, fx := c.cfg.Machine.Step(c.session, sig, quality, now)
	c.session = session
	c.publish(fx)

	if fx.Capture != nil {
		c.startCapture(fx.Capture.StepTag)
	}
}

// startCapture runs the single-shot capture off the loop goroutine and feeds
// the outcome back through the event funnel. The capture context is detached
// from the session context: an abort never cancels a capture mid-flight.
func (c *Controller) startCapture(stepTag string) {
	ctx := context.WithoutCancel(c.ctx)
	go func() {
		img, err := c.cfg.Orchestrator.Request(ctx, stepTag)
		select {
		case c.events <- loopEvent{capture: &captureOutcome{img: img, err: err}}:
		case <-c.done:
		}
	}()
}

// handleCapture resolves a capture outcome. Returns true when the session
// reached its terminal state and the loop should exit.
func (c *Controller) handleCapture(out captureOutcome, aborting bool) bool {
	session, fx := c.cfg.Machine.ResolveCapture(c.session, out.err)
	c.session = session

	if aborting {
		// Result arrived during teardown; the artifact is discarded with the
		// rest of the session.
		return false
	}

	if out.err != nil && capture.StreamDead(out.err) {
		// Without the stream there are no more frames to retry on.
		c.publish(fx)
		c.finishFailed(out.err)
		return true
	}

	if out.err == nil {
		c.acc.Append(out.img)
		c.mu.Lock()
		c.snap.Artifacts = c.acc.Artifacts()
		c.snap.Captured = c.acc.Len()
		c.mu.Unlock()
		c.broadcaster.Send(Event{
			Type:     EventCaptured,
			Message:  "captured " + out.img.StepTag,
			Severity: liveness.SeverityInfo,
			Step:     c.session.Step.String(),
			Captured: c.acc.Len(),
			Required: c.acc.Required(),
		})
	}
	c.publish(fx)

	if c.session.Step == liveness.StepCompleted && c.acc.IsComplete() {
		c.finishCompleted()
		return true
	}
	return false
}

func (c *Controller) finishCompleted() {
	_ = c.cfg.Source.Stop()

	artifacts := c.acc.Artifacts()
	if c.cfg.Uploader != nil {
		if err := c.cfg.Uploader.UploadSession(context.WithoutCancel(c.ctx), c.cfg.SessionID, c.cfg.Badge, artifacts); err != nil {
			c.finishFailed(fmt.Errorf("upload failed: %w", err))
			return
		}
	}

	c.finish(StateCompleted, nil)
	c.broadcaster.Send(Event{
		Type:     EventCompleted,
		Message:  "all challenges completed",
		Severity: liveness.SeverityInfo,
		Step:     c.session.Step.String(),
		Captured: c.acc.Len(),
		Required: c.acc.Required(),
	})
}

func (c *Controller) finishFailed(err error) {
	_ = c.cfg.Source.Stop()
	c.finish(StateFailed, err)
	c.broadcaster.Send(Event{
		Type:     EventFailed,
		Message:  err.Error(),
		Severity: liveness.SeverityError,
		Step:     c.session.Step.String(),
		Captured: c.acc.Len(),
		Required: c.acc.Required(),
	})
}

func (c *Controller) finishAborted() {
	c.acc.Reset()
	c.mu.Lock()
	c.snap.Artifacts = nil
	c.snap.Captured = 0
	c.mu.Unlock()

	c.finish(StateAborted, nil)
	c.broadcaster.Send(Event{
		Type:     EventAborted,
		Message:  "session aborted, artifacts discarded",
		Severity: liveness.SeverityWarn,
		Step:     c.session.Step.String(),
	})
}

func (c *Controller) finish(state State, err error) {
	now := time.Now()
	c.mu.Lock()
	c.snap.State = state
	c.snap.FinishedAt = &now
	if err != nil {
		c.snap.Error = err.Error()
	}
	c.mu.Unlock()
}

// publish mirrors the machine's effects into the snapshot and the event
// stream. Every processed frame produces at least one status.
func (c *Controller) publish(fx liveness.Effects) {
	c.mu.Lock()
	c.snap.Step = c.session.Step.String()
	c.snap.PendingCapture = c.session.PendingCapture
	c.mu.Unlock()

	for _, status := range fx.Statuses {
		c.sendStatus(status)
	}
}

func (c *Controller) sendStatus(status liveness.StatusEffect) {
	c.broadcaster.Send(Event{
		Type:     EventStatus,
		Message:  status.Message,
		Severity: status.Severity,
		Step:     status.Step.String(),
		Captured: c.acc.Len(),
		Required: c.acc.Required(),
	})
}
