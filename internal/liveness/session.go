package liveness

import "time"

// Session is the state the machine threads through consecutive frames.
// It is a plain value: Step copies it, mutates the copy and returns it, so the
// single owner of the session decides when a new state becomes current.
type Session struct {
	Step Step `json:"step"`

	// EyesWereOpen tracks the open/closed oscillation inside the blink steps.
	EyesWereOpen bool `json:"eyes_were_open"`

	// NeutralHoldStart marks when the neutral pose was first observed.
	// Zero while the pose is not being held.
	NeutralHoldStart time.Time `json:"neutral_hold_start,omitzero"`

	// PendingCapture is true from the moment a trigger condition is met until
	// the capture result comes back. While set, no frame-driven transition
	// happens and no second capture may be requested.
	PendingCapture bool `json:"pending_capture"`
}

// NewSession returns a session at the protocol entry point.
func NewSession() Session {
	return Session{Step: StepInitial}
}

// Accumulator is the append-only ordered artifact store for one session.
// It is not safe for concurrent use; the session owner is its single writer.
type Accumulator struct {
	required  int
	artifacts []CapturedImage
}

// NewAccumulator creates an accumulator that is complete after required
// artifacts. Passing a value < 1 uses RequiredCaptures.
func NewAccumulator(required int) *Accumulator {
	if required < 1 {
		required = RequiredCaptures
	}
	return &Accumulator{required: required}
}

// Append stores one captured image. Artifacts are never removed automatically;
// discarding is a caller-level operation via Reset.
func (a *Accumulator) Append(img CapturedImage) {
	a.artifacts = append(a.artifacts, img)
}

// Artifacts returns a copy of the ordered artifact list.
func (a *Accumulator) Artifacts() []CapturedImage {
	out := make([]CapturedImage, len(a.artifacts))
	copy(out, a.artifacts)
	return out
}

// Len returns the number of stored artifacts.
func (a *Accumulator) Len() int {
	return len(a.artifacts)
}

// Required returns the completion threshold.
func (a *Accumulator) Required() int {
	return a.required
}

// IsComplete reports whether enough artifacts were captured to hand the
// session to the uploader.
func (a *Accumulator) IsComplete() bool {
	return len(a.artifacts) >= a.required
}

// Reset discards all artifacts. Used on abort and restart.
func (a *Accumulator) Reset() {
	a.artifacts = nil
}
