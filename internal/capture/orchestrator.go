// Package capture serializes the hardware single-shot capture against the
// live frame stream. The stream and the still capture are mutually exclusive
// on the device, so every capture pauses the stream, takes the picture, waits
// out a cooldown and only then resumes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// Cooldown bounds. The cooldown is a deliberate debounce: the subject is still
// holding the previous pose when the capture returns, and resuming the stream
// immediately would let that pose satisfy the next step before the new
// instruction is even visible.
const (
	MinCooldown     = 300 * time.Millisecond
	MaxCooldown     = 800 * time.Millisecond
	DefaultCooldown = 500 * time.Millisecond
)

// ErrRequestInFlight is returned when a capture is requested while another
// one has not resolved yet. The request queue has depth one by design.
var ErrRequestInFlight = errors.New("capture request already in flight")

// DeviceError wraps a camera failure during a capture attempt. The caller
// clears its pending state and leaves the step unchanged so the same trigger
// can fire again; there is no retry here.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device failure during %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// StreamDead reports whether err means the frame stream stayed stopped after
// a capture attempt. No more frames will arrive, so the pose-retry path is
// pointless and the session must end.
func StreamDead(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Op == "stream resume"
}

// Orchestrator owns the single-shot capture path.
type Orchestrator struct {
	device   camera.Device
	cooldown time.Duration

	inFlight atomic.Bool
	seq      atomic.Int64

	// Injected for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewOrchestrator creates an orchestrator for the given device. A zero
// cooldown selects the default; out-of-range values are clamped.
func NewOrchestrator(device camera.Device, cooldown time.Duration) *Orchestrator {
	switch {
	case cooldown == 0:
		cooldown = DefaultCooldown
	case cooldown < MinCooldown:
		cooldown = MinCooldown
	case cooldown > MaxCooldown:
		cooldown = MaxCooldown
	}
	return &Orchestrator{
		device:   device,
		cooldown: cooldown,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Request performs one single-shot capture tagged with stepTag.
//
// Order of operations: pause the frame stream, take the picture, stamp the
// result, wait out the cooldown, resume the stream. On a successful capture
// the cooldown is unconditional and not cancellable. On failure the stream is
// resumed immediately and the device error is propagated without retry.
func (o *Orchestrator) Request(ctx context.Context, stepTag string) (liveness.CapturedImage, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return liveness.CapturedImage{}, ErrRequestInFlight
	}
	defer o.inFlight.Store(false)

	if err := o.device.StopStream(); err != nil {
		return liveness.CapturedImage{}, &DeviceError{Op: "stream pause", Err: err}
	}

	handle, err := o.device.TakePicture(ctx)
	if err != nil {
		// No cooldown on failure: resume right away so the still-held pose
		// can trigger the retry.
		if resumeErr := o.device.StartStream(); resumeErr != nil {
			return liveness.CapturedImage{}, &DeviceError{Op: "stream resume", Err: resumeErr}
		}
		return liveness.CapturedImage{}, &DeviceError{Op: "still capture", Err: err}
	}

	capturedAt := o.now()

	o.sleep(o.cooldown)

	if err := o.device.StartStream(); err != nil {
		// The picture was taken but the pipeline is dead without the stream;
		// surface it as a device failure so the session owner can bail out.
		// The sequence index is only consumed after a successful resume.
		return liveness.CapturedImage{}, &DeviceError{Op: "stream resume", Err: err}
	}

	return liveness.CapturedImage{
		SequenceIndex: int(o.seq.Add(1) - 1),
		StepTag:       stepTag,
		CapturedAt:    capturedAt,
		Handle:        handle,
	}, nil
}

// Cooldown returns the effective cooldown window.
func (o *Orchestrator) Cooldown() time.Duration {
	return o.cooldown
}
