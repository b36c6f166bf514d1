package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeDevice records the order of device operations.
type fakeDevice struct {
	mu    sync.Mutex
	calls []string

	pictureErr error
	resumeErr  error
	pauseErr   error

	// block, when set, holds TakePicture until released.
	block chan struct{}
}

func (d *fakeDevice) record(op string) {
	d.mu.Lock()
	d.calls = append(d.calls, op)
	d.mu.Unlock()
}

func (d *fakeDevice) StartStream() error {
	d.record("start")
	return d.resumeErr
}

func (d *fakeDevice) StopStream() error {
	d.record("stop")
	return d.pauseErr
}

func (d *fakeDevice) TakePicture(ctx context.Context) (string, error) {
	d.record("picture")
	if d.block != nil {
		<-d.block
	}
	if d.pictureErr != nil {
		return "", d.pictureErr
	}
	return "img-handle", nil
}

func (d *fakeDevice) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// newTestOrchestrator returns an orchestrator with an instant, recorded sleep.
func newTestOrchestrator(device *fakeDevice) (*Orchestrator, *[]time.Duration) {
	o := NewOrchestrator(device, DefaultCooldown)
	var slept []time.Duration
	o.sleep = func(d time.Duration) { slept = append(slept, d) }
	return o, &slept
}

func TestRequestOrderOfOperations(t *testing.T) {
	device := &fakeDevice{}
	o, slept := newTestOrchestrator(device)

	img, err := o.Request(context.Background(), "turn_left")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	want := []string{"stop", "picture", "start"}
	got := device.callLog()
	if len(got) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, got)
		}
	}

	if img.StepTag != "turn_left" {
		t.Errorf("expected step tag 'turn_left', got '%s'", img.StepTag)
	}
	if img.Handle != "img-handle" {
		t.Errorf("expected device handle, got '%s'", img.Handle)
	}
	if len(*slept) != 1 || (*slept)[0] != DefaultCooldown {
		t.Errorf("expected one cooldown sleep of %v, got %v", DefaultCooldown, *slept)
	}
}

func TestRequestSequenceIndexesIncrease(t *testing.T) {
	device := &fakeDevice{}
	o, _ := newTestOrchestrator(device)

	for i := 0; i < 3; i++ {
		img, err := o.Request(context.Background(), "smile")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if img.SequenceIndex != i {
			t.Errorf("request %d: expected sequence index %d, got %d", i, i, img.SequenceIndex)
		}
	}
}

func TestRequestRejectsConcurrentCapture(t *testing.T) {
	device := &fakeDevice{block: make(chan struct{})}
	o, _ := newTestOrchestrator(device)

	done := make(chan error, 1)
	go func() {
		_, err := o.Request(context.Background(), "tilt_up")
		done <- err
	}()

	// Wait until the first request is inside TakePicture.
	for o.inFlight.Load() == false {
		time.Sleep(time.Millisecond)
	}

	if _, err := o.Request(context.Background(), "tilt_up"); !errors.Is(err, ErrRequestInFlight) {
		t.Errorf("expected ErrRequestInFlight, got %v", err)
	}

	close(device.block)
	if err := <-done; err != nil {
		t.Fatalf("first request failed: %v", err)
	}
}

func TestRequestFailureSkipsCooldownAndResumes(t *testing.T) {
	device := &fakeDevice{pictureErr: errors.New("shutter jammed")}
	o, slept := newTestOrchestrator(device)

	_, err := o.Request(context.Background(), "blink2")

	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if len(*slept) != 0 {
		t.Errorf("failed captures must not wait out the cooldown, slept %v", *slept)
	}

	got := device.callLog()
	if got[len(got)-1] != "start" {
		t.Errorf("stream must be resumed after a failed capture, calls: %v", got)
	}

	// The slot is free again: a retry goes through.
	device.pictureErr = nil
	if _, err := o.Request(context.Background(), "blink2"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestRequestResumeFailureKeepsSequenceIndex(t *testing.T) {
	device := &fakeDevice{resumeErr: errors.New("stream did not come back")}
	o, _ := newTestOrchestrator(device)

	if _, err := o.Request(context.Background(), "blink2"); err == nil {
		t.Fatal("expected a resume failure")
	} else if !StreamDead(err) {
		t.Errorf("expected StreamDead to report the resume failure, got %v", err)
	}

	// The failed attempt must not burn an index.
	device.resumeErr = nil
	img, err := o.Request(context.Background(), "blink2")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if img.SequenceIndex != 0 {
		t.Errorf("expected sequence index 0 after a failed resume, got %d", img.SequenceIndex)
	}
}

func TestRequestPauseFailure(t *testing.T) {
	device := &fakeDevice{pauseErr: errors.New("stream wedged")}
	o, _ := newTestOrchestrator(device)

	if _, err := o.Request(context.Background(), "smile"); err == nil {
		t.Fatal("expected an error when the stream cannot be paused")
	}

	for _, op := range device.callLog() {
		if op == "picture" {
			t.Error("TakePicture must not run if the stream was not paused")
		}
	}
}

func TestCooldownClamping(t *testing.T) {
	device := &fakeDevice{}

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero selects default", 0, DefaultCooldown},
		{"below minimum clamps up", 50 * time.Millisecond, MinCooldown},
		{"above maximum clamps down", 2 * time.Second, MaxCooldown},
		{"in range kept", 400 * time.Millisecond, 400 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewOrchestrator(device, tt.in).Cooldown(); got != tt.want {
				t.Errorf("expected cooldown %v, got %v", tt.want, got)
			}
		})
	}
}
