// Package replay drives the capture pipeline from a scripted scenario instead
// of real hardware. One Source stands in for the frame stream, the face
// analyzer and the capture device at once, which is exactly the coupling the
// real kiosk has: a single camera behind all three interfaces.
package replay

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// Frame is one scripted frame.
type Frame struct {
	// Signals the analyzer reports for this frame.
	Signals liveness.FaceSignals `yaml:"signals"`
	// Faces is the number of faces in the frame. Defaults to 1; 0 scripts a
	// lost face, 2+ scripts bystanders walking into the shot.
	Faces *int `yaml:"faces,omitempty"`
	// Brightness of the synthesized luminance plane, 0..1. Defaults to 0.5.
	Brightness *float64 `yaml:"brightness,omitempty"`
	// DelayMs waits this long before delivering the frame. Defaults to the
	// scenario frame interval.
	DelayMs int `yaml:"delay_ms,omitempty"`
	// Repeat delivers the frame this many times. Defaults to 1.
	Repeat int `yaml:"repeat,omitempty"`
}

// Scenario is a full scripted run.
type Scenario struct {
	Name            string  `yaml:"name"`
	FrameIntervalMs int     `yaml:"frame_interval_ms"`
	Frames          []Frame `yaml:"frames"`
	// FailCaptures lists still-capture call indexes (0-based) that fail with
	// a simulated device error.
	FailCaptures []int `yaml:"fail_captures,omitempty"`
}

// Parse reads a scenario from YAML.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse scenario: %w", err)
	}
	if len(s.Frames) == 0 {
		return nil, fmt.Errorf("scenario %q has no frames", s.Name)
	}
	if s.FrameIntervalMs <= 0 {
		s.FrameIntervalMs = 50
	}
	return &s, nil
}

// FrameCount returns the number of frames the scenario delivers, repeats
// included.
func (s *Scenario) FrameCount() int {
	n := 0
	for _, f := range s.Frames {
		r := f.Repeat
		if r < 1 {
			r = 1
		}
		n += r
	}
	return n
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-provided scenario path
	if err != nil {
		return nil, fmt.Errorf("could not read scenario file: %w", err)
	}
	return Parse(data)
}

// Synthesized luminance plane dimensions.
const (
	planeWidth  = 64
	planeHeight = 48
)

// Source replays a scenario. It implements camera.FrameSource,
// camera.Device and the analyzer contract.
type Source struct {
	scenario *Scenario

	mu        sync.Mutex
	cond      *sync.Cond
	streaming bool
	stopped   bool

	signalsMu sync.Mutex
	signals   map[uint64][]liveness.FaceSignals

	captureCalls atomic.Int64
	failSet      map[int]bool

	finished chan struct{}
}

// NewSource creates a replay source for the scenario.
func NewSource(scenario *Scenario) *Source {
	s := &Source{
		scenario: scenario,
		signals:  make(map[uint64][]liveness.FaceSignals),
		failSet:  make(map[int]bool, len(scenario.FailCaptures)),
		finished: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, idx := range scenario.FailCaptures {
		s.failSet[idx] = true
	}
	return s
}

// Finished is closed once every scripted frame has been delivered.
func (s *Source) Finished() <-chan struct{} {
	return s.finished
}

// Start begins delivering scripted frames. Delivery pauses while the device
// stream is stopped, mirroring the stream/still-capture exclusivity of real
// hardware.
func (s *Source) Start(ctx context.Context, deliver func(camera.Frame)) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("replay source already stopped")
	}
	s.streaming = true
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.finished:
		}
	}()

	go s.deliverLoop(deliver)
	return nil
}

func (s *Source) deliverLoop(deliver func(camera.Frame)) {
	defer close(s.finished)

	interval := time.Duration(s.scenario.FrameIntervalMs) * time.Millisecond
	seq := uint64(0)

	for _, f := range s.scenario.Frames {
		repeat := f.Repeat
		if repeat < 1 {
			repeat = 1
		}
		delay := interval
		if f.DelayMs > 0 {
			delay = time.Duration(f.DelayMs) * time.Millisecond
		}

		for i := 0; i < repeat; i++ {
			time.Sleep(delay)
			if !s.waitStreaming() {
				return
			}

			seq++
			s.recordSignals(seq, f)
			deliver(camera.Frame{
				Seq:       seq,
				Timestamp: time.Now(),
				Width:     planeWidth,
				Height:    planeHeight,
				Luma:      uniformPlane(f),
				Handle:    fmt.Sprintf("replay-frame-%d", seq),
			})
		}
	}
}

// waitStreaming blocks while the device stream is paused. Returns false once
// the source is stopped for good.
func (s *Source) waitStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.streaming && !s.stopped {
		s.cond.Wait()
	}
	return !s.stopped
}

// Stop ends the replay permanently.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// StartStream resumes scripted frame delivery (camera.Device).
func (s *Source) StartStream() error {
	s.mu.Lock()
	s.streaming = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// StopStream pauses scripted frame delivery (camera.Device).
func (s *Source) StopStream() error {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
	return nil
}

// TakePicture simulates the hardware single-shot capture.
func (s *Source) TakePicture(ctx context.Context) (string, error) {
	call := int(s.captureCalls.Add(1) - 1)
	if s.failSet[call] {
		return "", fmt.Errorf("simulated device failure on capture %d", call)
	}
	return fmt.Sprintf("replay-still-%d", call), nil
}

// Analyze returns the scripted signals for the frame (analyzer contract).
func (s *Source) Analyze(ctx context.Context, frame camera.Frame) ([]liveness.FaceSignals, error) {
	s.signalsMu.Lock()
	defer s.signalsMu.Unlock()
	return s.signals[frame.Seq], nil
}

func (s *Source) recordSignals(seq uint64, f Frame) {
	faces := 1
	if f.Faces != nil {
		faces = *f.Faces
	}

	out := make([]liveness.FaceSignals, 0, faces)
	for i := 0; i < faces; i++ {
		sig := f.Signals
		sig.FaceCount = faces
		out = append(out, sig)
	}

	s.signalsMu.Lock()
	s.signals[seq] = out
	s.signalsMu.Unlock()
}

func uniformPlane(f Frame) []byte {
	brightness := 0.5
	if f.Brightness != nil {
		brightness = *f.Brightness
	}
	value := byte(brightness * 255)

	plane := make([]byte, planeWidth*planeHeight)
	for i := range plane {
		plane[i] = value
	}
	return plane
}
