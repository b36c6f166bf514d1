// Package camera defines the device-facing contracts of the capture pipeline:
// the push frame stream, the single-shot still capture, and the frame type
// shared between them.
package camera

import (
	"context"
	"time"
)

// Frame is one video frame delivered by a FrameSource.
//
// Luma must not be modified after delivery; frames are shared by reference
// between the quality gate and the analyzer.
type Frame struct {
	// Seq is a monotonically increasing sequence number assigned by the source.
	Seq uint64
	// Timestamp is the source capture time, not the processing time.
	Timestamp time.Time
	// Width and Height in pixels.
	Width  int
	Height int
	// Luma is the raw luminance plane, row-major, one byte per pixel.
	Luma []byte
	// Handle is an opaque reference to the full frame for collaborators that
	// need more than the luminance plane.
	Handle string
}

// FrameSource is a push stream of frames from the device.
//
// deliver is invoked once per frame from a single goroutine. A slow consumer
// must drop frames itself; the source never queues on its behalf.
type FrameSource interface {
	Start(ctx context.Context, deliver func(Frame)) error
	Stop() error
}

// Device is the still-capture side of the camera. The preview stream and the
// single-shot capture are mutually exclusive on the underlying hardware:
// callers must stop the stream before TakePicture and restart it afterwards.
type Device interface {
	StartStream() error
	StopStream() error
	// TakePicture performs the hardware single-shot capture and returns an
	// opaque handle to the stored image.
	TakePicture(ctx context.Context) (string, error)
}
