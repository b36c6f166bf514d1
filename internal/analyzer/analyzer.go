// Package analyzer abstracts the face landmark detector that turns frames
// into per-face signals. The detector itself runs out of process (an on-prem
// inference sidecar); this package only carries its client contract.
package analyzer

import (
	"context"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/camera"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/liveness"
)

// Analyzer extracts face signals from a frame. The returned slice holds one
// entry per detected face: empty means no face, more than one means multiple
// people in frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame camera.Frame) ([]liveness.FaceSignals, error)
}
