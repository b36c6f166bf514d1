package liveness

import "time"

// Thresholds holds every tunable of the quality gate and the state machine.
// All values are runtime configuration; the defaults below are the contract
// values the rest of the system is tested against.
type Thresholds struct {
	// Eye openness probabilities for edge detection.
	EyeOpenAbove    float64
	EyeClosedBelow  float64
	YawLeftBelow    float64 // degrees, negative
	YawRightAbove   float64 // degrees
	PitchUpAbove    float64 // degrees
	PitchDownBelow  float64 // degrees, negative
	SmileAbove      float64
	NeutralSmileMax float64

	// NeutralHold is how long the neutral pose must be held continuously
	// before the final capture fires. The timer resets on any break.
	NeutralHold time.Duration

	// Brightness bands for the quality gate, normalized 0..1.
	DarkBelow         float64
	InsufficientBelow float64
	BrightAbove       float64
}

// DefaultThresholds returns the contract default tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EyeOpenAbove:      0.5,
		EyeClosedBelow:    0.3,
		YawLeftBelow:      -30,
		YawRightAbove:     30,
		PitchUpAbove:      20,
		PitchDownBelow:    -20,
		SmileAbove:        0.7,
		NeutralSmileMax:   0.3,
		NeutralHold:       2 * time.Second,
		DarkBelow:         0.15,
		InsufficientBelow: 0.25,
		BrightAbove:       0.90,
	}
}
