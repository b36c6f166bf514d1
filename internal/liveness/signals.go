// Package liveness implements the challenge-response protocol that proves a
// live subject is in front of the camera. The state machine consumes per-frame
// face signals and quality readings and decides when each of the seven
// calibration photographs should be taken.
package liveness

import "time"

// FaceSignals holds the per-frame output of the face analyzer for one face.
type FaceSignals struct {
	LeftEyeOpen  float64 `json:"left_eye_open" yaml:"left_eye_open"`   // 0..1 probability the left eye is open
	RightEyeOpen float64 `json:"right_eye_open" yaml:"right_eye_open"` // 0..1 probability the right eye is open
	Yaw          float64 `json:"yaw" yaml:"yaw"`                       // head rotation about the vertical axis, degrees
	Pitch        float64 `json:"pitch" yaml:"pitch"`                   // head rotation about the lateral axis, degrees
	Roll         float64 `json:"roll" yaml:"roll"`                     // head rotation about the frontal axis, degrees
	SmileProb    float64 `json:"smile_prob" yaml:"smile_prob"`         // 0..1 smile probability
	FaceCount    int     `json:"face_count" yaml:"-"`                  // number of faces in the frame
}

// Step identifies a stage of the liveness challenge sequence.
// Steps only ever advance forward along the fixed order.
type Step int

// The liveness challenge steps, in protocol order.
const (
	StepInitial Step = iota
	StepBlinkFirst
	StepBlinkSecond
	StepTurnLeft
	StepTurnRight
	StepTiltUp
	StepTiltDown
	StepSmile
	StepNeutral
	StepCompleted
)

// String returns the machine-readable name of the step.
func (s Step) String() string {
	switch s {
	case StepInitial:
		return "initial"
	case StepBlinkFirst:
		return "blink1"
	case StepBlinkSecond:
		return "blink2"
	case StepTurnLeft:
		return "turn_left"
	case StepTurnRight:
		return "turn_right"
	case StepTiltUp:
		return "tilt_up"
	case StepTiltDown:
		return "tilt_down"
	case StepSmile:
		return "smile"
	case StepNeutral:
		return "neutral"
	case StepCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Next returns the step that follows s in the protocol order.
// Completed is terminal and returns itself.
func (s Step) Next() Step {
	if s >= StepCompleted {
		return StepCompleted
	}
	return s + 1
}

// Captures reports whether completing this step takes a photograph.
// Initial and BlinkFirst are warm-up transitions; the remaining seven
// steps each contribute one artifact.
func (s Step) Captures() bool {
	return s >= StepBlinkSecond && s <= StepNeutral
}

// Instruction returns the prompt shown to the subject while the step is active.
func (s Step) Instruction() string {
	switch s {
	case StepInitial:
		return "look at the camera with both eyes open"
	case StepBlinkFirst:
		return "blink once"
	case StepBlinkSecond:
		return "blink once more"
	case StepTurnLeft:
		return "turn your head to the left"
	case StepTurnRight:
		return "turn your head to the right"
	case StepTiltUp:
		return "tilt your head up"
	case StepTiltDown:
		return "tilt your head down"
	case StepSmile:
		return "smile"
	case StepNeutral:
		return "relax your face and look straight ahead"
	case StepCompleted:
		return "all challenges completed"
	default:
		return ""
	}
}

// QualityClass classifies the brightness of a frame.
type QualityClass string

// Frame quality classes. Captures are only issued on Good frames.
const (
	QualityGood         QualityClass = "good"
	QualityTooDark      QualityClass = "too_dark"
	QualityInsufficient QualityClass = "insufficient"
	QualityTooBright    QualityClass = "too_bright"
)

// QualityReading is the per-frame output of the quality gate.
type QualityReading struct {
	Brightness float64      `json:"brightness"` // mean luminance, normalized 0..1
	Class      QualityClass `json:"class"`
}

// CapturedImage is one calibration photograph taken during a session.
type CapturedImage struct {
	SequenceIndex int       `json:"sequence_index"` // monotonically increasing per session
	StepTag       string    `json:"step_tag"`       // step active when the capture was requested
	CapturedAt    time.Time `json:"captured_at"`
	Handle        string    `json:"handle"` // opaque reference to the stored image
}

// RequiredCaptures is the number of artifacts a complete session must hold.
const RequiredCaptures = 7
