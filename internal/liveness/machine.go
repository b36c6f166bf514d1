package liveness

import "time"

// Severity grades a status effect for presentation.
type Severity string

// Status severities.
const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// StatusEffect is a presentation-only event describing what the subject
// should do or why the machine is waiting.
type StatusEffect struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Step     Step     `json:"step"`
}

// CaptureEffect instructs the session owner to request a single-shot capture
// tagged with the active step.
type CaptureEffect struct {
	StepTag string `json:"step_tag"`
}

// Effects is everything a Step call asks its caller to do. The machine itself
// performs no I/O; the session owner interprets these values.
type Effects struct {
	Statuses []StatusEffect
	Capture  *CaptureEffect
}

func (e *Effects) status(message string, severity Severity, step Step) {
	e.Statuses = append(e.Statuses, StatusEffect{Message: message, Severity: severity, Step: step})
}

// Machine is the pure liveness challenge reducer. It holds only thresholds,
// so a single Machine may serve any number of sessions concurrently.
type Machine struct {
	t Thresholds
}

// NewMachine creates a machine with the given thresholds.
func NewMachine(t Thresholds) *Machine {
	return &Machine{t: t}
}

// Step feeds one frame's signals and quality reading into the session and
// returns the new session state plus the effects to interpret. The session is
// passed and returned by value; the caller owns when the result becomes
// current.
//
// Guard order: terminal state, pending capture, face count, then the active
// step. A non-good quality reading blocks capture issuance only - the trigger
// condition is left unconsumed so it can re-fire on the next good frame.
func (m *Machine) Step(s Session, sig FaceSignals, q QualityReading, now time.Time) (Session, Effects) {
	var fx Effects

	if s.Step == StepCompleted {
		fx.status(StepCompleted.Instruction(), SeverityInfo, s.Step)
		return s, fx
	}

	if s.PendingCapture {
		// A capture is in flight; frame-driven transitions are suspended
		// until the result arrives.
		fx.status("hold still, taking picture", SeverityInfo, s.Step)
		return s, fx
	}

	if sig.FaceCount != 1 {
		// Face-count guards override every state. A frame without exactly one
		// face also breaks the continuous neutral-hold evidence.
		s.NeutralHoldStart = time.Time{}
		severity := SeverityWarn
		if sig.FaceCount > 1 {
			severity = SeverityError
		}
		fx.status(FaceCountError{Count: sig.FaceCount}.Error(), severity, s.Step)
		return s, fx
	}

	good := q.Class == QualityGood
	if !good {
		fx.status(QualityError{Class: q.Class, Brightness: q.Brightness}.Error(), SeverityWarn, s.Step)
	}

	switch s.Step {
	case StepInitial:
		if m.bothOpen(sig) {
			s.Step = StepBlinkFirst
			s.EyesWereOpen = true
			fx.status(s.Step.Instruction(), SeverityInfo, s.Step)
			return s, fx
		}

	case StepBlinkFirst:
		switch {
		case s.EyesWereOpen && m.bothClosed(sig):
			s.EyesWereOpen = false
			fx.status("eyes closed, now open them", SeverityInfo, s.Step)
			return s, fx
		case !s.EyesWereOpen && m.bothOpen(sig):
			s.Step = StepBlinkSecond
			s.EyesWereOpen = true
			fx.status(s.Step.Instruction(), SeverityInfo, s.Step)
			return s, fx
		}

	case StepBlinkSecond:
		// Entering this step and a failed capture both leave the edge armed,
		// so a still-closed face retries without reopening first.
		if m.bothClosed(sig) {
			// The blink2 photograph is taken at the closed edge on purpose:
			// an eyes-shut frame is part of the liveness evidence.
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}

	case StepTurnLeft:
		if sig.Yaw < m.t.YawLeftBelow {
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}

	case StepTurnRight:
		if sig.Yaw > m.t.YawRightAbove {
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}

	case StepTiltUp:
		if sig.Pitch > m.t.PitchUpAbove {
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}

	case StepTiltDown:
		if sig.Pitch < m.t.PitchDownBelow {
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}

	case StepSmile:
		if sig.SmileProb > m.t.SmileAbove {
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}

	case StepNeutral:
		neutral := sig.SmileProb < m.t.NeutralSmileMax && m.bothOpen(sig)
		if !neutral {
			// Any break restarts the hold timer.
			s.NeutralHoldStart = time.Time{}
			break
		}
		if s.NeutralHoldStart.IsZero() {
			s.NeutralHoldStart = now
		}
		if now.Sub(s.NeutralHoldStart) >= m.t.NeutralHold {
			if !good {
				return s, fx
			}
			return m.trigger(s, fx)
		}
		fx.status("hold the neutral pose", SeverityInfo, s.Step)
		return s, fx
	}

	fx.status(s.Step.Instruction(), SeverityInfo, s.Step)
	return s, fx
}

// ResolveCapture feeds the result of a previously requested capture back into
// the session. On success the step advances; on failure the step is left
// unchanged so the same, still-held condition can fire again.
func (m *Machine) ResolveCapture(s Session, captureErr error) (Session, Effects) {
	var fx Effects

	if !s.PendingCapture {
		fx.status("capture result without a pending request ignored", SeverityWarn, s.Step)
		return s, fx
	}
	s.PendingCapture = false

	if captureErr != nil {
		fx.status("capture failed: "+captureErr.Error()+", repeat the pose to retry", SeverityError, s.Step)
		return s, fx
	}

	s.Step = s.Step.Next()
	s.EyesWereOpen = false
	s.NeutralHoldStart = time.Time{}
	fx.status(s.Step.Instruction(), SeverityInfo, s.Step)
	return s, fx
}

// trigger marks the capture as pending and emits the capture effect. The flag
// is set before the effect is interpreted, which is what prevents the same
// satisfied condition from firing again on the following frames.
func (m *Machine) trigger(s Session, fx Effects) (Session, Effects) {
	s.PendingCapture = true
	fx.Capture = &CaptureEffect{StepTag: s.Step.String()}
	fx.status("hold still, taking picture", SeverityInfo, s.Step)
	return s, fx
}

func (m *Machine) bothOpen(sig FaceSignals) bool {
	return sig.LeftEyeOpen > m.t.EyeOpenAbove && sig.RightEyeOpen > m.t.EyeOpenAbove
}

func (m *Machine) bothClosed(sig FaceSignals) bool {
	return sig.LeftEyeOpen < m.t.EyeClosedBelow && sig.RightEyeOpen < m.t.EyeClosedBelow
}
