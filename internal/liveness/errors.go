package liveness

import "fmt"

// QualityError reports a frame that failed the quality gate. It blocks capture
// issuance only; the active step and pending flags are untouched and the error
// clears itself as soon as a good frame arrives.
type QualityError struct {
	Class      QualityClass
	Brightness float64
}

func (e QualityError) Error() string {
	switch e.Class {
	case QualityTooDark:
		return "frame too dark, move to better light"
	case QualityTooBright:
		return "frame too bright, avoid direct light"
	default:
		return "insufficient light for capture"
	}
}

// FaceCountError reports zero or multiple faces in the frame. It blocks all
// transitions and recovers on its own once exactly one face is present.
type FaceCountError struct {
	Count int
}

func (e FaceCountError) Error() string {
	if e.Count == 0 {
		return "no face detected, center your face in the frame"
	}
	return fmt.Sprintf("%d faces detected, only one person may be in the frame", e.Count)
}
