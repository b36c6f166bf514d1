package liveness

// maxLumaSamples caps how many pixels Classify inspects per frame. Sampling
// with a fixed stride keeps classification stable across frames of the same
// scene while bounding the per-frame cost on large planes.
const maxLumaSamples = 4096

// Gate classifies per-frame brightness from the raw luminance plane.
// It is stateless; Classify is safe for concurrent use.
type Gate struct {
	thresholds Thresholds
}

// NewGate creates a quality gate with the given thresholds.
func NewGate(t Thresholds) *Gate {
	return &Gate{thresholds: t}
}

// Classify computes the mean brightness of the luminance plane, normalized to
// 0..1, and buckets it into a quality class. An empty plane cannot be assessed
// and is reported as insufficient light.
func (g *Gate) Classify(luma []byte) QualityReading {
	if len(luma) == 0 {
		return QualityReading{Brightness: 0, Class: QualityInsufficient}
	}

	stride := len(luma) / maxLumaSamples
	if stride < 1 {
		stride = 1
	}

	var sum uint64
	var n uint64
	for i := 0; i < len(luma); i += stride {
		sum += uint64(luma[i])
		n++
	}

	brightness := float64(sum) / float64(n) / 255.0
	return QualityReading{Brightness: brightness, Class: g.classify(brightness)}
}

func (g *Gate) classify(brightness float64) QualityClass {
	switch {
	case brightness < g.thresholds.DarkBelow:
		return QualityTooDark
	case brightness < g.thresholds.InsufficientBelow:
		return QualityInsufficient
	case brightness > g.thresholds.BrightAbove:
		return QualityTooBright
	default:
		return QualityGood
	}
}
