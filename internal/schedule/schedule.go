// Package schedule provides learning-rate schedules stepped once per
// optimizer update.
package schedule

// Schedule maps an optimizer step index to a learning rate.
type Schedule interface {
	LR(step int) float64
}

// Constant is a fixed learning rate.
type Constant float64

// LR returns the constant rate.
func (c Constant) LR(int) float64 {
	return float64(c)
}

// WarmupLinearDecay is the three-phase schedule used for LFQ training:
//
//	step < warmup:                factor = step / max(1, warmup)
//	step < warmup + decay:        factor = 1 - progress * (1 - min/peak)
//	otherwise:                    factor = min/peak
//
// where progress = (step - warmup) / max(1, decay). The learning rate is
// peak * factor, so it rises linearly from 0 to peak, falls linearly to
// min, then stays at min.
type WarmupLinearDecay struct {
	Peak        float64
	Min         float64
	WarmupSteps int
	DecaySteps  int
}

// NewWarmupLinearDecay derives phase lengths from ratios of totalSteps.
// Phase lengths are truncated to whole steps.
func NewWarmupLinearDecay(peak, lrMin float64, totalSteps int, warmupRatio, decayRatio float64) *WarmupLinearDecay {
	return &WarmupLinearDecay{
		Peak:        peak,
		Min:         lrMin,
		WarmupSteps: int(warmupRatio * float64(totalSteps)),
		DecaySteps:  int(decayRatio * float64(totalSteps)),
	}
}

// Factor returns the multiplier applied to Peak at step.
func (s *WarmupLinearDecay) Factor(step int) float64 {
	floor := s.Min / s.Peak
	switch {
	case step < s.WarmupSteps:
		return float64(step) / float64(max(1, s.WarmupSteps))
	case step < s.WarmupSteps+s.DecaySteps:
		progress := float64(step-s.WarmupSteps) / float64(max(1, s.DecaySteps))
		return 1 - progress*(1-floor)
	default:
		return floor
	}
}

// LR returns Peak * Factor(step).
func (s *WarmupLinearDecay) LR(step int) float64 {
	return s.Peak * s.Factor(step)
}
