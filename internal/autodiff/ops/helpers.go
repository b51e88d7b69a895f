package ops

import (
	"math"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// reduceBroadcast sums grad over the dimensions that were broadcast to turn
// target into grad's shape.
//
// Examples:
//
//	grad (3, 5), target (1, 5) → sum over dim 0 → (1, 5)
//	grad (3, 5), target (5)    → sum over dim 0 → (5)
func reduceBroadcast(grad *tensor.RawTensor, target tensor.Shape) *tensor.RawTensor {
	if grad.Shape().Equal(target) {
		return grad.Clone()
	}
	out := tensor.MustRaw(target)
	gs := grad.Shape()
	st := tensor.BroadcastStrides(target, gs)
	zero := make([]int, len(gs))
	gd, od := grad.Data(), out.Data()
	tensor.ForEachBroadcast(gs, st, zero, func(i, it, _ int) {
		od[it] += gd[i]
	})
	return out
}

// lastDim splits a shape into rows of its last dimension.
func lastDim(shape tensor.Shape) (rows, d int) {
	d = shape[len(shape)-1]
	if d == 0 {
		return 0, 0
	}
	return shape.NumElements() / d, d
}

// rowStats mirrors the forward LayerNorm statistics.
func rowStats(row []float32, eps float32) (mean, rstd float32) {
	var sum float64
	for _, v := range row {
		sum += float64(v)
	}
	m := sum / float64(len(row))
	var variance float64
	for _, v := range row {
		diff := float64(v) - m
		variance += diff * diff
	}
	variance /= float64(len(row))
	return float32(m), float32(1 / math.Sqrt(variance+float64(eps)))
}
