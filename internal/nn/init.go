package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Values are drawn from U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
// Drawing from rng keeps model construction reproducible for a given seed.
func Xavier(rng *rand.Rand, fanIn, fanOut int, shape tensor.Shape, backend tensor.Backend) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return Uniform(rng, -bound, bound, shape, backend)
}

// Uniform fills a tensor with values drawn from U(lo, hi).
func Uniform(rng *rand.Rand, lo, hi float64, shape tensor.Shape, backend tensor.Backend) *tensor.Tensor {
	t := tensor.Zeros(shape, backend)
	data := t.Data()
	for i := range data {
		//nolint:gosec // math/rand is fine for weight initialization
		data[i] = float32(lo + rng.Float64()*(hi-lo))
	}
	return t
}
