package nn

import "github.com/born-ml/vqtokenizer/internal/tensor"

// LayerNorm implements Layer Normalization over the last dimension.
//
//	output = gamma * (x - mean(x)) / sqrt(var(x) + epsilon) + beta
//
// gamma starts at ones and beta at zeros.
type LayerNorm struct {
	Gamma   *Parameter // Scale parameter [normalized_shape]
	Beta    *Parameter // Shift parameter [normalized_shape]
	Epsilon float32
}

// NewLayerNorm creates a new LayerNorm layer named name.
func NewLayerNorm(name string, normalizedShape int, epsilon float32, backend tensor.Backend) *LayerNorm {
	return &LayerNorm{
		Gamma:   NewParameter(join(name, "gamma"), tensor.Ones(tensor.Shape{normalizedShape}, backend)),
		Beta:    NewParameter(join(name, "beta"), tensor.Zeros(tensor.Shape{normalizedShape}, backend)),
		Epsilon: epsilon,
	}
}

// Forward normalizes x over its last dimension.
func (l *LayerNorm) Forward(x *tensor.Tensor) *tensor.Tensor {
	return x.LayerNorm(l.Gamma.Tensor(), l.Beta.Tensor(), l.Epsilon)
}

// Parameters returns [gamma, beta].
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.Gamma, l.Beta}
}
