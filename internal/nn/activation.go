package nn

import "github.com/born-ml/vqtokenizer/internal/tensor"

// ReLU applies max(0, x) element-wise.
type ReLU struct{}

// NewReLU creates a new ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU.
func (r *ReLU) Forward(input *tensor.Tensor) *tensor.Tensor {
	return input.ReLU()
}

// Parameters returns nil (activations have no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}

// Tanh applies the hyperbolic tangent element-wise.
type Tanh struct{}

// NewTanh creates a new Tanh activation.
func NewTanh() *Tanh {
	return &Tanh{}
}

// Forward applies tanh.
func (t *Tanh) Forward(input *tensor.Tensor) *tensor.Tensor {
	return input.Tanh()
}

// Parameters returns nil.
func (t *Tanh) Parameters() []*Parameter {
	return nil
}
