// Package ops defines the differentiable operations recorded by the autodiff tape.
package ops

import "github.com/born-ml/vqtokenizer/internal/tensor"

// Operation represents a differentiable operation recorded on the gradient tape.
//
// Each operation stores its inputs and output, and knows how to compute
// input gradients from the output gradient via the chain rule. Backward
// must not modify outputGrad and must return one gradient per input, in
// the same order as Inputs (nil for inputs that receive no gradient).
type Operation interface {
	// Backward computes input gradients given the output gradient.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor of this operation.
	Output() *tensor.RawTensor
}

// base holds the bookkeeping shared by every operation.
type base struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensors.
func (b *base) Inputs() []*tensor.RawTensor {
	return b.inputs
}

// Output returns the output tensor.
func (b *base) Output() *tensor.RawTensor {
	return b.output
}
