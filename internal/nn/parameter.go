package nn

import "github.com/born-ml/vqtokenizer/internal/tensor"

// Parameter represents a trainable parameter in a neural network.
//
// The underlying RawTensor keeps its identity for the lifetime of the
// parameter: optimizers update its data in place, and gradients returned by
// autodiff.Backward are looked up by that pointer.
//
// Example:
//
//	weight := nn.NewParameter("fc.weight", weightTensor)
//	grad := grads[weight.Tensor().Raw()]
type Parameter struct {
	name   string         // Dotted parameter name (e.g., "decoder.fc1.weight")
	tensor *tensor.Tensor // The parameter tensor
	grad   *tensor.Tensor // Gradient tensor (set after a backward pass)
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the gradient tensor, or nil before a backward pass.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}
