// Package tensor provides the float32 tensor type and the Backend interface
// used by every numeric component of the tokenizer.
package tensor

import "fmt"

// Tensor pairs a RawTensor with the backend that computes on it.
// All arithmetic methods dispatch to the backend, so a Tensor created on an
// autodiff backend is tracked by its tape.
//
// Example:
//
//	backend := cpu.New()
//	t := tensor.Zeros(tensor.Shape{3, 4}, backend)
//	result := t.Add(t)
type Tensor struct {
	raw     *RawTensor
	backend Backend
}

// New creates a Tensor from a RawTensor and backend.
func New(raw *RawTensor, b Backend) *Tensor {
	return &Tensor{raw: raw, backend: b}
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.raw.Shape()
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.raw.NumElements()
}

// Raw returns the underlying RawTensor.
func (t *Tensor) Raw() *RawTensor {
	return t.raw
}

// Backend returns the computation backend.
func (t *Tensor) Backend() Backend {
	return t.backend
}

// Data returns the tensor's buffer (zero-copy).
//
// WARNING: Modifications to the returned slice will modify the tensor.
func (t *Tensor) Data() []float32 {
	return t.raw.Data()
}

// Item returns the value of a single-element tensor.
// Panics if the tensor holds more than one element.
func (t *Tensor) Item() float32 {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() only works for single-element tensors, got shape %v", t.Shape()))
	}
	return t.raw.Data()[0]
}

// At returns the element at the given indices.
// Panics if indices are out of bounds.
func (t *Tensor) At(indices ...int) float32 {
	shape := t.Shape()
	if len(indices) != len(shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(shape), len(indices)))
	}
	offset := 0
	strides := t.raw.Strides()
	for i, idx := range indices {
		if idx < 0 || idx >= shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, shape[i]))
		}
		offset += idx * strides[i]
	}
	return t.raw.Data()[offset]
}

// Detach returns a tensor holding a copy of t's values that no operation
// recorded so far refers to. Gradients never flow through the result.
func (t *Tensor) Detach() *Tensor {
	return New(t.raw.Clone(), t.backend)
}

// Add returns t + other (broadcasting).
func (t *Tensor) Add(other *Tensor) *Tensor {
	return New(t.backend.Add(t.raw, other.raw), t.backend)
}

// Sub returns t - other (broadcasting).
func (t *Tensor) Sub(other *Tensor) *Tensor {
	return New(t.backend.Sub(t.raw, other.raw), t.backend)
}

// Mul returns t * other element-wise (broadcasting).
func (t *Tensor) Mul(other *Tensor) *Tensor {
	return New(t.backend.Mul(t.raw, other.raw), t.backend)
}

// MulScalar returns t * s.
func (t *Tensor) MulScalar(s float32) *Tensor {
	return New(t.backend.MulScalar(t.raw, s), t.backend)
}

// MatMul returns the 2D matrix product t @ other.
func (t *Tensor) MatMul(other *Tensor) *Tensor {
	return New(t.backend.MatMul(t.raw, other.raw), t.backend)
}

// BatchMatMul returns the batched matrix product over the last two dimensions.
func (t *Tensor) BatchMatMul(other *Tensor) *Tensor {
	return New(t.backend.BatchMatMul(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data and a new shape.
// One dimension may be -1 and is inferred.
func (t *Tensor) Reshape(dims ...int) *Tensor {
	shape := make(Shape, len(dims))
	copy(shape, dims)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic("Reshape: only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		shape[infer] = t.NumElements() / known
	}
	return New(t.backend.Reshape(t.raw, shape), t.backend)
}

// Transpose permutes dimensions. Without axes it swaps the last two.
func (t *Tensor) Transpose(axes ...int) *Tensor {
	return New(t.backend.Transpose(t.raw, axes...), t.backend)
}

// ReLU applies max(0, x).
func (t *Tensor) ReLU() *Tensor {
	return New(t.backend.ReLU(t.raw), t.backend)
}

// Tanh applies the hyperbolic tangent.
func (t *Tensor) Tanh() *Tensor {
	return New(t.backend.Tanh(t.raw), t.backend)
}

// Softmax normalizes along the last dimension.
func (t *Tensor) Softmax() *Tensor {
	return New(t.backend.Softmax(t.raw), t.backend)
}

// Mean returns the scalar mean of all elements.
func (t *Tensor) Mean() *Tensor {
	return New(t.backend.Mean(t.raw), t.backend)
}

// IndexSelect gathers rows of a 2D tensor.
func (t *Tensor) IndexSelect(indices []int) *Tensor {
	return New(t.backend.IndexSelect(t.raw, indices), t.backend)
}

// LayerNorm normalizes over the last dimension with affine gamma and beta.
func (t *Tensor) LayerNorm(gamma, beta *Tensor, eps float32) *Tensor {
	return New(t.backend.LayerNorm(t.raw, gamma.raw, beta.raw, eps), t.backend)
}

// MSE returns the scalar mean squared error between t and target.
func (t *Tensor) MSE(target *Tensor) *Tensor {
	return New(t.backend.MSE(t.raw, target.raw), t.backend)
}

// BinaryEntropy returns the scalar code-bit entropy penalty of 2D logits t.
func (t *Tensor) BinaryEntropy(temperature float32) *Tensor {
	return New(t.backend.BinaryEntropy(t.raw, temperature), t.backend)
}

// StraightThrough returns a tensor with value's data whose gradient flows
// to through unchanged.
func StraightThrough(value, through *Tensor) *Tensor {
	return New(through.backend.StraightThrough(value.raw, through.raw), through.backend)
}
