// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps any tensor.Backend and records every operation on a
// GradientTape. Backward walks the tape in reverse and returns gradients
// keyed by the RawTensor they belong to.
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.MustFromSlice([]float32{2}, tensor.Shape{1}, backend)
//	y := x.Mul(x).Mean()
//	grads := autodiff.Backward(y, backend)
//	fmt.Println(grads[x.Raw()].Data()) // [4]
package autodiff

import (
	"github.com/born-ml/vqtokenizer/internal/autodiff/ops"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements tensor.Backend; forward values come from the inner backend.
type AutodiffBackend struct {
	inner tensor.Backend
	tape  *GradientTape
}

// New creates a new AutodiffBackend wrapping the given backend.
func New(backend tensor.Backend) *AutodiffBackend {
	return &AutodiffBackend{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend.
func (b *AutodiffBackend) Inner() tensor.Backend {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	b.tape.Record(ops.NewAddOp(x, y, result))
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend) Sub(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(x, y)
	b.tape.Record(ops.NewSubOp(x, y, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	b.tape.Record(ops.NewMulOp(x, y, result))
	return result
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	result := b.inner.MulScalar(x, s)
	b.tape.Record(ops.NewMulScalarOp(x, result, s))
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(x, y)
	b.tape.Record(ops.NewMatMulOp(x, y, result))
	return result
}

// BatchMatMul performs batched matrix multiplication and records the operation.
func (b *AutodiffBackend) BatchMatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.BatchMatMul(x, y)
	b.tape.Record(ops.NewBatchMatMulOp(x, y, result))
	return result
}

// Reshape reshapes a tensor and records the operation.
//
// Reshape must be recorded: the backend returns a new RawTensor, and without
// the op the gradient computed for it would never reach the original
// (for example a bias reshaped for broadcasting).
func (b *AutodiffBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	b.tape.Record(ops.NewReshapeOp(t, result))
	return result
}

// Transpose permutes dimensions and records the operation.
func (b *AutodiffBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	if len(axes) == 0 {
		nd := len(t.Shape())
		axes = make([]int, nd)
		for i := range axes {
			axes[i] = i
		}
		if nd >= 2 {
			axes[nd-2], axes[nd-1] = axes[nd-1], axes[nd-2]
		}
	}
	result := b.inner.Transpose(t, axes...)
	b.tape.Record(ops.NewTransposeOp(t, result, axes))
	return result
}

// ReLU applies ReLU activation and records the operation.
func (b *AutodiffBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	b.tape.Record(ops.NewReLUOp(x, result))
	return result
}

// Tanh applies tanh and records the operation.
func (b *AutodiffBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Tanh(x)
	b.tape.Record(ops.NewTanhOp(x, result))
	return result
}

// Softmax applies softmax over the last dimension and records the operation.
func (b *AutodiffBackend) Softmax(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Softmax(x)
	b.tape.Record(ops.NewSoftmaxOp(x, result))
	return result
}

// LayerNorm applies layer normalization and records the operation.
func (b *AutodiffBackend) LayerNorm(x, gamma, beta *tensor.RawTensor, eps float32) *tensor.RawTensor {
	result := b.inner.LayerNorm(x, gamma, beta, eps)
	b.tape.Record(ops.NewLayerNormOp(x, gamma, beta, result, eps))
	return result
}

// Mean reduces to a scalar mean and records the operation.
func (b *AutodiffBackend) Mean(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mean(x)
	b.tape.Record(ops.NewMeanOp(x, result))
	return result
}

// MSE computes mean squared error and records the operation.
func (b *AutodiffBackend) MSE(pred, target *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MSE(pred, target)
	b.tape.Record(ops.NewMSEOp(pred, target, result))
	return result
}

// IndexSelect gathers rows and records the operation.
func (b *AutodiffBackend) IndexSelect(x *tensor.RawTensor, indices []int) *tensor.RawTensor {
	result := b.inner.IndexSelect(x, indices)
	b.tape.Record(ops.NewIndexSelectOp(x, result, indices))
	return result
}

// StraightThrough returns value's data while routing the gradient of the
// result to through as identity. value itself receives no gradient.
func (b *AutodiffBackend) StraightThrough(value, through *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.StraightThrough(value, through)
	b.tape.Record(ops.NewStraightThroughOp(through, result))
	return result
}

// BinaryEntropy computes the code-bit entropy penalty and records the operation.
func (b *AutodiffBackend) BinaryEntropy(z *tensor.RawTensor, temperature float32) *tensor.RawTensor {
	result := b.inner.BinaryEntropy(z, temperature)
	b.tape.Record(ops.NewBinaryEntropyOp(z, result, temperature))
	return result
}
