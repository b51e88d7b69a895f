// Package cpu implements the reference CPU backend.
package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/vqtokenizer/internal/parallel"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// CPUBackend implements tensor operations on CPU in pure Go.
// Matrix products are split across goroutines by row.
type CPUBackend struct {
	parallel parallel.Config
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		parallel: parallel.DefaultConfig(),
	}
}

// NewWithConfig creates a CPU backend with explicit parallelism settings.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{parallel: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with NumPy-style broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with NumPy-style broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// MulScalar multiplies every element by s.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return unary(x, func(v float32) float32 { return v * s })
}

// ReLU applies max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Tanh applies the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) *tensor.RawTensor {
	return unary(x, func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})
}

func unary(x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	out := tensor.MustRaw(x.Shape())
	od, xd := out.Data(), x.Data()
	for i, v := range xd {
		od[i] = f(v)
	}
	return out
}

func binary(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}
	out := tensor.MustRaw(outShape)
	od, ad, bd := out.Data(), a.Data(), b.Data()

	// Fast path: identical shapes.
	if a.Shape().Equal(b.Shape()) {
		for i := range od {
			od[i] = f(ad[i], bd[i])
		}
		return out
	}

	sa := tensor.BroadcastStrides(a.Shape(), outShape)
	sb := tensor.BroadcastStrides(b.Shape(), outShape)
	tensor.ForEachBroadcast(outShape, sa, sb, func(i, ia, ib int) {
		od[i] = f(ad[ia], bd[ib])
	})
	return out
}
