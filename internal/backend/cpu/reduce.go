package cpu

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Mean returns the mean of all elements as a scalar tensor.
// The mean of an empty tensor is 0.
func (cpu *CPUBackend) Mean(x *tensor.RawTensor) *tensor.RawTensor {
	out := tensor.MustRaw(tensor.Shape{})
	xd := x.Data()
	if len(xd) == 0 {
		return out
	}
	var sum float64
	for _, v := range xd {
		sum += float64(v)
	}
	out.Data()[0] = float32(sum / float64(len(xd)))
	return out
}

// MSE returns mean((pred - target)²) as a scalar tensor.
func (cpu *CPUBackend) MSE(pred, target *tensor.RawTensor) *tensor.RawTensor {
	if !pred.Shape().Equal(target.Shape()) {
		panic(fmt.Sprintf("mse: shape mismatch %v vs %v", pred.Shape(), target.Shape()))
	}
	out := tensor.MustRaw(tensor.Shape{})
	pd, td := pred.Data(), target.Data()
	if len(pd) == 0 {
		return out
	}
	var sum float64
	for i, p := range pd {
		diff := float64(p - td[i])
		sum += diff * diff
	}
	out.Data()[0] = float32(sum / float64(len(pd)))
	return out
}
