package autodiff

import "github.com/born-ml/vqtokenizer/internal/tensor"

// Backward computes gradients of t using the backend's tape.
//
// The output gradient is seeded with ones, so for a scalar loss the result
// holds dLoss/dX for every recorded tensor X. Gradient arithmetic runs on
// the inner backend so nothing is recorded during the pass.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	loss := model.Forward(x).Mean()
//	grads := autodiff.Backward(loss, backend)
//	grad := grads[param.Tensor().Raw()]
func Backward(t *tensor.Tensor, backend *AutodiffBackend) map[*tensor.RawTensor]*tensor.RawTensor {
	if backend.tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	outputGrad := tensor.MustRaw(t.Shape())
	data := outputGrad.Data()
	for i := range data {
		data[i] = 1
	}

	return backend.tape.Backward(t.Raw(), outputGrad, backend.inner)
}
