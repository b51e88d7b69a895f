package ops

import "github.com/born-ml/vqtokenizer/internal/tensor"

// ReLUOp represents ReLU activation: output = max(0, x).
//
// Backward pass: grad_x = outputGrad * (x > 0).
type ReLUOp struct{ base }

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(x, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{base{[]*tensor.RawTensor{x}, output}}
}

// Backward computes the ReLU gradient.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	grad := tensor.MustRaw(x.Shape())
	g, xd, gd := outputGrad.Data(), x.Data(), grad.Data()
	for i, v := range xd {
		if v > 0 {
			gd[i] = g[i]
		}
	}
	return []*tensor.RawTensor{grad}
}

// TanhOp represents tanh activation.
//
// Backward pass: grad_x = outputGrad * (1 - tanh(x)^2).
type TanhOp struct{ base }

// NewTanhOp creates a new TanhOp.
func NewTanhOp(x, output *tensor.RawTensor) *TanhOp {
	return &TanhOp{base{[]*tensor.RawTensor{x}, output}}
}

// Backward computes the tanh gradient from the saved output.
func (op *TanhOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	y := op.output
	grad := tensor.MustRaw(y.Shape())
	g, yd, gd := outputGrad.Data(), y.Data(), grad.Data()
	for i, v := range yd {
		gd[i] = g[i] * (1 - v*v)
	}
	return []*tensor.RawTensor{grad}
}

// SoftmaxOp represents softmax over the last dimension.
//
// Backward pass, per row: grad_x = y * (g - sum(g * y)).
type SoftmaxOp struct{ base }

// NewSoftmaxOp creates a new SoftmaxOp.
func NewSoftmaxOp(x, output *tensor.RawTensor) *SoftmaxOp {
	return &SoftmaxOp{base{[]*tensor.RawTensor{x}, output}}
}

// Backward computes the softmax gradient from the saved output.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	y := op.output
	grad := tensor.MustRaw(y.Shape())
	rows, d := lastDim(y.Shape())
	g, yd, gd := outputGrad.Data(), y.Data(), grad.Data()
	for r := 0; r < rows; r++ {
		lo, hi := r*d, (r+1)*d
		var dot float32
		for j := lo; j < hi; j++ {
			dot += g[j] * yd[j]
		}
		for j := lo; j < hi; j++ {
			gd[j] = yd[j] * (g[j] - dot)
		}
	}
	return []*tensor.RawTensor{grad}
}

// LayerNormOp represents layer normalization over the last dimension.
//
// With xhat = (x - mean) * rstd and dxhat = g * gamma:
//   - grad_x     = rstd * (dxhat - mean(dxhat) - xhat * mean(dxhat * xhat))
//   - grad_gamma = sum over rows of g * xhat
//   - grad_beta  = sum over rows of g
type LayerNormOp struct {
	base
	eps float32
}

// NewLayerNormOp creates a new LayerNormOp.
func NewLayerNormOp(x, gamma, beta, output *tensor.RawTensor, eps float32) *LayerNormOp {
	return &LayerNormOp{base{[]*tensor.RawTensor{x, gamma, beta}, output}, eps}
}

// Backward computes gradients for x, gamma and beta.
func (op *LayerNormOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x, gamma, beta := op.inputs[0], op.inputs[1], op.inputs[2]
	gradX := tensor.MustRaw(x.Shape())
	gradGamma := tensor.MustRaw(gamma.Shape())
	gradBeta := tensor.MustRaw(beta.Shape())

	rows, d := lastDim(x.Shape())
	g, xd, gm := outputGrad.Data(), x.Data(), gamma.Data()
	gx, gg, gb := gradX.Data(), gradGamma.Data(), gradBeta.Data()
	xhat := make([]float32, d)
	dxhat := make([]float32, d)

	for r := 0; r < rows; r++ {
		lo := r * d
		mean, rstd := rowStats(xd[lo:lo+d], op.eps)
		var sumD, sumDX float32
		for j := 0; j < d; j++ {
			xhat[j] = (xd[lo+j] - mean) * rstd
			dxhat[j] = g[lo+j] * gm[j]
			sumD += dxhat[j]
			sumDX += dxhat[j] * xhat[j]
			gg[j] += g[lo+j] * xhat[j]
			gb[j] += g[lo+j]
		}
		meanD := sumD / float32(d)
		meanDX := sumDX / float32(d)
		for j := 0; j < d; j++ {
			gx[lo+j] = rstd * (dxhat[j] - meanD - xhat[j]*meanDX)
		}
	}
	return []*tensor.RawTensor{gradX, gradGamma, gradBeta}
}
