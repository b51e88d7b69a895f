package ops

import (
	"math"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// MeanOp represents the mean over all elements, producing a scalar.
//
// Backward pass: grad_x[i] = outputGrad / N.
type MeanOp struct{ base }

// NewMeanOp creates a new MeanOp.
func NewMeanOp(x, output *tensor.RawTensor) *MeanOp {
	return &MeanOp{base{[]*tensor.RawTensor{x}, output}}
}

// Backward spreads the scalar gradient evenly across the input.
func (op *MeanOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	grad := tensor.MustRaw(x.Shape())
	n := x.NumElements()
	if n == 0 {
		return []*tensor.RawTensor{grad}
	}
	v := outputGrad.Data()[0] / float32(n)
	gd := grad.Data()
	for i := range gd {
		gd[i] = v
	}
	return []*tensor.RawTensor{grad}
}

// MSEOp represents mean squared error: mean((pred - target)^2).
//
// Backward pass:
//   - grad_pred   = 2 * (pred - target) / N * outputGrad
//   - grad_target = -grad_pred
type MSEOp struct{ base }

// NewMSEOp creates a new MSEOp.
func NewMSEOp(pred, target, output *tensor.RawTensor) *MSEOp {
	return &MSEOp{base{[]*tensor.RawTensor{pred, target}, output}}
}

// Backward computes gradients for both operands.
func (op *MSEOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	pred, target := op.inputs[0], op.inputs[1]
	gradPred := tensor.MustRaw(pred.Shape())
	gradTarget := tensor.MustRaw(target.Shape())
	n := pred.NumElements()
	if n == 0 {
		return []*tensor.RawTensor{gradPred, gradTarget}
	}
	scale := 2 * outputGrad.Data()[0] / float32(n)
	pd, td := pred.Data(), target.Data()
	gp, gt := gradPred.Data(), gradTarget.Data()
	for i := range pd {
		d := scale * (pd[i] - td[i])
		gp[i] = d
		gt[i] = -d
	}
	return []*tensor.RawTensor{gradPred, gradTarget}
}

// BinaryEntropyOp represents the code-bit entropy penalty
//
//	L = mean_{n,d} H(p[n,d]) - mean_d H(mean_n p[n,d]),  p = sigmoid(2z/T)
//
// Backward pass, with H'(p) = ln((1-p)/p) and dp/dz = p(1-p) * 2/T:
//
//	grad_z[n,d] = g / (N*D) * (H'(p[n,d]) - H'(pbar[d])) * p(1-p) * 2/T
type BinaryEntropyOp struct {
	base
	temperature float32
}

// NewBinaryEntropyOp creates a new BinaryEntropyOp.
func NewBinaryEntropyOp(z, output *tensor.RawTensor, temperature float32) *BinaryEntropyOp {
	return &BinaryEntropyOp{base{[]*tensor.RawTensor{z}, output}, temperature}
}

// Backward computes the entropy gradient with respect to the logits.
func (op *BinaryEntropyOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	z := op.inputs[0]
	grad := tensor.MustRaw(z.Shape())
	shape := z.Shape()
	n, d := shape[0], shape[1]
	if n == 0 || d == 0 {
		return []*tensor.RawTensor{grad}
	}

	scale := 2 / float64(op.temperature)
	zd := z.Data()
	p := make([]float64, len(zd))
	avg := make([]float64, d)
	for i, v := range zd {
		p[i] = 1 / (1 + math.Exp(-scale*float64(v)))
		avg[i%d] += p[i]
	}
	for j := range avg {
		avg[j] /= float64(n)
	}

	g := float64(outputGrad.Data()[0]) / float64(n*d)
	gd := grad.Data()
	for i, pi := range p {
		dp := pi * (1 - pi) * scale
		gd[i] = float32(g * (entropyDerivative(pi) - entropyDerivative(avg[i%d])) * dp)
	}
	return []*tensor.RawTensor{grad}
}

// entropyDerivative returns dH/dp = ln((1-p)/p), clamped like the forward pass.
func entropyDerivative(p float64) float64 {
	const eps = 1e-7
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log((1 - p) / p)
}
