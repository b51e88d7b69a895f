package ops

import "github.com/born-ml/vqtokenizer/internal/tensor"

// IndexSelectOp represents a row gather: out[i] = x[indices[i]].
//
// Backward pass scatters each output row gradient back to the row it came
// from, accumulating when an index repeats.
type IndexSelectOp struct {
	base
	indices []int
}

// NewIndexSelectOp creates a new IndexSelectOp.
func NewIndexSelectOp(x, output *tensor.RawTensor, indices []int) *IndexSelectOp {
	return &IndexSelectOp{base{[]*tensor.RawTensor{x}, output}, append([]int(nil), indices...)}
}

// Backward scatter-adds outputGrad into a zero tensor shaped like x.
func (op *IndexSelectOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	x := op.inputs[0]
	grad := tensor.MustRaw(x.Shape())
	cols := x.Shape()[1]
	g, gd := outputGrad.Data(), grad.Data()
	for i, idx := range op.indices {
		dst := gd[idx*cols : (idx+1)*cols]
		src := g[i*cols : (i+1)*cols]
		for j := range dst {
			dst[j] += src[j]
		}
	}
	return []*tensor.RawTensor{grad}
}

// StraightThroughOp carries the value of one tensor forward while passing
// the gradient unchanged to another. Only the "through" tensor is an input;
// the value tensor is treated as a constant.
type StraightThroughOp struct{ base }

// NewStraightThroughOp creates a new StraightThroughOp.
func NewStraightThroughOp(through, output *tensor.RawTensor) *StraightThroughOp {
	return &StraightThroughOp{base{[]*tensor.RawTensor{through}, output}}
}

// Backward passes outputGrad through as identity.
func (op *StraightThroughOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad.Clone()}
}
