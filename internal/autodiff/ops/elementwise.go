package ops

import "github.com/born-ml/vqtokenizer/internal/tensor"

// AddOp represents element-wise addition: output = a + b.
//
// Backward pass:
//   - d(a+b)/da = 1, so grad_a = outputGrad
//   - d(a+b)/db = 1, so grad_b = outputGrad
//
// If broadcasting occurred, gradients are summed over the broadcast dimensions.
type AddOp struct{ base }

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{base{[]*tensor.RawTensor{a, b}, output}}
}

// Backward computes input gradients for addition.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, a.Shape()),
		reduceBroadcast(outputGrad, b.Shape()),
	}
}

// SubOp represents element-wise subtraction: output = a - b.
type SubOp struct{ base }

// NewSubOp creates a new SubOp.
func NewSubOp(a, b, output *tensor.RawTensor) *SubOp {
	return &SubOp{base{[]*tensor.RawTensor{a, b}, output}}
}

// Backward computes input gradients for subtraction.
func (op *SubOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	gradB := reduceBroadcast(outputGrad, b.Shape())
	for i, v := range gradB.Data() {
		gradB.Data()[i] = -v
	}
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, a.Shape()),
		gradB,
	}
}

// MulOp represents element-wise multiplication: output = a * b.
//
// Backward pass:
//   - grad_a = outputGrad * b
//   - grad_b = outputGrad * a
type MulOp struct{ base }

// NewMulOp creates a new MulOp.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{base{[]*tensor.RawTensor{a, b}, output}}
}

// Backward computes input gradients for multiplication.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	outShape := outputGrad.Shape()
	sa := tensor.BroadcastStrides(a.Shape(), outShape)
	sb := tensor.BroadcastStrides(b.Shape(), outShape)

	gradA := tensor.MustRaw(a.Shape())
	gradB := tensor.MustRaw(b.Shape())
	g, ad, bd := outputGrad.Data(), a.Data(), b.Data()
	ga, gb := gradA.Data(), gradB.Data()
	tensor.ForEachBroadcast(outShape, sa, sb, func(i, ia, ib int) {
		ga[ia] += g[i] * bd[ib]
		gb[ib] += g[i] * ad[ia]
	})
	return []*tensor.RawTensor{gradA, gradB}
}

// MulScalarOp represents multiplication by a constant: output = x * s.
type MulScalarOp struct {
	base
	scalar float32
}

// NewMulScalarOp creates a new MulScalarOp.
func NewMulScalarOp(x, output *tensor.RawTensor, s float32) *MulScalarOp {
	return &MulScalarOp{base{[]*tensor.RawTensor{x}, output}, s}
}

// Backward computes grad_x = outputGrad * s.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}
