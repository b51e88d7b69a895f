package cpu

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Reshape returns a copy of t with a new shape of equal size.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v", t.Shape(), t.NumElements(), newShape))
	}
	return t.Clone().WithShape(newShape)
}

// Transpose permutes the dimensions of t. With no axes the last two
// dimensions are swapped.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	nd := len(shape)
	if len(axes) == 0 {
		if nd < 2 {
			panic(fmt.Sprintf("transpose: need at least 2 dimensions, got %v", shape))
		}
		axes = make([]int, nd)
		for i := range axes {
			axes[i] = i
		}
		axes[nd-2], axes[nd-1] = axes[nd-1], axes[nd-2]
	}
	if err := validatePermutation(axes, nd); err != nil {
		panic(fmt.Sprintf("transpose: %v", err))
	}

	outShape := make(tensor.Shape, nd)
	permuted := make([]int, nd)
	inStrides := t.Strides()
	for i, ax := range axes {
		outShape[i] = shape[ax]
		permuted[i] = inStrides[ax]
	}

	out := tensor.MustRaw(outShape)
	od, id := out.Data(), t.Data()
	tensor.ForEachBroadcast(outShape, permuted, make([]int, nd), func(i, src, _ int) {
		od[i] = id[src]
	})
	return out
}

func validatePermutation(axes []int, nd int) error {
	if len(axes) != nd {
		return fmt.Errorf("expected %d axes, got %d", nd, len(axes))
	}
	seen := make([]bool, nd)
	for _, ax := range axes {
		if ax < 0 || ax >= nd || seen[ax] {
			return fmt.Errorf("invalid permutation %v", axes)
		}
		seen[ax] = true
	}
	return nil
}
