package nn

import (
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// FFN is the position-wise feed-forward block of a transformer layer:
//
//	FFN(x) = Linear2(ReLU(Linear1(x)))
//
// Linear1 expands embed_dim to ffn_dim and Linear2 projects back.
type FFN struct {
	Linear1 *Linear
	Linear2 *Linear
}

// NewFFN creates a feed-forward block named name.
func NewFFN(name string, embedDim, ffnDim int, rng *rand.Rand, backend tensor.Backend) *FFN {
	return &FFN{
		Linear1: NewLinear(join(name, "linear1"), embedDim, ffnDim, rng, backend),
		Linear2: NewLinear(join(name, "linear2"), ffnDim, embedDim, rng, backend),
	}
}

// Forward applies the block to [..., embed_dim] input.
func (f *FFN) Forward(x *tensor.Tensor) *tensor.Tensor {
	return f.Linear2.Forward(f.Linear1.Forward(x).ReLU())
}

// Parameters returns the parameters of both projections.
func (f *FFN) Parameters() []*Parameter {
	return append(f.Linear1.Parameters(), f.Linear2.Parameters()...)
}
