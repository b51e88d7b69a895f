package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// maskedScore is added to attention scores of padded keys.
const maskedScore = -1e9

// MultiHeadAttention implements multi-head self-attention.
//
// Architecture:
//
//	MHA(X) = Concat(head_1, ..., head_h) * W_O
//	head_i = softmax(Q_i K_i^T / sqrt(d_head) + mask) V_i
//
// Example:
//
//	mha := nn.NewMultiHeadAttention("attn", 768, 16, rng, backend)
//	output := mha.Forward(x, padMask) // [batch, seq, 768]
type MultiHeadAttention struct {
	WQ       *Linear // Query projection [embed_dim, embed_dim]
	WK       *Linear // Key projection [embed_dim, embed_dim]
	WV       *Linear // Value projection [embed_dim, embed_dim]
	WO       *Linear // Output projection [embed_dim, embed_dim]
	NumHeads int
	HeadDim  int
	EmbedDim int
}

// NewMultiHeadAttention creates a new multi-head attention module.
// embedDim must be divisible by numHeads.
func NewMultiHeadAttention(name string, embedDim, numHeads int, rng *rand.Rand, backend tensor.Backend) *MultiHeadAttention {
	if numHeads <= 0 || embedDim%numHeads != 0 {
		panic(fmt.Sprintf("MultiHeadAttention: embed_dim (%d) must be divisible by num_heads (%d)", embedDim, numHeads))
	}
	return &MultiHeadAttention{
		WQ:       NewLinear(join(name, "wq"), embedDim, embedDim, rng, backend),
		WK:       NewLinear(join(name, "wk"), embedDim, embedDim, rng, backend),
		WV:       NewLinear(join(name, "wv"), embedDim, embedDim, rng, backend),
		WO:       NewLinear(join(name, "wo"), embedDim, embedDim, rng, backend),
		NumHeads: numHeads,
		HeadDim:  embedDim / numHeads,
		EmbedDim: embedDim,
	}
}

// Forward computes self-attention over x [batch, seq, embed_dim].
//
// valid is an optional key padding mask of length batch*seq in row-major
// order; keys marked false are excluded from every query's softmax.
// A nil mask attends to all positions.
func (m *MultiHeadAttention) Forward(x *tensor.Tensor, valid []bool) *tensor.Tensor {
	shape := x.Shape()
	if len(shape) != 3 || shape[2] != m.EmbedDim {
		panic(fmt.Sprintf("MultiHeadAttention: expected [batch, seq, %d], got %v", m.EmbedDim, shape))
	}
	batch, seq := shape[0], shape[1]

	// [batch, seq, embed] -> [batch, heads, seq, head_dim]
	split := func(t *tensor.Tensor) *tensor.Tensor {
		return t.Reshape(batch, seq, m.NumHeads, m.HeadDim).Transpose(0, 2, 1, 3)
	}
	q := split(m.WQ.Forward(x))
	k := split(m.WK.Forward(x))
	v := split(m.WV.Forward(x))

	scores := q.BatchMatMul(k.Transpose()).MulScalar(float32(1 / math.Sqrt(float64(m.HeadDim))))
	if valid != nil {
		scores = scores.Add(keyPaddingBias(valid, batch, seq, x.Backend()))
	}
	attn := scores.Softmax().BatchMatMul(v)

	out := attn.Transpose(0, 2, 1, 3).Reshape(batch, seq, m.EmbedDim)
	return m.WO.Forward(out)
}

// Parameters returns the parameters of all four projections.
func (m *MultiHeadAttention) Parameters() []*Parameter {
	params := make([]*Parameter, 0, 8)
	for _, l := range []*Linear{m.WQ, m.WK, m.WV, m.WO} {
		params = append(params, l.Parameters()...)
	}
	return params
}

// keyPaddingBias builds an additive [batch, 1, 1, seq] mask.
func keyPaddingBias(valid []bool, batch, seq int, backend tensor.Backend) *tensor.Tensor {
	if len(valid) != batch*seq {
		panic(fmt.Sprintf("MultiHeadAttention: mask length %d, want %d", len(valid), batch*seq))
	}
	bias := tensor.Zeros(tensor.Shape{batch, 1, 1, seq}, backend)
	data := bias.Data()
	for i, ok := range valid {
		if !ok {
			data[i] = maskedScore
		}
	}
	return bias
}
