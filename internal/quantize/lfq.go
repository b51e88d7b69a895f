package quantize

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/nn"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// MaxLFQBits bounds the latent width of LFQ so codes fit comfortably in an int.
const MaxLFQBits = 24

// LFQ is lookup-free quantization: every latent coordinate is binarized
// independently, so the implicit codebook is {-1, +1}^latent and
// num_embeddings = 2^latent.
//
// Coordinate d contributes bit d (set iff z_d > 0) to the code
//
//	index = Σ_d bit_d · 2^d
//
// The forward value is the hard ±1 vector; gradients reach z through the
// soft relaxation tanh(z / temperature). The loss is
//
//	commitment * mse(z, hard) + entropyWeight * (E[H(p)] - H(E[p]))
//
// where the optional entropy term sharpens per-sample bits while keeping
// code usage spread across the batch.
type LFQ struct {
	dim           int
	temperature   float32
	commitment    float32
	entropyWeight float32
	backend       tensor.Backend
}

// NewLFQ creates an LFQ quantizer over dim bits.
func NewLFQ(dim int, temperature, commitment, entropyWeight float32, backend tensor.Backend) *LFQ {
	if dim <= 0 || dim > MaxLFQBits {
		panic(fmt.Sprintf("LFQ: latent dim must be in [1, %d], got %d", MaxLFQBits, dim))
	}
	if temperature <= 0 {
		panic(fmt.Sprintf("LFQ: temperature must be positive, got %v", temperature))
	}
	return &LFQ{
		dim:           dim,
		temperature:   temperature,
		commitment:    commitment,
		entropyWeight: entropyWeight,
		backend:       backend,
	}
}

// NumEmbeddings returns 2^dim.
func (q *LFQ) NumEmbeddings() int {
	return 1 << q.dim
}

// Parameters returns nil: the codebook is implicit.
func (q *LFQ) Parameters() []*nn.Parameter {
	return nil
}

// Code returns the integer code of one latent vector.
func (q *LFQ) Code(v []float32) int {
	code := 0
	for d, x := range v {
		if x > 0 {
			code |= 1 << d
		}
	}
	return code
}

// Quantize binarizes every row of z.
func (q *LFQ) Quantize(z *tensor.Tensor) *Output {
	n, d := rows(z, q.dim, "LFQ")

	indices := make([]int, n)
	zd := z.Data()
	hard := tensor.Zeros(z.Shape(), z.Backend())
	hd := hard.Data()
	for i := range indices {
		row := zd[i*d : (i+1)*d]
		indices[i] = q.Code(row)
		for j, x := range row {
			if x > 0 {
				hd[i*d+j] = 1
			} else {
				hd[i*d+j] = -1
			}
		}
	}

	soft := z.MulScalar(1 / q.temperature).Tanh()
	loss := z.MSE(hard).MulScalar(q.commitment)
	if q.entropyWeight > 0 {
		loss = loss.Add(z.BinaryEntropy(q.temperature).MulScalar(q.entropyWeight))
	}

	return &Output{
		Quantized: tensor.StraightThrough(hard, soft),
		Loss:      loss,
		Indices:   indices,
	}
}

// Lookup rebuilds the ±1 vectors for codes.
func (q *LFQ) Lookup(indices []int) *tensor.Tensor {
	out := make([]float32, len(indices)*q.dim)
	for i, code := range indices {
		if code < 0 || code >= q.NumEmbeddings() {
			panic(fmt.Sprintf("LFQ: code %d out of range [0, %d)", code, q.NumEmbeddings()))
		}
		for j := 0; j < q.dim; j++ {
			if code&(1<<j) != 0 {
				out[i*q.dim+j] = 1
			} else {
				out[i*q.dim+j] = -1
			}
		}
	}
	return tensor.MustFromSlice(out, tensor.Shape{len(indices), q.dim}, q.backend)
}
