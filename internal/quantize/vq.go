package quantize

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/nn"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// VQ is a vector quantizer with an explicit, trainable codebook.
//
// Each latent row z is replaced by its nearest codebook vector e under
// squared Euclidean distance, ties going to the lowest index. The loss is
//
//	mse(e, sg(z)) + commitment * mse(z, sg(e))
//
// where sg stops gradients: the first term moves the codebook toward the
// encoder output, the second keeps the encoder committed to its code.
type VQ struct {
	codebook      *nn.Parameter // [num_embeddings, latent]
	numEmbeddings int
	dim           int
	commitment    float32
}

// NewVQ creates a VQ quantizer. Codebook entries start in
// U(-1/numEmbeddings, 1/numEmbeddings).
func NewVQ(numEmbeddings, dim int, commitment float32, rng *rand.Rand, backend tensor.Backend) *VQ {
	if numEmbeddings <= 0 || dim <= 0 {
		panic(fmt.Sprintf("VQ: invalid codebook %dx%d", numEmbeddings, dim))
	}
	bound := 1 / float64(numEmbeddings)
	return &VQ{
		codebook:      nn.NewParameter("quantizer.codebook", nn.Uniform(rng, -bound, bound, tensor.Shape{numEmbeddings, dim}, backend)),
		numEmbeddings: numEmbeddings,
		dim:           dim,
		commitment:    commitment,
	}
}

// Codebook returns the codebook parameter.
func (q *VQ) Codebook() *nn.Parameter {
	return q.codebook
}

// NumEmbeddings returns the codebook size.
func (q *VQ) NumEmbeddings() int {
	return q.numEmbeddings
}

// Parameters returns the codebook.
func (q *VQ) Parameters() []*nn.Parameter {
	return []*nn.Parameter{q.codebook}
}

// Nearest returns the index of the codebook vector closest to v and the
// squared distance to it.
func (q *VQ) Nearest(v []float32) (int, float64) {
	cb := q.codebook.Tensor().Data()
	best, bestDist := 0, math.Inf(1)
	for k := 0; k < q.numEmbeddings; k++ {
		e := cb[k*q.dim : (k+1)*q.dim]
		var d float64
		for j, x := range v {
			diff := float64(x) - float64(e[j])
			d += diff * diff
		}
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	return best, bestDist
}

// Quantize assigns every row of z to its nearest code.
func (q *VQ) Quantize(z *tensor.Tensor) *Output {
	n, d := rows(z, q.dim, "VQ")

	indices := make([]int, n)
	zd := z.Data()
	for i := range indices {
		indices[i], _ = q.Nearest(zd[i*d : (i+1)*d])
	}

	selected := q.codebook.Tensor().IndexSelect(indices)
	codebookLoss := selected.MSE(z.Detach())
	commitmentLoss := z.MSE(selected.Detach()).MulScalar(q.commitment)

	return &Output{
		Quantized: tensor.StraightThrough(selected.Detach(), z),
		Loss:      codebookLoss.Add(commitmentLoss),
		Indices:   indices,
	}
}

// Lookup returns the codebook rows for indices.
func (q *VQ) Lookup(indices []int) *tensor.Tensor {
	for _, i := range indices {
		if i < 0 || i >= q.numEmbeddings {
			panic(fmt.Sprintf("VQ: code %d out of range [0, %d)", i, q.numEmbeddings))
		}
	}
	return q.codebook.Tensor().IndexSelect(indices).Detach()
}
