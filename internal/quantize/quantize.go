// Package quantize implements the discrete bottleneck of the tokenizer.
//
// Both variants satisfy Quantizer: a continuous latent batch goes in, and
// out come the quantized vectors used downstream, a scalar auxiliary loss
// and one integer code per row. The quantized output carries the value of
// the discrete code while its gradient flows to the continuous input
// unchanged (straight-through estimator), so the encoder and decoder never
// see which variant is in use.
package quantize

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/nn"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Quantizer maps continuous latents to discrete codes.
type Quantizer interface {
	// Quantize maps z [N, latent] to codes. Output.Quantized has z's shape.
	Quantize(z *tensor.Tensor) *Output

	// Lookup returns the quantized vectors [len(indices), latent] for codes.
	Lookup(indices []int) *tensor.Tensor

	// NumEmbeddings is the size of the code space.
	NumEmbeddings() int

	// Parameters returns trainable state (empty for LFQ).
	Parameters() []*nn.Parameter
}

// Output is the result of quantizing a batch.
type Output struct {
	Quantized *tensor.Tensor // [N, latent]
	Loss      *tensor.Tensor // scalar
	Indices   []int          // one code per row
}

// UniqueCodes returns the number of distinct codes in indices.
func UniqueCodes(indices []int) int {
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		seen[i] = struct{}{}
	}
	return len(seen)
}

// Histogram counts how often each code occurs.
func Histogram(indices []int) map[int]int {
	h := make(map[int]int)
	for _, i := range indices {
		h[i]++
	}
	return h
}

// rows validates that z is 2D and returns its dimensions.
func rows(z *tensor.Tensor, latent int, who string) (n, d int) {
	shape := z.Shape()
	if len(shape) != 2 || shape[1] != latent {
		panic(fmt.Sprintf("%s: expected [N, %d] input, got %v", who, latent, shape))
	}
	return shape[0], shape[1]
}
