package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// SinusoidalPositionalEncoding implements fixed sinusoidal positional encodings
// from "Attention is All You Need":
//
//	PE(pos, 2i)   = sin(pos / 10000^(2i/d))
//	PE(pos, 2i+1) = cos(pos / 10000^(2i/d))
//
// The encodings are not learned and carry no parameters.
type SinusoidalPositionalEncoding struct {
	encoding []float32 // [max_len, dim]
	MaxLen   int
	Dim      int
}

// NewSinusoidalPositionalEncoding pre-computes encodings up to maxLen.
func NewSinusoidalPositionalEncoding(maxLen, dim int) *SinusoidalPositionalEncoding {
	if maxLen <= 0 {
		panic(fmt.Sprintf("SinusoidalPositionalEncoding: maxLen must be positive, got %d", maxLen))
	}
	if dim <= 0 {
		panic(fmt.Sprintf("SinusoidalPositionalEncoding: dim must be positive, got %d", dim))
	}

	enc := make([]float32, maxLen*dim)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i++ {
			angle := float64(pos) / math.Pow(10000.0, float64(2*(i/2))/float64(dim))
			if i%2 == 0 {
				enc[pos*dim+i] = float32(math.Sin(angle))
			} else {
				enc[pos*dim+i] = float32(math.Cos(angle))
			}
		}
	}
	return &SinusoidalPositionalEncoding{encoding: enc, MaxLen: maxLen, Dim: dim}
}

// Forward returns encodings for the first seqLen positions with shape
// [1, seqLen, dim], ready to broadcast over a batch.
//
// Panics if seqLen > MaxLen.
func (s *SinusoidalPositionalEncoding) Forward(seqLen int, backend tensor.Backend) *tensor.Tensor {
	if seqLen > s.MaxLen {
		panic(fmt.Sprintf("SinusoidalPositionalEncoding: seqLen %d exceeds MaxLen %d", seqLen, s.MaxLen))
	}
	return tensor.MustFromSlice(s.encoding[:seqLen*s.Dim], tensor.Shape{1, seqLen, s.Dim}, backend)
}
