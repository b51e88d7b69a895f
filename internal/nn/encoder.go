package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// SequenceEncoderConfig configures a SequenceEncoder.
type SequenceEncoderConfig struct {
	InputDim    int  // Patch width
	MaxSeqLen   int  // Longest sequence the positional table must cover
	Positional  bool // Add sinusoidal positional encodings after the input projection
	Transformer TransformerConfig
}

// SequenceEncoder maps a patch sequence to hidden vectors:
//
//	x [batch, seq, input] → Linear → (+PE) → TransformerEncoder → [batch, seq, hidden]
type SequenceEncoder struct {
	Input      *Linear
	Positional *SinusoidalPositionalEncoding // nil when disabled
	Encoder    *TransformerEncoder
}

// NewSequenceEncoder creates an encoder whose parameters live under name.
func NewSequenceEncoder(name string, cfg SequenceEncoderConfig, rng *rand.Rand, backend tensor.Backend) *SequenceEncoder {
	if cfg.InputDim <= 0 {
		panic(fmt.Sprintf("SequenceEncoder: input_dim must be positive, got %d", cfg.InputDim))
	}
	e := &SequenceEncoder{
		Input:   NewLinear(join(name, "input"), cfg.InputDim, cfg.Transformer.EmbedDim, rng, backend),
		Encoder: NewTransformerEncoder(name, cfg.Transformer, rng, backend),
	}
	if cfg.Positional {
		e.Positional = NewSinusoidalPositionalEncoding(max(cfg.MaxSeqLen, 1), cfg.Transformer.EmbedDim)
	}
	return e
}

// Forward encodes x [batch, seq, input_dim] with an optional key padding mask.
func (e *SequenceEncoder) Forward(x *tensor.Tensor, valid []bool) *tensor.Tensor {
	h := e.Input.Forward(x)
	if e.Positional != nil {
		h = h.Add(e.Positional.Forward(x.Shape()[1], x.Backend()))
	}
	return e.Encoder.Forward(h, valid)
}

// Parameters returns the input projection and encoder parameters.
func (e *SequenceEncoder) Parameters() []*Parameter {
	return append(e.Input.Parameters(), e.Encoder.Parameters()...)
}
