package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// TransformerConfig defines the configuration of a TransformerEncoder.
type TransformerConfig struct {
	EmbedDim  int     // d_model
	NumHeads  int     // Number of attention heads
	FFNDim    int     // FFN hidden dimension (2 * EmbedDim by default)
	NumLayers int     // Number of stacked encoder layers
	NormEps   float32 // LayerNorm epsilon (1e-5 typical)
}

// TransformerEncoderLayer is one post-norm encoder layer (original Transformer):
//
//	x → MHA → + → LayerNorm → FFN → + → LayerNorm → output
//	     ↑___|                 ↑___|
//	   (residual)            (residual)
type TransformerEncoderLayer struct {
	Attention *MultiHeadAttention
	AttnNorm  *LayerNorm
	FFN       *FFN
	FFNNorm   *LayerNorm
}

// NewTransformerEncoderLayer creates an encoder layer named name.
func NewTransformerEncoderLayer(name string, cfg TransformerConfig, rng *rand.Rand, backend tensor.Backend) *TransformerEncoderLayer {
	return &TransformerEncoderLayer{
		Attention: NewMultiHeadAttention(join(name, "attn"), cfg.EmbedDim, cfg.NumHeads, rng, backend),
		AttnNorm:  NewLayerNorm(join(name, "norm1"), cfg.EmbedDim, cfg.NormEps, backend),
		FFN:       NewFFN(join(name, "ffn"), cfg.EmbedDim, cfg.FFNDim, rng, backend),
		FFNNorm:   NewLayerNorm(join(name, "norm2"), cfg.EmbedDim, cfg.NormEps, backend),
	}
}

// Forward applies the layer to x [batch, seq, embed_dim] with an optional
// key padding mask (see MultiHeadAttention.Forward).
func (l *TransformerEncoderLayer) Forward(x *tensor.Tensor, valid []bool) *tensor.Tensor {
	h := l.AttnNorm.Forward(x.Add(l.Attention.Forward(x, valid)))
	return l.FFNNorm.Forward(h.Add(l.FFN.Forward(h)))
}

// Parameters returns all parameters of the layer.
func (l *TransformerEncoderLayer) Parameters() []*Parameter {
	var params []*Parameter
	params = append(params, l.Attention.Parameters()...)
	params = append(params, l.AttnNorm.Parameters()...)
	params = append(params, l.FFN.Parameters()...)
	params = append(params, l.FFNNorm.Parameters()...)
	return params
}

// TransformerEncoder stacks NumLayers encoder layers.
//
// Example:
//
//	enc := nn.NewTransformerEncoder("encoder", nn.TransformerConfig{
//	    EmbedDim: 768, NumHeads: 16, FFNDim: 1536, NumLayers: 2, NormEps: 1e-5,
//	}, rng, backend)
//	hidden := enc.Forward(x, mask) // [batch, seq, 768]
type TransformerEncoder struct {
	Config TransformerConfig
	Layers []*TransformerEncoderLayer
}

// NewTransformerEncoder creates an encoder whose layers are named
// name.layers.<i>.
func NewTransformerEncoder(name string, cfg TransformerConfig, rng *rand.Rand, backend tensor.Backend) *TransformerEncoder {
	if cfg.NumLayers <= 0 {
		panic(fmt.Sprintf("TransformerEncoder: num_layers must be positive, got %d", cfg.NumLayers))
	}
	if cfg.FFNDim == 0 {
		cfg.FFNDim = 2 * cfg.EmbedDim
	}
	if cfg.NormEps == 0 {
		cfg.NormEps = 1e-5
	}
	layers := make([]*TransformerEncoderLayer, cfg.NumLayers)
	for i := range layers {
		layers[i] = NewTransformerEncoderLayer(join(name, fmt.Sprintf("layers.%d", i)), cfg, rng, backend)
	}
	return &TransformerEncoder{Config: cfg, Layers: layers}
}

// Forward runs x through every layer.
func (e *TransformerEncoder) Forward(x *tensor.Tensor, valid []bool) *tensor.Tensor {
	for _, l := range e.Layers {
		x = l.Forward(x, valid)
	}
	return x
}

// Parameters returns all parameters, layer by layer.
func (e *TransformerEncoder) Parameters() []*Parameter {
	var params []*Parameter
	for _, l := range e.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}
