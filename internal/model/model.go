// Package model assembles the tokenizer: sequence encoder, latent
// projection, quantization bottleneck and MLP decoder.
package model

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/vqtokenizer/internal/data"
	"github.com/born-ml/vqtokenizer/internal/nn"
	"github.com/born-ml/vqtokenizer/internal/quantize"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Tokenizer kinds.
const (
	KindVQ  = "vq"
	KindLFQ = "lfq"
)

// ErrUnknownKind is returned for a tokenizer kind other than vq or lfq.
var ErrUnknownKind = errors.New("model: unknown tokenizer kind")

// Config describes a tokenizer architecture.
type Config struct {
	Kind           string
	InputDim       int // Patch width (4 * patch size)
	HiddenDim      int
	LatentDim      int
	NumEmbeddings  int // VQ codebook size; LFQ derives 2^LatentDim
	NumHeads       int
	NumLayers      int
	MaxSeqLen      int
	Positional     bool
	CommitmentCost float32
	Temperature    float32 // LFQ
	EntropyWeight  float32 // LFQ
	Seed           int64
}

// Tokenizer maps patch sequences to discrete codes and back.
//
//	patches → SequenceEncoder → Linear(hidden→latent) → Quantizer → MLP decoder
type Tokenizer struct {
	cfg        Config
	backend    tensor.Backend
	Encoder    *nn.SequenceEncoder
	Projection *nn.Linear
	Quantizer  quantize.Quantizer
	Decoder    *nn.Sequential
}

// Output is one forward pass over the valid patches of a batch.
type Output struct {
	Reconstruction *tensor.Tensor // [valid, input]
	Target         *tensor.Tensor // [valid, input]
	ReconLoss      *tensor.Tensor // mse(Reconstruction, Target)
	QuantLoss      *tensor.Tensor // quantizer auxiliary loss
	Total          *tensor.Tensor // ReconLoss + QuantLoss
	Indices        []int          // one code per valid patch
}

// New builds a tokenizer with weights drawn from cfg.Seed.
func New(cfg Config, backend tensor.Backend) (*Tokenizer, error) {
	if cfg.InputDim <= 0 || cfg.HiddenDim <= 0 || cfg.LatentDim <= 0 {
		return nil, errors.Errorf("model: dimensions must be positive (input %d, hidden %d, latent %d)",
			cfg.InputDim, cfg.HiddenDim, cfg.LatentDim)
	}
	if cfg.NumHeads <= 0 || cfg.HiddenDim%cfg.NumHeads != 0 {
		return nil, errors.Errorf("model: hidden_dim %d not divisible by nhead %d", cfg.HiddenDim, cfg.NumHeads)
	}
	if cfg.NumLayers <= 0 {
		cfg.NumLayers = 3
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var q quantize.Quantizer
	switch cfg.Kind {
	case KindVQ:
		if cfg.NumEmbeddings <= 0 {
			return nil, errors.Errorf("model: num_embeddings must be positive, got %d", cfg.NumEmbeddings)
		}
		q = quantize.NewVQ(cfg.NumEmbeddings, cfg.LatentDim, cfg.CommitmentCost, rng, backend)
	case KindLFQ:
		if cfg.LatentDim > quantize.MaxLFQBits {
			return nil, errors.Errorf("model: lfq latent_dim %d exceeds %d bits", cfg.LatentDim, quantize.MaxLFQBits)
		}
		if cfg.Temperature <= 0 {
			return nil, errors.Errorf("model: temperature must be positive, got %v", cfg.Temperature)
		}
		q = quantize.NewLFQ(cfg.LatentDim, cfg.Temperature, cfg.CommitmentCost, cfg.EntropyWeight, backend)
	default:
		return nil, errors.Wrap(ErrUnknownKind, cfg.Kind)
	}

	return &Tokenizer{
		cfg:     cfg,
		backend: backend,
		Encoder: nn.NewSequenceEncoder("encoder", nn.SequenceEncoderConfig{
			InputDim:   cfg.InputDim,
			MaxSeqLen:  cfg.MaxSeqLen,
			Positional: cfg.Positional,
			Transformer: nn.TransformerConfig{
				EmbedDim:  cfg.HiddenDim,
				NumHeads:  cfg.NumHeads,
				FFNDim:    2 * cfg.HiddenDim,
				NumLayers: cfg.NumLayers,
			},
		}, rng, backend),
		Projection: nn.NewLinear("projection", cfg.HiddenDim, cfg.LatentDim, rng, backend),
		Quantizer:  q,
		Decoder: nn.NewSequential(
			nn.NewLinear("decoder.fc1", cfg.LatentDim, cfg.HiddenDim, rng, backend),
			nn.NewReLU(),
			nn.NewLinear("decoder.fc2", cfg.HiddenDim, cfg.InputDim, rng, backend),
		),
	}, nil
}

// Config returns the architecture the tokenizer was built with.
func (m *Tokenizer) Config() Config {
	return m.cfg
}

// Forward runs the batch through the model. Padded positions are dropped
// after the encoder, so losses and codes cover real patches only.
func (m *Tokenizer) Forward(b *data.Batch) *Output {
	if b.Width != m.cfg.InputDim {
		panic(fmt.Sprintf("model: batch width %d, model expects %d", b.Width, m.cfg.InputDim))
	}
	x := tensor.MustFromSlice(b.Inputs, tensor.Shape{b.Size, b.SeqLen, b.Width}, m.backend)

	valid := b.ValidIndices()
	var mask []bool
	if len(valid) < len(b.Mask) {
		mask = b.Mask
	}

	h := m.Encoder.Forward(x, mask).Reshape(b.Size*b.SeqLen, m.cfg.HiddenDim).IndexSelect(valid)
	z := m.Projection.Forward(h)
	q := m.Quantizer.Quantize(z)
	recon := m.Decoder.Forward(q.Quantized)

	target := gatherRows(b.Inputs, b.Width, valid, m.backend)
	reconLoss := recon.MSE(target)
	return &Output{
		Reconstruction: recon,
		Target:         target,
		ReconLoss:      reconLoss,
		QuantLoss:      q.Loss,
		Total:          reconLoss.Add(q.Loss),
		Indices:        q.Indices,
	}
}

// Encode returns one code per patch of a single sequence. Sequences longer
// than the configured maximum are encoded in consecutive chunks.
func (m *Tokenizer) Encode(patches [][]float32) []int {
	if len(patches) == 0 {
		return nil
	}
	chunk := m.cfg.MaxSeqLen
	if chunk <= 0 {
		chunk = len(patches)
	}
	codes := make([]int, 0, len(patches))
	for start := 0; start < len(patches); start += chunk {
		part := patches[start:min(start+chunk, len(patches))]
		b := &data.Batch{Size: 1, SeqLen: len(part), Width: m.cfg.InputDim, Mask: make([]bool, len(part))}
		for i, p := range part {
			if len(p) != m.cfg.InputDim {
				panic(fmt.Sprintf("model: patch %d has width %d, want %d", start+i, len(p), m.cfg.InputDim))
			}
			b.Inputs = append(b.Inputs, p...)
			b.Mask[i] = true
		}
		codes = append(codes, m.Forward(b).Indices...)
	}
	return codes
}

// Decode reconstructs one patch per code.
func (m *Tokenizer) Decode(indices []int) [][]float32 {
	if len(indices) == 0 {
		return nil
	}
	recon := m.Decoder.Forward(m.Quantizer.Lookup(indices)).Data()
	out := make([][]float32, len(indices))
	for i := range out {
		out[i] = append([]float32(nil), recon[i*m.cfg.InputDim:(i+1)*m.cfg.InputDim]...)
	}
	return out
}

// Parameters returns every trainable parameter.
func (m *Tokenizer) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	params = append(params, m.Encoder.Parameters()...)
	params = append(params, m.Projection.Parameters()...)
	params = append(params, m.Quantizer.Parameters()...)
	params = append(params, m.Decoder.Parameters()...)
	return params
}

// StateDict returns the raw tensors of every parameter by name.
func (m *Tokenizer) StateDict() map[string]*tensor.RawTensor {
	return nn.StateDict(m.Parameters())
}

// LoadStateDict copies saved weights into the model.
func (m *Tokenizer) LoadStateDict(state map[string]*tensor.RawTensor) error {
	return nn.LoadStateDict(m.Parameters(), state)
}

func gatherRows(src []float32, width int, rows []int, backend tensor.Backend) *tensor.Tensor {
	out := make([]float32, len(rows)*width)
	for i, r := range rows {
		copy(out[i*width:(i+1)*width], src[r*width:(r+1)*width])
	}
	return tensor.MustFromSlice(out, tensor.Shape{len(rows), width}, backend)
}
