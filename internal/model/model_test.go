package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vqtokenizer/internal/autodiff"
	"github.com/born-ml/vqtokenizer/internal/backend/cpu"
	"github.com/born-ml/vqtokenizer/internal/data"
	"github.com/born-ml/vqtokenizer/internal/model"
	"github.com/born-ml/vqtokenizer/internal/optim"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

func smallConfig(kind string) model.Config {
	return model.Config{
		Kind:           kind,
		InputDim:       8,
		HiddenDim:      8,
		LatentDim:      4,
		NumEmbeddings:  16,
		NumHeads:       2,
		NumLayers:      1,
		MaxSeqLen:      4,
		Positional:     true,
		CommitmentCost: 0.25,
		Temperature:    1,
		EntropyWeight:  0.1,
		Seed:           1,
	}
}

// paddedBatch has two sequences of lengths 3 and 2 padded to 3.
func paddedBatch() *data.Batch {
	b := &data.Batch{Size: 2, SeqLen: 3, Width: 8, Mask: []bool{true, true, true, true, true, false}}
	for i := 0; i < 2*3*8; i++ {
		b.Inputs = append(b.Inputs, float32(math.Sin(float64(i)*0.37)))
	}
	return b
}

func patches(n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, 8)
		for j := range out[i] {
			out[i][j] = float32(math.Cos(float64(i*8+j) * 0.21))
		}
	}
	return out
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := smallConfig("pq")
	_, err := model.New(cfg, cpu.New())
	assert.ErrorIs(t, err, model.ErrUnknownKind)

	cfg = smallConfig(model.KindVQ)
	cfg.NumHeads = 3
	_, err = model.New(cfg, cpu.New())
	assert.Error(t, err)

	cfg = smallConfig(model.KindLFQ)
	cfg.LatentDim = 30
	_, err = model.New(cfg, cpu.New())
	assert.Error(t, err)
}

func TestForwardDropsPadding(t *testing.T) {
	for _, kind := range []string{model.KindVQ, model.KindLFQ} {
		t.Run(kind, func(t *testing.T) {
			m, err := model.New(smallConfig(kind), cpu.New())
			require.NoError(t, err)

			out := m.Forward(paddedBatch())
			assert.Equal(t, tensor.Shape{5, 8}, out.Reconstruction.Shape())
			assert.Equal(t, tensor.Shape{5, 8}, out.Target.Shape())
			assert.Len(t, out.Indices, 5)
			for _, idx := range out.Indices {
				assert.GreaterOrEqual(t, idx, 0)
				assert.Less(t, idx, m.Quantizer.NumEmbeddings())
			}
			assert.InDelta(t, out.ReconLoss.Item()+out.QuantLoss.Item(), out.Total.Item(), 1e-5)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	m, err := model.New(smallConfig(model.KindVQ), cpu.New())
	require.NoError(t, err)

	// 6 patches with MaxSeqLen 4 are encoded as chunks of 4 and 2.
	codes := m.Encode(patches(6))
	require.Len(t, codes, 6)
	assert.Equal(t, codes[4:], m.Encode(patches(6)[4:]))

	recon := m.Decode(codes)
	require.Len(t, recon, 6)
	for _, r := range recon {
		assert.Len(t, r, 8)
	}
	assert.Nil(t, m.Encode(nil))
	assert.Nil(t, m.Decode(nil))
}

func TestStateDictRoundTrip(t *testing.T) {
	for _, kind := range []string{model.KindVQ, model.KindLFQ} {
		t.Run(kind, func(t *testing.T) {
			a, err := model.New(smallConfig(kind), cpu.New())
			require.NoError(t, err)
			cfg := smallConfig(kind)
			cfg.Seed = 99
			b, err := model.New(cfg, cpu.New())
			require.NoError(t, err)

			require.NoError(t, b.LoadStateDict(a.StateDict()))
			in := patches(4)
			assert.Equal(t, a.Encode(in), b.Encode(in))
			assert.Equal(t, a.Decode([]int{1, 2}), b.Decode([]int{1, 2}))
		})
	}
}

func TestStateDictNames(t *testing.T) {
	m, err := model.New(smallConfig(model.KindVQ), cpu.New())
	require.NoError(t, err)
	named := m.StateDict()
	for _, name := range []string{
		"encoder.input.weight",
		"projection.weight",
		"quantizer.codebook",
		"decoder.fc1.weight",
		"decoder.fc2.bias",
	} {
		assert.Contains(t, named, name)
	}
	assert.Len(t, named, len(m.Parameters()))
}

func TestTrainingReducesLoss(t *testing.T) {
	for _, kind := range []string{model.KindVQ, model.KindLFQ} {
		t.Run(kind, func(t *testing.T) {
			backend := autodiff.New(cpu.New())
			m, err := model.New(smallConfig(kind), backend)
			require.NoError(t, err)
			opt := optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: 0.01})
			batch := paddedBatch()

			var first, last float32
			for step := 0; step < 40; step++ {
				backend.Tape().StartRecording()
				out := m.Forward(batch)
				grads := autodiff.Backward(out.ReconLoss, backend)
				if step == 0 {
					first = out.ReconLoss.Item()
					assert.Contains(t, grads, m.Encoder.Input.Weight().Tensor().Raw())
				}
				last = out.ReconLoss.Item()
				opt.Step(grads)
				backend.Tape().Clear()
			}
			assert.Less(t, last, first)
		})
	}
}
