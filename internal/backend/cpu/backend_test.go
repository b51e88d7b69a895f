package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/vqtokenizer/internal/parallel"
	"github.com/born-ml/vqtokenizer/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(tensor.Shape(shape))
	require.NoError(t, err)
	copy(r.Data(), data)
	return r
}

func TestAdd_SameShape(t *testing.T) {
	b := New()
	out := b.Add(raw(t, []float32{1, 2, 3}, 3), raw(t, []float32{10, 20, 30}, 3))
	assert.Equal(t, []float32{11, 22, 33}, out.Data())
}

func TestAdd_Broadcast(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	bias := raw(t, []float32{10, 20, 30}, 3)

	out := b.Add(x, bias)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.Data())

	col := raw(t, []float32{100, 200}, 2, 1)
	out = b.Add(x, col)
	assert.Equal(t, []float32{101, 102, 103, 204, 205, 206}, out.Data())
}

func TestAdd_IncompatiblePanics(t *testing.T) {
	b := New()
	assert.Panics(t, func() {
		b.Add(raw(t, make([]float32, 6), 2, 3), raw(t, make([]float32, 4), 4))
	})
}

func TestSubMul(t *testing.T) {
	b := New()
	x := raw(t, []float32{4, 6}, 2)
	y := raw(t, []float32{1, 2}, 2)
	assert.Equal(t, []float32{3, 4}, b.Sub(x, y).Data())
	assert.Equal(t, []float32{4, 12}, b.Mul(x, y).Data())
	assert.Equal(t, []float32{2, 3}, b.MulScalar(x, 0.5).Data())
}

func TestMatMul(t *testing.T) {
	b := NewWithConfig(parallel.Config{Enabled: true, NumWorkers: 2, MinChunkSize: 1})
	a := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	c := raw(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2)

	out := b.MatMul(a, c)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, out.Data())
}

func TestMatMul_ShapeMismatchPanics(t *testing.T) {
	b := New()
	assert.Panics(t, func() {
		b.MatMul(raw(t, make([]float32, 6), 2, 3), raw(t, make([]float32, 4), 2, 2))
	})
}

func TestBatchMatMul(t *testing.T) {
	b := New()
	a := raw(t, []float32{1, 0, 0, 1, 2, 0, 0, 2}, 2, 2, 2)
	c := raw(t, []float32{1, 2, 3, 4, 1, 2, 3, 4}, 2, 2, 2)

	out := b.BatchMatMul(a, c)
	assert.Equal(t, tensor.Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 2, 4, 6, 8}, out.Data())
}

func TestTranspose(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	out := b.Transpose(x)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, out.Data())

	y := raw(t, []float32{0, 1, 2, 3, 4, 5, 6, 7}, 2, 2, 2)
	out = b.Transpose(y, 1, 0, 2)
	assert.Equal(t, []float32{0, 1, 4, 5, 2, 3, 6, 7}, out.Data())
}

func TestTranspose_InvalidPermutationPanics(t *testing.T) {
	b := New()
	assert.Panics(t, func() {
		b.Transpose(raw(t, make([]float32, 6), 2, 3), 0, 0)
	})
}

func TestReshape_Copies(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 2, 2)
	out := b.Reshape(x, tensor.Shape{4})
	out.Data()[0] = 42
	assert.Equal(t, float32(1), x.Data()[0])
	assert.Equal(t, tensor.Shape{4}, out.Shape())
}

func TestSoftmax(t *testing.T) {
	b := New()
	out := b.Softmax(raw(t, []float32{1, 2, 3, 1000, 1000, 1000}, 2, 3))
	d := out.Data()
	var s float32
	for _, v := range d[:3] {
		s += v
	}
	assert.InDelta(t, 1.0, s, 1e-6)
	assert.Less(t, d[0], d[1])
	for _, v := range d[3:] {
		assert.InDelta(t, 1.0/3, v, 1e-6)
	}
}

func TestLayerNorm(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 4}, 1, 4)
	gamma := raw(t, []float32{1, 1, 1, 1}, 4)
	beta := raw(t, []float32{0, 0, 0, 0}, 4)

	out := b.LayerNorm(x, gamma, beta, 1e-5).Data()
	var mean, variance float64
	for _, v := range out {
		mean += float64(v)
	}
	mean /= 4
	for _, v := range out {
		variance += (float64(v) - mean) * (float64(v) - mean)
	}
	variance /= 4
	assert.InDelta(t, 0, mean, 1e-5)
	assert.InDelta(t, 1, variance, 1e-3)
}

func TestMeanAndMSE(t *testing.T) {
	b := New()
	x := raw(t, []float32{1, 2, 3, 6}, 4)
	assert.InDelta(t, 3.0, b.Mean(x).Data()[0], 1e-6)

	y := raw(t, []float32{1, 2, 3, 4}, 4)
	assert.InDelta(t, 1.0, b.MSE(x, y).Data()[0], 1e-6)
	assert.Equal(t, tensor.Shape{}, b.MSE(x, y).Shape())
}

func TestIndexSelect(t *testing.T) {
	b := New()
	x := raw(t, []float32{0, 1, 10, 11, 20, 21}, 3, 2)
	out := b.IndexSelect(x, []int{2, 0, 2})
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{20, 21, 0, 1, 20, 21}, out.Data())

	empty := b.IndexSelect(x, nil)
	assert.Equal(t, tensor.Shape{0, 2}, empty.Shape())

	assert.Panics(t, func() { b.IndexSelect(x, []int{3}) })
}

func TestBinaryEntropy_BalancedConfidentBitsAreMinimal(t *testing.T) {
	b := New()
	// Two samples with opposite, confident bits: sample entropy ~0, batch entropy ln 2.
	z := raw(t, []float32{20, -20, -20, 20}, 2, 2)
	v := b.BinaryEntropy(z, 1).Data()[0]
	assert.InDelta(t, -math.Ln2, v, 1e-4)

	// Undecided bits: both entropies are ln 2.
	zero := raw(t, []float32{0, 0, 0, 0}, 2, 2)
	assert.InDelta(t, 0, b.BinaryEntropy(zero, 1).Data()[0], 1e-6)
}
