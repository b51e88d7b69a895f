package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// IndexSelect gathers rows of a 2D tensor: out[i] = x[indices[i]].
func (cpu *CPUBackend) IndexSelect(x *tensor.RawTensor, indices []int) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("index_select: expected 2D input, got %v", shape))
	}
	rows, cols := shape[0], shape[1]
	out := tensor.MustRaw(tensor.Shape{len(indices), cols})
	xd, od := x.Data(), out.Data()
	for i, idx := range indices {
		if idx < 0 || idx >= rows {
			panic(fmt.Sprintf("index_select: index %d out of range [0, %d)", idx, rows))
		}
		copy(od[i*cols:(i+1)*cols], xd[idx*cols:(idx+1)*cols])
	}
	return out
}

// StraightThrough returns a copy of value. The autodiff decorator routes the
// gradient of the result to through; on a plain backend it is a copy.
func (cpu *CPUBackend) StraightThrough(value, through *tensor.RawTensor) *tensor.RawTensor {
	if !value.Shape().Equal(through.Shape()) {
		panic(fmt.Sprintf("straight_through: shape mismatch %v vs %v", value.Shape(), through.Shape()))
	}
	return value.Clone()
}

// BinaryEntropy computes, for p = sigmoid(2z/T) over a [N, D] input,
//
//	mean_{n,d} H(p[n,d]) - mean_d H(mean_n p[n,d])
//
// where H is the binary entropy in nats. Minimizing it makes each code bit
// confident per sample while keeping bits balanced across the batch.
func (cpu *CPUBackend) BinaryEntropy(z *tensor.RawTensor, temperature float32) *tensor.RawTensor {
	shape := z.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("binary_entropy: expected 2D input, got %v", shape))
	}
	out := tensor.MustRaw(tensor.Shape{})
	n, d := shape[0], shape[1]
	if n == 0 || d == 0 {
		return out
	}
	p := BitProbabilities(z.Data(), temperature)

	var sample float64
	avg := make([]float64, d)
	for i, v := range p {
		sample += BinaryEntropyOf(v)
		avg[i%d] += v
	}
	sample /= float64(n * d)

	var batch float64
	for j := range avg {
		batch += BinaryEntropyOf(avg[j] / float64(n))
	}
	batch /= float64(d)

	out.Data()[0] = float32(sample - batch)
	return out
}

// BitProbabilities returns sigmoid(2z/T) for every element of z.
func BitProbabilities(z []float32, temperature float32) []float64 {
	scale := 2 / float64(temperature)
	p := make([]float64, len(z))
	for i, v := range z {
		p[i] = 1 / (1 + math.Exp(-scale*float64(v)))
	}
	return p
}

// BinaryEntropyOf returns -p ln p - (1-p) ln(1-p), clamped away from 0 and 1.
func BinaryEntropyOf(p float64) float64 {
	p = clampProb(p)
	return -p*math.Log(p) - (1-p)*math.Log(1-p)
}

func clampProb(p float64) float64 {
	const eps = 1e-7
	return math.Min(math.Max(p, eps), 1-eps)
}
