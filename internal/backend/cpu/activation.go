package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Softmax normalizes along the last dimension using the max-subtraction
// trick for numerical stability.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) == 0 {
		panic("softmax: scalar input")
	}
	d := shape[len(shape)-1]
	out := tensor.MustRaw(shape)
	if d == 0 {
		return out
	}
	xd, od := x.Data(), out.Data()
	rows := len(xd) / d

	for r := 0; r < rows; r++ {
		in := xd[r*d : (r+1)*d]
		o := od[r*d : (r+1)*d]
		maxVal := in[0]
		for _, v := range in[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for j, v := range in {
			e := math.Exp(float64(v - maxVal))
			o[j] = float32(e)
			sum += e
		}
		inv := float32(1 / sum)
		for j := range o {
			o[j] *= inv
		}
	}
	return out
}

// LayerNorm normalizes x over its last dimension:
//
//	y = gamma * (x - mean) / sqrt(var + eps) + beta
//
// gamma and beta must have shape [D] where D is the last dimension of x.
func (cpu *CPUBackend) LayerNorm(x, gamma, beta *tensor.RawTensor, eps float32) *tensor.RawTensor {
	shape := x.Shape()
	if len(shape) == 0 {
		panic("layernorm: scalar input")
	}
	d := shape[len(shape)-1]
	if gamma.NumElements() != d || beta.NumElements() != d {
		panic(fmt.Sprintf("layernorm: gamma/beta size %d/%d does not match last dimension %d",
			gamma.NumElements(), beta.NumElements(), d))
	}

	out := tensor.MustRaw(shape)
	if d == 0 {
		return out
	}
	xd, od, g, b := x.Data(), out.Data(), gamma.Data(), beta.Data()
	rows := len(xd) / d
	for r := 0; r < rows; r++ {
		in := xd[r*d : (r+1)*d]
		mean, rstd := RowStats(in, eps)
		o := od[r*d : (r+1)*d]
		for j, v := range in {
			o[j] = (v-mean)*rstd*g[j] + b[j]
		}
	}
	return out
}

// RowStats returns the mean and reciprocal standard deviation of a row.
func RowStats(row []float32, eps float32) (mean, rstd float32) {
	var sum float64
	for _, v := range row {
		sum += float64(v)
	}
	m := sum / float64(len(row))
	var variance float64
	for _, v := range row {
		diff := float64(v) - m
		variance += diff * diff
	}
	variance /= float64(len(row))
	return float32(m), float32(1 / math.Sqrt(variance+float64(eps)))
}
