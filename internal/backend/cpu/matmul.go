package cpu

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/parallel"
	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := tensor.MustRaw(tensor.Shape{m, n})
	matmulFloat32(result.Data(), a.Data(), b.Data(), m, k, n, cpu.parallel)
	return result
}

// BatchMatMul multiplies the trailing two dimensions:
// [..., M, K] @ [..., K, N] -> [..., M, N]. Leading dimensions must match.
func (cpu *CPUBackend) BatchMatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) < 3 || len(aShape) != len(bShape) {
		panic(fmt.Sprintf("batchmatmul: expected matching ranks >= 3, got %v and %v", aShape, bShape))
	}
	nd := len(aShape)
	for i := 0; i < nd-2; i++ {
		if aShape[i] != bShape[i] {
			panic(fmt.Sprintf("batchmatmul: batch dimensions differ: %v vs %v", aShape, bShape))
		}
	}

	m, k := aShape[nd-2], aShape[nd-1]
	kAlt, n := bShape[nd-2], bShape[nd-1]
	if k != kAlt {
		panic(fmt.Sprintf("batchmatmul: inner dimensions differ: %v @ %v", aShape, bShape))
	}

	outShape := aShape.Clone()
	outShape[nd-1] = n
	result := tensor.MustRaw(outShape)

	batch := aShape[:nd-2].NumElements()
	ad, bd, od := a.Data(), b.Data(), result.Data()
	parallel.For(batch, func(i int) {
		matmulFloat32(od[i*m*n:(i+1)*m*n], ad[i*m*k:(i+1)*m*k], bd[i*k*n:(i+1)*k*n], m, k, n, parallel.Sequential())
	}, cpu.parallel)

	return result
}

// matmulFloat32 computes C = A @ B with an i-k-j loop order so the inner loop
// walks both B and C rows contiguously.
func matmulFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.For(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for p := 0; p < k; p++ {
			aip := a[i*k+p]
			if aip == 0 {
				continue
			}
			bRow := b[p*n : (p+1)*n]
			for j, bv := range bRow {
				row[j] += aip * bv
			}
		}
	}, cfg)
}
