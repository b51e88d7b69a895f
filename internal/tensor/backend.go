package tensor

// Backend defines the interface that compute backends implement.
// Backends handle the actual computation for tensor operations.
//
// Implementations:
//   - cpu.Backend: pure Go reference kernels
//   - autodiff.AutodiffBackend: decorator that records every call on a
//     GradientTape so gradients can be computed afterwards
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// MulScalar multiplies every element by s.
	MulScalar(x *RawTensor, s float32) *RawTensor

	// MatMul multiplies two 2D tensors: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// BatchMatMul multiplies the trailing two dimensions of tensors with
	// identical leading dimensions: [..., M, K] @ [..., K, N] -> [..., M, N].
	BatchMatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor
	Tanh(x *RawTensor) *RawTensor
	Softmax(x *RawTensor) *RawTensor // along the last dimension

	// LayerNorm normalizes over the last dimension and applies gamma/beta.
	LayerNorm(x, gamma, beta *RawTensor, eps float32) *RawTensor

	// Reductions producing scalars.
	Mean(x *RawTensor) *RawTensor
	MSE(pred, target *RawTensor) *RawTensor

	// IndexSelect gathers rows of a 2D tensor: out[i] = x[indices[i]].
	IndexSelect(x *RawTensor, indices []int) *RawTensor

	// StraightThrough returns a copy of value whose gradient is routed to
	// through unchanged. Both must have the same shape.
	StraightThrough(value, through *RawTensor) *RawTensor

	// BinaryEntropy returns mean per-element entropy of sigmoid(2z/T) minus
	// the mean entropy of its batch average over the first dimension.
	BinaryEntropy(z *RawTensor, temperature float32) *RawTensor

	// Metadata
	Name() string
}
