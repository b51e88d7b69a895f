package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [..., in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [..., out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features]
}

// NewLinear creates a new Linear layer whose parameters are named
// name.weight and name.bias.
func NewLinear(name string, inFeatures, outFeatures int, rng *rand.Rand, backend tensor.Backend) *Linear {
	weight := Xavier(rng, inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, backend)
	bias := tensor.Zeros(tensor.Shape{outFeatures}, backend)

	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(join(name, "weight"), weight),
		bias:        NewParameter(join(name, "bias"), bias),
	}
}

// Forward computes the output of the linear layer.
// Inputs with more than two dimensions are flattened to 2D and restored.
func (l *Linear) Forward(input *tensor.Tensor) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("Linear.Forward: expected at least 2D input, got shape %v", shape))
	}
	if shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d",
			l.inFeatures, shape[len(shape)-1]))
	}

	x := input
	if len(shape) > 2 {
		x = input.Reshape(-1, l.inFeatures)
	}

	output := x.MatMul(l.weight.Tensor().Transpose()).Add(l.bias.Tensor().Reshape(1, l.outFeatures))

	if len(shape) > 2 {
		outShape := append([]int(nil), shape...)
		outShape[len(outShape)-1] = l.outFeatures
		output = output.Reshape(outShape...)
	}
	return output
}

// Parameters returns [weight, bias].
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}
