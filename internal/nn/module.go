// Package nn implements the neural network modules used by the tokenizer.
//
// This package provides building blocks for constructing the encoder and
// decoder:
//   - Module interface: Base interface for all NN components
//   - Parameter: Named trainable tensors with gradient slots
//   - Linear, LayerNorm, ReLU, FFN, Sequential
//   - MultiHeadAttention and TransformerEncoder with key padding masks
//   - SinusoidalPositionalEncoding
//   - MSELoss
//
// Design inspired by PyTorch's nn.Module. Every parameter carries a dotted
// name ("encoder.layers.0.attn.wq.weight") so a whole model can be saved
// and restored through StateDict and LoadStateDict.
package nn

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	mlp := nn.NewSequential(
//	    nn.NewLinear("fc1", 8, 16, rng, backend),
//	    nn.NewReLU(),
//	    nn.NewLinear("fc2", 16, 4, rng, backend),
//	)
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor) *tensor.Tensor

	// Parameters returns all trainable parameters of this module,
	// including those of nested modules.
	Parameters() []*Parameter
}

// StateDict maps every parameter name to its raw tensor.
func StateDict(params []*Parameter) map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		state[p.Name()] = p.Tensor().Raw()
	}
	return state
}

// LoadStateDict copies values from state into params in place.
// Every parameter must be present with a matching shape.
func LoadStateDict(params []*Parameter, state map[string]*tensor.RawTensor) error {
	for _, p := range params {
		raw, ok := state[p.Name()]
		if !ok {
			return fmt.Errorf("missing %s in state dict", p.Name())
		}
		if !raw.Shape().Equal(p.Tensor().Shape()) {
			return fmt.Errorf("%s shape mismatch: expected %v, got %v",
				p.Name(), p.Tensor().Shape(), raw.Shape())
		}
		copy(p.Tensor().Data(), raw.Data())
	}
	return nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
