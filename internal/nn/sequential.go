package nn

import "github.com/born-ml/vqtokenizer/internal/tensor"

// Sequential chains modules, feeding each output into the next.
//
// Example:
//
//	decoder := nn.NewSequential(
//	    nn.NewLinear("decoder.fc1", 512, 768, rng, backend),
//	    nn.NewReLU(),
//	    nn.NewLinear("decoder.fc2", 768, 32, rng, backend),
//	)
type Sequential struct {
	modules []Module
}

// NewSequential creates a Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward runs input through every module in order.
func (s *Sequential) Forward(input *tensor.Tensor) *tensor.Tensor {
	out := input
	for _, m := range s.modules {
		out = m.Forward(out)
	}
	return out
}

// Parameters returns the parameters of all modules in order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, m := range s.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// Len returns the number of modules.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at index.
func (s *Sequential) Module(index int) Module {
	return s.modules[index]
}
