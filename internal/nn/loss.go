package nn

import (
	"fmt"

	"github.com/born-ml/vqtokenizer/internal/tensor"
)

// MSELoss computes mean squared error between predictions and targets:
//
//	loss = mean((predictions - targets)^2)
type MSELoss struct{}

// NewMSELoss creates a new MSE loss function.
func NewMSELoss() *MSELoss {
	return &MSELoss{}
}

// Forward returns the scalar loss. Shapes must match exactly.
func (m *MSELoss) Forward(predictions, targets *tensor.Tensor) *tensor.Tensor {
	if !predictions.Shape().Equal(targets.Shape()) {
		panic(fmt.Sprintf("MSELoss: shape mismatch %v vs %v", predictions.Shape(), targets.Shape()))
	}
	return predictions.MSE(targets)
}

// Parameters returns nil (loss functions have no trainable parameters).
func (m *MSELoss) Parameters() []*Parameter {
	return nil
}
