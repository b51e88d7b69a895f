package tensor

import (
	"fmt"
	"math"
)

// RawTensor is the low-level tensor representation: a row-major float32
// buffer plus its shape. Backends operate on RawTensors; the autodiff tape
// uses their pointers as node identities.
type RawTensor struct {
	shape   Shape
	strides []int
	data    []float32
}

// NewRaw allocates a zero-filled RawTensor of the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &RawTensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		data:    make([]float32, shape.NumElements()),
	}, nil
}

// MustRaw is NewRaw for shapes already known to be valid.
func MustRaw(shape Shape) *RawTensor {
	r, err := NewRaw(shape)
	if err != nil {
		panic(fmt.Sprintf("tensor: %v", err))
	}
	return r
}

// Shape returns the tensor shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the row-major strides.
func (r *RawTensor) Strides() []int {
	return r.strides
}

// Data returns the underlying buffer (zero-copy).
func (r *RawTensor) Data() []float32 {
	return r.data
}

// NumElements returns the number of elements.
func (r *RawTensor) NumElements() int {
	return len(r.data)
}

// Clone returns a deep copy that shares nothing with r.
func (r *RawTensor) Clone() *RawTensor {
	out := MustRaw(r.shape)
	copy(out.data, r.data)
	return out
}

// WithShape returns a RawTensor sharing r's buffer under a new shape.
// The element counts must match.
func (r *RawTensor) WithShape(shape Shape) *RawTensor {
	if shape.NumElements() != len(r.data) {
		panic(fmt.Sprintf("tensor: cannot view %v as %v", r.shape, shape))
	}
	return &RawTensor{
		shape:   shape.Clone(),
		strides: shape.ComputeStrides(),
		data:    r.data,
	}
}

// IsFinite reports whether every element is neither NaN nor ±Inf.
func (r *RawTensor) IsFinite() bool {
	for _, v := range r.data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
