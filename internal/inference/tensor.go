// SPDX-License-Identifier: MIT
package inference

import "fmt"

// DenseTensor is the Tensor implementation shared by the bundled engines.
type DenseTensor struct {
	shape Shape
	data  []float32
}

var _ Tensor = (*DenseTensor)(nil)

// NewDenseTensor allocates a zeroed tensor of the given shape.
func NewDenseTensor(shape Shape) (*DenseTensor, error) {
	n := shape.Size()
	if n == 0 {
		return nil, fmt.Errorf("tensor shape %v has no elements", []int(shape))
	}
	return &DenseTensor{shape: append(Shape(nil), shape...), data: make([]float32, n)}, nil
}

// WrapDenseTensor builds a tensor around existing data without copying.
func WrapDenseTensor(shape Shape, data []float32) (*DenseTensor, error) {
	if shape.Size() != len(data) {
		return nil, fmt.Errorf("tensor shape %s holds %d elements, got %d", shape, shape.Size(), len(data))
	}
	return &DenseTensor{shape: append(Shape(nil), shape...), data: data}, nil
}

func (t *DenseTensor) Shape() Shape    { return t.shape }
func (t *DenseTensor) Size() int       { return len(t.data) }
func (t *DenseTensor) Data() []float32 { return t.data }
