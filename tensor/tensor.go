package tensor

import "fmt"

// Tensor represents a multi-dimensional array of float32 stored in
// row-major order.
type Tensor struct {
	Shape []int     // Dimensions of the tensor (e.g., [rows, cols] for a matrix)
	Data  []float32 // Flat backing data
}

// NewTensor creates a tensor wrapping the given data.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		size *= dim
	}
	if len(data) != size {
		return nil, fmt.Errorf("data length (%d) does not match shape dimensions (%d)", len(data), size)
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Zeros creates a zero-filled tensor of the given shape.
func Zeros(shape ...int) (*Tensor, error) {
	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		size *= dim
	}
	return &Tensor{Shape: shape, Data: make([]float32, size)}, nil
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	shape := make([]int, len(t.Shape))
	copy(shape, t.Shape)
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: shape, Data: data}
}

// At returns the element at row i, column j of a 2-D tensor.
func (t *Tensor) At(i, j int) float32 {
	return t.Data[i*t.Shape[1]+j]
}

// Set assigns the element at row i, column j of a 2-D tensor.
func (t *Tensor) Set(i, j int, v float32) {
	t.Data[i*t.Shape[1]+j] = v
}
