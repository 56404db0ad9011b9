package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ToDense converts a 2-D tensor to a gonum dense matrix, widening the
// elements to float64.
func (t *Tensor) ToDense() (*mat.Dense, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("ToDense requires a 2D tensor, got %dD", len(t.Shape))
	}
	rows, cols := t.Shape[0], t.Shape[1]
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d.Set(i, j, float64(t.Data[i*cols+j]))
		}
	}
	return d, nil
}

// FromDense converts a gonum matrix to a 2-D tensor, narrowing the
// elements to float32.
func FromDense(m mat.Matrix) *Tensor {
	rows, cols := m.Dims()
	data := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = float32(m.At(i, j))
		}
	}
	return &Tensor{Shape: []int{rows, cols}, Data: data}
}
