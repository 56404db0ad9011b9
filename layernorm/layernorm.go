// Package layernorm implements parallel layer-normalization forward and
// backward kernels over row-major float32 matrices. An input of M rows by
// N columns is normalized independently per row: subtract the row mean,
// divide by the row standard deviation, and optionally apply a learned
// elementwise affine transform. The backward pass produces the input
// gradient in a single elementwise sweep by fusing the per-row reduction
// results into two precomputed coefficients, and reduces the parameter
// gradients per column with one of two strategies selected by row count.
package layernorm

import (
	"fmt"
	"math"

	"github.com/tsawler/go-lnorm/tensor"
)

// Kernel launch shapes, and the row-count threshold at which the
// parameter-gradient reduction switches from the serial per-column scan
// to the tiled reduction. The threshold is a tuning heuristic, not a
// correctness boundary; both paths compute the same sums.
const (
	blockReduceLanes   = 512
	elementwiseLanes   = 256
	colwiseTileSize    = 32
	paramGradThreshold = 512
)

// LayerNorm holds the fixed configuration (M, N, eps) and the per-row
// scratch buffers shared by one forward/backward pair. The scratch is
// overwritten on every call, so overlapping calls against the same
// instance must be serialized by the caller; distinct instances are
// independent.
type LayerNorm struct {
	m, n int
	eps  float32

	// Row statistics written by Forward and consumed by Backward.
	mean []float32
	rstd []float32

	// Backward scratch: per-row internal gradients and the fused
	// coefficients derived from them.
	ds    []float32
	db    []float32
	scale []float32
	bias  []float32

	forwardDone bool
	profiling   bool
}

// Option configures a LayerNorm instance at construction.
type Option func(*LayerNorm)

// WithProfiling enables the diagnostic side channel: each pass logs its
// elapsed wall time and a small sample of its output. Not part of the
// functional contract.
func WithProfiling() Option {
	return func(l *LayerNorm) { l.profiling = true }
}

// New creates the metadata for normalizing M x N batches with the given
// variance floor. M, N, and eps are fixed for the lifetime of the
// instance and every kernel call is validated against them.
func New(m, n int, eps float32, opts ...Option) (*LayerNorm, error) {
	if m <= 0 || n <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got M=%d N=%d", ErrInvalidArgument, m, n)
	}
	if eps <= 0 {
		return nil, fmt.Errorf("%w: eps must be positive, got %g", ErrInvalidArgument, eps)
	}
	if m > math.MaxInt/n {
		return nil, fmt.Errorf("%w: element count M*N overflows for M=%d N=%d", ErrAllocationFailure, m, n)
	}
	l := &LayerNorm{
		m:     m,
		n:     n,
		eps:   eps,
		mean:  make([]float32, m),
		rstd:  make([]float32, m),
		ds:    make([]float32, m),
		db:    make([]float32, m),
		scale: make([]float32, m),
		bias:  make([]float32, m),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Rows returns M, the number of independent normalization units.
func (l *LayerNorm) Rows() int { return l.m }

// Cols returns N, the feature dimension reduced within each row.
func (l *LayerNorm) Cols() int { return l.n }

// Mean returns the per-row means computed by the last Forward. The slice
// aliases the instance's scratch and is overwritten by the next Forward.
func (l *LayerNorm) Mean() []float32 { return l.mean }

// Rstd returns the per-row reciprocal standard deviations computed by the
// last Forward. Same aliasing caveat as Mean.
func (l *LayerNorm) Rstd() []float32 { return l.rstd }

// checkMatrix validates an M x N operand.
func (l *LayerNorm) checkMatrix(t *tensor.Tensor, name string) error {
	if t == nil {
		return fmt.Errorf("%w: %s tensor is required", ErrInvalidArgument, name)
	}
	if len(t.Shape) != 2 || t.Shape[0] != l.m || t.Shape[1] != l.n {
		return fmt.Errorf("%w: %s must have shape [%d %d], got %v", ErrInvalidArgument, name, l.m, l.n, t.Shape)
	}
	if len(t.Data) != l.m*l.n {
		return fmt.Errorf("%w: %s data length %d does not match shape", ErrInvalidArgument, name, len(t.Data))
	}
	return nil
}

// checkVector validates an optional length-N operand; nil is allowed and
// means the operand is absent.
func (l *LayerNorm) checkVector(t *tensor.Tensor, name string) error {
	if t == nil {
		return nil
	}
	if len(t.Shape) != 1 || t.Shape[0] != l.n {
		return fmt.Errorf("%w: %s must have shape [%d], got %v", ErrInvalidArgument, name, l.n, t.Shape)
	}
	return nil
}

// vecData unwraps an optional vector operand to its backing slice.
func vecData(t *tensor.Tensor) []float32 {
	if t == nil {
		return nil
	}
	return t.Data
}

// AffineParams holds the learned elementwise scale/shift and their
// gradient buffers. Gamma is initialized to one and beta to zero, so a
// fresh instance is the identity transform.
type AffineParams struct {
	Gamma *tensor.Tensor
	Beta  *tensor.Tensor

	GradGamma *tensor.Tensor
	GradBeta  *tensor.Tensor
}

// NewAffineParams creates identity-initialized affine parameters for a
// feature dimension of n.
func NewAffineParams(n int) (*AffineParams, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: feature dimension must be positive, got %d", ErrInvalidArgument, n)
	}
	gammaData := make([]float32, n)
	for i := range gammaData {
		gammaData[i] = 1
	}
	gamma, err := tensor.NewTensor([]int{n}, gammaData)
	if err != nil {
		return nil, err
	}
	beta, err := tensor.Zeros(n)
	if err != nil {
		return nil, err
	}
	gradGamma, err := tensor.Zeros(n)
	if err != nil {
		return nil, err
	}
	gradBeta, err := tensor.Zeros(n)
	if err != nil {
		return nil, err
	}
	return &AffineParams{
		Gamma:     gamma,
		Beta:      beta,
		GradGamma: gradGamma,
		GradBeta:  gradBeta,
	}, nil
}
