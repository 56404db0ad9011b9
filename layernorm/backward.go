package layernorm

import (
	"fmt"
	"log"
	"time"

	"github.com/tsawler/go-lnorm/simt"
	"github.com/tsawler/go-lnorm/tensor"
)

// Backward computes the gradients of the normalization given the output
// gradient dy and the forward input x. dx receives the input gradient;
// dgamma and dbeta, when non-nil, receive the parameter gradients and are
// skipped entirely when nil. The row statistics stored by the matching
// Forward call are consumed; ds/db are recomputed from scratch on every
// call. Phases are submitted to stream in dependency order
// (internal gradients, fused coefficients, input gradient, parameter
// gradients) and the call returns once all have completed.
func (l *LayerNorm) Backward(stream *simt.Stream, dy, x, gamma, dx, dgamma, dbeta *tensor.Tensor) error {
	if stream == nil {
		return errNilStream()
	}
	if !l.forwardDone {
		return fmt.Errorf("%w: backward requires a prior forward call on this instance", ErrInvalidArgument)
	}
	if err := l.checkMatrix(dy, "dy"); err != nil {
		return err
	}
	if err := l.checkMatrix(x, "x"); err != nil {
		return err
	}
	if err := l.checkMatrix(dx, "dx"); err != nil {
		return err
	}
	if err := l.checkVector(gamma, "gamma"); err != nil {
		return err
	}
	if err := l.checkVector(dgamma, "dgamma"); err != nil {
		return err
	}
	if err := l.checkVector(dbeta, "dbeta"); err != nil {
		return err
	}

	start := time.Now()
	l.launchInternalGradients(stream, dy.Data, x.Data, vecData(gamma))
	l.launchFusedCoefficients(stream)
	l.launchInputGradient(stream, dy.Data, x.Data, vecData(gamma), dx.Data)
	if dgamma != nil || dbeta != nil {
		l.launchParamGradients(stream, dy.Data, x.Data, vecData(dgamma), vecData(dbeta))
	}
	stream.Synchronize()

	if l.profiling {
		log.Printf("layernorm: backward M=%d N=%d took %v, dx sample %v", l.m, l.n, time.Since(start), sample(dx.Data))
	}
	return nil
}

// ForwardBackward runs a forward pass immediately followed by its
// backward pass on the same stream.
func (l *LayerNorm) ForwardBackward(stream *simt.Stream, x, gamma, beta, y, dy, dx, dgamma, dbeta *tensor.Tensor) error {
	if err := l.Forward(stream, x, gamma, beta, y); err != nil {
		return fmt.Errorf("forward pass failed: %w", err)
	}
	if err := l.Backward(stream, dy, x, gamma, dx, dgamma, dbeta); err != nil {
		return fmt.Errorf("backward pass failed: %w", err)
	}
	return nil
}

// launchInternalGradients reduces, per row, the products of the output
// gradient with the input and with gamma:
//
//	ds[i] = sum_j dy[i,j] * x[i,j] * gamma[j]
//	db[i] = sum_j dy[i,j] * gamma[j]
//
// One block per row; gamma==nil uses an implicit scale of 1.
func (l *LayerNorm) launchInternalGradients(stream *simt.Stream, dy, x, gamma []float32) {
	n := l.n
	stream.Launch(l.m, func(i int) {
		sc := getReduceScratch()
		defer putReduceScratch(sc)

		row := x[i*n : (i+1)*n]
		grad := dy[i*n : (i+1)*n]
		if gamma != nil {
			for lane := 0; lane < blockReduceLanes; lane++ {
				var s1, s2 float32
				for j := lane; j < n; j += blockReduceLanes {
					s1 += grad[j] * row[j] * gamma[j]
					s2 += grad[j] * gamma[j]
				}
				sc.sum1[lane] = s1
				sc.sum2[lane] = s2
			}
		} else {
			for lane := 0; lane < blockReduceLanes; lane++ {
				var s1, s2 float32
				for j := lane; j < n; j += blockReduceLanes {
					s1 += grad[j] * row[j]
					s2 += grad[j]
				}
				sc.sum1[lane] = s1
				sc.sum2[lane] = s2
			}
		}
		l.ds[i] = simt.BlockReduceSum(sc.sum1, sc.shared)
		l.db[i] = simt.BlockReduceSum(sc.sum2, sc.shared)
	})
}

// launchFusedCoefficients folds mean, rstd, ds, and db into the two per-row
// coefficients that let the input gradient be a single elementwise sweep:
//
//	a       = (db*mean - ds) * rstd^3 / N
//	scale   = a
//	bias    = -(a*mean + db*rstd/N)
//
// The third coefficient of the fused form is rstd itself and is read
// directly in the input-gradient kernel instead of being stored. This
// phase is O(M), so it runs one lane per row index rather than one block
// per row.
func (l *LayerNorm) launchFusedCoefficients(stream *simt.Stream) {
	m := l.m
	inv := 1 / float32(l.n)
	grid := (m + elementwiseLanes - 1) / elementwiseLanes
	stream.Launch(grid, func(b int) {
		lo := b * elementwiseLanes
		hi := lo + elementwiseLanes
		if hi > m {
			hi = m
		}
		for i := lo; i < hi; i++ {
			rstd := l.rstd[i]
			a := (l.db[i]*l.mean[i] - l.ds[i]) * rstd * rstd * rstd * inv
			l.scale[i] = a
			l.bias[i] = -(a*l.mean[i] + l.db[i]*rstd*inv)
		}
	})
}

// launchInputGradient applies the fused form elementwise, one block per
// row:
//
//	dx = rstd_i * dy * gamma + scale_i * x + bias_i
func (l *LayerNorm) launchInputGradient(stream *simt.Stream, dy, x, gamma, dx []float32) {
	n := l.n
	stream.Launch(l.m, func(i int) {
		a := l.rstd[i]
		b := l.scale[i]
		c := l.bias[i]
		row := x[i*n : (i+1)*n]
		grad := dy[i*n : (i+1)*n]
		out := dx[i*n : (i+1)*n]
		if gamma != nil {
			for j := range out {
				out[j] = a*grad[j]*gamma[j] + b*row[j] + c
			}
		} else {
			for j := range out {
				out[j] = a*grad[j] + b*row[j] + c
			}
		}
	})
}
