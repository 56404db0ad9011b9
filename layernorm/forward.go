package layernorm

import (
	"log"
	"math"
	"time"

	"github.com/tsawler/go-lnorm/simt"
	"github.com/tsawler/go-lnorm/tensor"
)

// Forward normalizes each row of x and writes the result to y:
//
//	y = (x - mean) * rstd * gamma + beta
//
// with gamma treated as 1 and beta as 0 when nil. The per-row mean and
// rstd are stored on the instance for the matching Backward call. The two
// phases (moments, then normalize) are submitted to stream in order and
// the call returns once both have completed.
func (l *LayerNorm) Forward(stream *simt.Stream, x, gamma, beta, y *tensor.Tensor) error {
	if stream == nil {
		return errNilStream()
	}
	if err := l.checkMatrix(x, "x"); err != nil {
		return err
	}
	if err := l.checkMatrix(y, "y"); err != nil {
		return err
	}
	if err := l.checkVector(gamma, "gamma"); err != nil {
		return err
	}
	if err := l.checkVector(beta, "beta"); err != nil {
		return err
	}

	start := time.Now()
	l.launchRowwiseMoments(stream, x.Data)
	l.launchNormalizeRows(stream, x.Data, vecData(gamma), vecData(beta), y.Data)
	stream.Synchronize()
	l.forwardDone = true

	if l.profiling {
		log.Printf("layernorm: forward M=%d N=%d took %v, y sample %v", l.m, l.n, time.Since(start), sample(y.Data))
	}
	return nil
}

// launchRowwiseMoments computes the per-row mean and reciprocal standard
// deviation with a one-pass sum / sum-of-squares reduction, one block per
// row. The one-pass form trades precision for a single sweep; negative
// variance from floating-point cancellation is clamped to zero rather
// than reported.
func (l *LayerNorm) launchRowwiseMoments(stream *simt.Stream, x []float32) {
	n := l.n
	stream.Launch(l.m, func(i int) {
		sc := getReduceScratch()
		defer putReduceScratch(sc)

		row := x[i*n : (i+1)*n]
		for lane := 0; lane < blockReduceLanes; lane++ {
			var s1, s2 float32
			for j := lane; j < n; j += blockReduceLanes {
				v := row[j]
				s1 += v
				s2 += v * v
			}
			sc.sum1[lane] = s1
			sc.sum2[lane] = s2
		}
		sum1 := simt.BlockReduceSum(sc.sum1, sc.shared)
		sum2 := simt.BlockReduceSum(sc.sum2, sc.shared)

		mean := sum1 / float32(n)
		variance := sum2/float32(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		l.mean[i] = mean
		l.rstd[i] = 1 / float32(math.Sqrt(float64(variance+l.eps)))
	})
}

// launchNormalizeRows applies the elementwise normalization, one block per
// row. The gamma/beta presence checks are hoisted out of the inner loop.
func (l *LayerNorm) launchNormalizeRows(stream *simt.Stream, x, gamma, beta, y []float32) {
	n := l.n
	stream.Launch(l.m, func(i int) {
		mean := l.mean[i]
		rstd := l.rstd[i]
		row := x[i*n : (i+1)*n]
		out := y[i*n : (i+1)*n]
		switch {
		case gamma != nil && beta != nil:
			for j, v := range row {
				out[j] = (v-mean)*rstd*gamma[j] + beta[j]
			}
		case gamma != nil:
			for j, v := range row {
				out[j] = (v - mean) * rstd * gamma[j]
			}
		case beta != nil:
			for j, v := range row {
				out[j] = (v-mean)*rstd + beta[j]
			}
		default:
			for j, v := range row {
				out[j] = (v - mean) * rstd
			}
		}
	})
}

// sample returns a short prefix of a buffer for the profiling dump.
func sample(data []float32) []float32 {
	const sampleLen = 8
	if len(data) <= sampleLen {
		return data
	}
	return data[:sampleLen]
}
