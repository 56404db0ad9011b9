package layernorm

import "math"

// Scalar double-precision reference implementations of the kernels, used
// by the tests to verify the parallel float32 paths. They follow the
// mathematical definition directly: two-pass moments and naive O(M*N)
// reductions, no fusion.

// referenceForward normalizes every row of x in float64 and returns y,
// mean, and rstd.
func referenceForward(x, gamma, beta []float64, m, n int, eps float64) (y, mean, rstd []float64) {
	y = make([]float64, m*n)
	mean = make([]float64, m)
	rstd = make([]float64, m)
	for i := 0; i < m; i++ {
		row := x[i*n : (i+1)*n]
		var sum float64
		for _, v := range row {
			sum += v
		}
		mu := sum / float64(n)
		var variance float64
		for _, v := range row {
			variance += (v - mu) * (v - mu)
		}
		variance /= float64(n)
		rs := 1 / math.Sqrt(variance+eps)
		mean[i] = mu
		rstd[i] = rs
		for j, v := range row {
			out := (v - mu) * rs
			if gamma != nil {
				out *= gamma[j]
			}
			if beta != nil {
				out += beta[j]
			}
			y[i*n+j] = out
		}
	}
	return y, mean, rstd
}

// referenceParamGradients reduces dgamma/dbeta per column in float64 using
// the given row statistics.
func referenceParamGradients(dy, x, mean, rstd []float64, m, n int) (dgamma, dbeta []float64) {
	dgamma = make([]float64, n)
	dbeta = make([]float64, n)
	for j := 0; j < n; j++ {
		var sum1, sum2 float64
		for i := 0; i < m; i++ {
			v := dy[i*n+j]
			sum1 += v * (x[i*n+j] - mean[i]) * rstd[i]
			sum2 += v
		}
		dgamma[j] = sum1
		dbeta[j] = sum2
	}
	return dgamma, dbeta
}
