package layernorm

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-lnorm/tensor"
)

// runParamGradients runs forward then backward and returns the parameter
// gradients for an M x N problem built from the first m rows of dy and x.
func runParamGradients(t *testing.T, dy, x *tensor.Tensor, m, n int) (*LayerNorm, []float32, []float32) {
	t.Helper()
	stream := newTestStream(t)

	ln, err := New(m, n, 1e-5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	xm, _ := tensor.NewTensor([]int{m, n}, x.Data[:m*n])
	dym, _ := tensor.NewTensor([]int{m, n}, dy.Data[:m*n])
	y, _ := tensor.Zeros(m, n)
	dx, _ := tensor.Zeros(m, n)
	dgamma, _ := tensor.Zeros(n)
	dbeta, _ := tensor.Zeros(n)
	if err := ln.ForwardBackward(stream, xm, nil, nil, y, dym, dx, dgamma, dbeta); err != nil {
		t.Fatalf("ForwardBackward failed for M=%d: %v", m, err)
	}
	return ln, dgamma.Data, dbeta.Data
}

// Both reduction strategies must agree with a double-precision reference
// reduction. M=600 exercises the tiled path, M=400 the serial per-column
// scan.
func TestParamGradientStrategyEquivalence(t *testing.T) {
	const n = 48
	const tol = 0.05
	rng := rand.New(rand.NewSource(30))

	x := randomMatrix(t, rng, 600, n)
	dy := randomMatrix(t, rng, 600, n)

	for _, m := range []int{600, 400} {
		ln, dgamma, dbeta := runParamGradients(t, dy, x, m, n)

		wantDGamma, wantDBeta := referenceParamGradients(
			widen(dy.Data[:m*n]), widen(x.Data[:m*n]),
			widen(ln.Mean()), widen(ln.Rstd()), m, n)
		for j := 0; j < n; j++ {
			if diff := math.Abs(float64(dgamma[j]) - wantDGamma[j]); diff > tol {
				t.Errorf("M=%d: dgamma[%d] = %v, want %v", m, j, dgamma[j], wantDGamma[j])
			}
			if diff := math.Abs(float64(dbeta[j]) - wantDBeta[j]); diff > tol {
				t.Errorf("M=%d: dbeta[%d] = %v, want %v", m, j, dbeta[j], wantDBeta[j])
			}
		}
	}
}

// dbeta is just the column sum of dy, so it can also be checked against a
// gonum reduction over the dense form of the tensor.
func TestParamGradientDBetaAgainstGonum(t *testing.T) {
	const m, n = 600, 32
	const tol = 0.05
	rng := rand.New(rand.NewSource(31))

	x := randomMatrix(t, rng, m, n)
	dy := randomMatrix(t, rng, m, n)
	_, _, dbeta := runParamGradients(t, dy, x, m, n)

	dense, err := dy.ToDense()
	if err != nil {
		t.Fatalf("ToDense failed: %v", err)
	}
	for j := 0; j < n; j++ {
		want := floats.Sum(mat.Col(nil, j, dense))
		if diff := math.Abs(float64(dbeta[j]) - want); diff > tol {
			t.Errorf("dbeta[%d] = %v, want %v", j, dbeta[j], want)
		}
	}
}

// The two strategies must agree with each other on identical data,
// independent of the dispatch threshold.
func TestParamGradientStrategiesAgree(t *testing.T) {
	const m, n = 600, 40
	const tol = 0.01
	rng := rand.New(rand.NewSource(32))
	stream := newTestStream(t)

	ln, err := New(m, n, 1e-5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	x := randomMatrix(t, rng, m, n)
	dy := randomMatrix(t, rng, m, n)
	y, _ := tensor.Zeros(m, n)
	if err := ln.Forward(stream, x, nil, nil, y); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	simpleG := make([]float32, n)
	simpleB := make([]float32, n)
	tiledG := make([]float32, n)
	tiledB := make([]float32, n)
	ln.launchParamGradientsSimple(stream, dy.Data, x.Data, simpleG, simpleB)
	ln.launchParamGradientsTiled(stream, dy.Data, x.Data, tiledG, tiledB)
	stream.Synchronize()

	for j := 0; j < n; j++ {
		if diff := math.Abs(float64(simpleG[j]) - float64(tiledG[j])); diff > tol {
			t.Errorf("dgamma[%d]: simple %v, tiled %v", j, simpleG[j], tiledG[j])
		}
		if diff := math.Abs(float64(simpleB[j]) - float64(tiledB[j])); diff > tol {
			t.Errorf("dbeta[%d]: simple %v, tiled %v", j, simpleB[j], tiledB[j])
		}
	}
}

// Ragged shapes around the tile width must still cover every column.
func TestParamGradientTiledRaggedEdges(t *testing.T) {
	const tol = 0.05
	rng := rand.New(rand.NewSource(33))

	for _, dims := range [][2]int{{520, 33}, {513, 31}, {600, 1}} {
		m, n := dims[0], dims[1]
		x := randomMatrix(t, rng, m, n)
		dy := randomMatrix(t, rng, m, n)
		ln, dgamma, dbeta := runParamGradients(t, dy, x, m, n)

		wantDGamma, wantDBeta := referenceParamGradients(
			widen(dy.Data), widen(x.Data), widen(ln.Mean()), widen(ln.Rstd()), m, n)
		for j := 0; j < n; j++ {
			if diff := math.Abs(float64(dgamma[j]) - wantDGamma[j]); diff > tol {
				t.Errorf("M=%d N=%d: dgamma[%d] = %v, want %v", m, n, j, dgamma[j], wantDGamma[j])
			}
			if diff := math.Abs(float64(dbeta[j]) - wantDBeta[j]); diff > tol {
				t.Errorf("M=%d N=%d: dbeta[%d] = %v, want %v", m, n, j, dbeta[j], wantDBeta[j])
			}
		}
	}
}
