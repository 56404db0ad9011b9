package layernorm

import (
	"github.com/tsawler/go-lnorm/simt"
)

// launchParamGradients reduces, per column, across all M rows:
//
//	dgamma[j] = sum_i dy[i,j] * (x[i,j] - mean[i]) * rstd[i]
//	dbeta[j]  = sum_i dy[i,j]
//
// Either output may be nil, which suppresses its computation. Two
// strategies compute the same sums: a serial per-column scan for small
// row counts, and a tiled cooperative reduction that amortizes the row
// traversal when M is large.
func (l *LayerNorm) launchParamGradients(stream *simt.Stream, dy, x, dgamma, dbeta []float32) {
	if l.m < paramGradThreshold {
		l.launchParamGradientsSimple(stream, dy, x, dgamma, dbeta)
	} else {
		l.launchParamGradientsTiled(stream, dy, x, dgamma, dbeta)
	}
}

// launchParamGradientsSimple assigns one lane per column; each lane scans
// all M rows sequentially, accumulating both sums in registers. No
// synchronization is needed. The nil checks select a loop variant once
// per block, and a suppressed output costs no reduction work at all.
func (l *LayerNorm) launchParamGradientsSimple(stream *simt.Stream, dy, x, dgamma, dbeta []float32) {
	m, n := l.m, l.n
	grid := (n + elementwiseLanes - 1) / elementwiseLanes
	stream.Launch(grid, func(b int) {
		lo := b * elementwiseLanes
		hi := lo + elementwiseLanes
		if hi > n {
			hi = n
		}
		switch {
		case dgamma != nil && dbeta != nil:
			for j := lo; j < hi; j++ {
				var sum1, sum2 float32
				for i := 0; i < m; i++ {
					v := dy[i*n+j]
					sum1 += v * (x[i*n+j] - l.mean[i]) * l.rstd[i]
					sum2 += v
				}
				dgamma[j] = sum1
				dbeta[j] = sum2
			}
		case dgamma != nil:
			for j := lo; j < hi; j++ {
				var sum1 float32
				for i := 0; i < m; i++ {
					sum1 += dy[i*n+j] * (x[i*n+j] - l.mean[i]) * l.rstd[i]
				}
				dgamma[j] = sum1
			}
		case dbeta != nil:
			for j := lo; j < hi; j++ {
				var sum2 float32
				for i := 0; i < m; i++ {
					sum2 += dy[i*n+j]
				}
				dbeta[j] = sum2
			}
		}
	})
}

// launchParamGradientsTiled covers colwiseTileSize columns per block with
// a square cooperative tile. The thread tile is colwiseTileSize lanes wide
// and half that deep; each thread strides the row axis at full-tile
// granularity and accumulates two rows per iteration, one for the upper
// half of the tile and one for the lower. The partial sums are staged in
// a shared tile, read back with swapped coordinates (a shared-memory
// transpose), and warp-reduced so that each of the tile's columns is
// finished by one warp. Two reduction passes retire the upper and lower
// halves of the tile.
func (l *LayerNorm) launchParamGradientsTiled(stream *simt.Stream, dy, x, dgamma, dbeta []float32) {
	m, n := l.m, l.n
	const tile = colwiseTileSize
	const halfTile = tile / 2
	grid := (n + tile - 1) / tile
	stream.Launch(grid, func(b int) {
		var gShared, bShared [tile][tile]float32

		// Accumulation phase: partial sums per thread into the shared tile.
		for ty := 0; ty < halfTile; ty++ {
			for tx := 0; tx < tile; tx++ {
				j := b*tile + tx
				if j >= n {
					continue
				}
				var dgSum1, dbSum1, dgSum2, dbSum2 float32
				for i := ty; i < m; i += tile {
					i1, i2 := i, i+halfTile
					v := dy[i1*n+j]
					dgSum1 += v * (x[i1*n+j] - l.mean[i1]) * l.rstd[i1]
					dbSum1 += v
					if i2 < m {
						w := dy[i2*n+j]
						dgSum2 += w * (x[i2*n+j] - l.mean[i2]) * l.rstd[i2]
						dbSum2 += w
					}
				}
				gShared[ty][tx] = dgSum1
				gShared[ty+halfTile][tx] = dgSum2
				bShared[ty][tx] = dbSum1
				bShared[ty+halfTile][tx] = dbSum2
			}
		}

		// Reduction phase: transposed read, then one warp per tile column.
		var laneG, laneB [tile]float32
		for ty := 0; ty < halfTile; ty++ {
			for tx := 0; tx < tile; tx++ {
				laneG[tx] = gShared[tx][ty]
				laneB[tx] = bShared[tx][ty]
			}
			sumG := simt.WarpReduceSum(laneG[:])
			sumB := simt.WarpReduceSum(laneB[:])
			if j := b*tile + ty; j < n {
				if dgamma != nil {
					dgamma[j] = sumG
				}
				if dbeta != nil {
					dbeta[j] = sumB
				}
			}

			for tx := 0; tx < tile; tx++ {
				laneG[tx] = gShared[tx][ty+halfTile]
				laneB[tx] = bShared[tx][ty+halfTile]
			}
			sumG = simt.WarpReduceSum(laneG[:])
			sumB = simt.WarpReduceSum(laneB[:])
			if j := b*tile + ty + halfTile; j < n {
				if dgamma != nil {
					dgamma[j] = sumG
				}
				if dbeta != nil {
					dbeta[j] = sumB
				}
			}
		}
	})
}
