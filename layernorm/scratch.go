package layernorm

import (
	"fmt"
	"sync"

	"github.com/tsawler/go-lnorm/simt"
)

// reduceScratch holds the per-lane accumulators and shared staging area
// one block needs for a pair of block reductions. Pooled so concurrent
// blocks do not allocate per launch.
type reduceScratch struct {
	sum1   []float32
	sum2   []float32
	shared []float32
}

var reduceScratchPool = sync.Pool{
	New: func() any {
		return &reduceScratch{
			sum1:   make([]float32, blockReduceLanes),
			sum2:   make([]float32, blockReduceLanes),
			shared: make([]float32, blockReduceLanes/simt.WarpSize),
		}
	},
}

func getReduceScratch() *reduceScratch {
	return reduceScratchPool.Get().(*reduceScratch)
}

func putReduceScratch(sc *reduceScratch) {
	reduceScratchPool.Put(sc)
}

func errNilStream() error {
	return fmt.Errorf("%w: stream is required", ErrInvalidArgument)
}
