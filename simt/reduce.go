// Package simt emulates the data-parallel execution model the compute
// kernels are written against: fixed-size groups of lock-step lanes
// (warps), larger barrier-synchronized groups of warps (blocks), and a
// stream that runs kernel launches in submission order. Lanes are
// represented as slices of per-lane values; a barrier is the boundary
// between two loops over the lanes.
package simt

// WarpSize is the number of lanes in one hardware-synchronous group.
const WarpSize = 32

// Float constrains the reduction primitives to floating-point lane values.
type Float interface {
	~float32 | ~float64
}

// WarpReduceSum sums the per-lane values with a butterfly reduction over
// log2(len(lanes)) steps. The total is returned and is also left in lane 0;
// the remaining lanes hold partial sums. The lane count must be a power of
// two no larger than WarpSize; the result is undefined otherwise.
func WarpReduceSum[T Float](lanes []T) T {
	for offset := len(lanes) / 2; offset > 0; offset >>= 1 {
		for i := 0; i < offset; i++ {
			lanes[i] += lanes[i+offset]
		}
	}
	return lanes[0]
}

// BlockReduceSum sums the per-lane values of a whole block: each warp is
// reduced with WarpReduceSum, the per-warp partial sums are staged in
// shared, and one more warp reduction over shared produces the block total.
// shared must have room for one element per warp in the block, and the
// warp count must itself be a power of two no larger than WarpSize.
// The lane values are clobbered.
func BlockReduceSum[T Float](lanes, shared []T) T {
	numWarps := (len(lanes) + WarpSize - 1) / WarpSize
	for w := 0; w < numWarps; w++ {
		lo := w * WarpSize
		hi := lo + WarpSize
		if hi > len(lanes) {
			hi = len(lanes)
		}
		shared[w] = WarpReduceSum(lanes[lo:hi])
	}
	return WarpReduceSum(shared[:numWarps])
}
