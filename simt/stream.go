package simt

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Stream executes kernel launches strictly in submission order. Blocks
// within one launch run concurrently over a bounded group of workers;
// consecutive launches never overlap, which is the only ordering guarantee
// the kernels rely on. A Stream must not be shared by concurrently
// submitting goroutines; callers that need overlap should use one stream
// per metadata instance.
type Stream struct {
	workers int
	tasks   chan func()
	pending sync.WaitGroup
}

// NewStream creates a stream backed by the given number of worker
// goroutines per launch. workers <= 0 selects GOMAXPROCS.
func NewStream(workers int) *Stream {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	s := &Stream{
		workers: workers,
		tasks:   make(chan func(), 64),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	for task := range s.tasks {
		task()
	}
}

// Launch enqueues a grid of gridDim independent blocks. kernel is invoked
// once per block index. The call returns as soon as the launch is queued;
// completion is observed through Synchronize. Launches with gridDim <= 0
// are dropped.
func (s *Stream) Launch(gridDim int, kernel func(block int)) {
	if gridDim <= 0 {
		return
	}
	s.pending.Add(1)
	s.tasks <- func() {
		defer s.pending.Done()
		g := new(errgroup.Group)
		g.SetLimit(s.workers)
		for b := 0; b < gridDim; b++ {
			b := b
			g.Go(func() error {
				kernel(b)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// Synchronize blocks until every launch submitted so far has completed.
func (s *Stream) Synchronize() {
	s.pending.Wait()
}

// Close stops the stream's executor once already-queued launches have run.
// Launching on a closed stream panics.
func (s *Stream) Close() {
	close(s.tasks)
}
