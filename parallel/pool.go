// Package parallel runs per-element work over contiguous index ranges on a
// persistent worker pool.
package parallel

import (
	"runtime"
	"sync"
)

// parallelThreshold is the minimum element count to use the pool.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 256

// Mode selects how a loop is scheduled.
type Mode uint8

const (
	// Parallel splits the range into contiguous chunks, one per worker.
	Parallel Mode = iota
	// Serial runs the whole range on the calling goroutine. Use it for phases
	// that write shared state (matrix assembly, particle scatter).
	Serial
)

// workChunk represents a range of elements for a worker to process.
type workChunk struct {
	start, end int
	fn         func(i0, i1 int)
	wg         *sync.WaitGroup
}

// Pool holds persistent worker goroutines. A nil *Pool runs everything serially.
// Loops must not be nested: a chunk must not call For on the same pool.
type Pool struct {
	numWorkers int

	workChan chan workChunk // sends work to workers
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers

	mu      sync.Mutex
	running bool
}

// NewPool creates a pool with the given worker count (<= 0 means GOMAXPROCS).
// Workers start lazily on the first parallel loop.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: workers}
}

var (
	defaultPool *Pool
	defaultOnce sync.Once
)

// Default returns the process-wide pool sized to GOMAXPROCS.
func Default() *Pool {
	defaultOnce.Do(func() { defaultPool = NewPool(0) })
	return defaultPool
}

// SetDefaultWorkers replaces the process-wide pool with one of the given
// size. It must not race with running loops.
func SetDefaultWorkers(workers int) {
	old := Default()
	defaultPool = NewPool(workers)
	old.Close()
}

// Workers returns the worker count.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.numWorkers
}

// startWorkers launches persistent worker goroutines.
func (p *Pool) startWorkers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Close signals all workers to exit and waits for them. The pool restarts on
// the next parallel loop.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk := <-p.workChan:
			chunk.fn(chunk.start, chunk.end)
			chunk.wg.Done()
		}
	}
}

// ForRange calls fn over contiguous sub-ranges covering [0, n) and returns
// once every sub-range is done.
func (p *Pool) ForRange(n int, mode Mode, fn func(i0, i1 int)) {
	if n <= 0 {
		return
	}
	if p == nil || mode == Serial || n < parallelThreshold || p.numWorkers < 2 {
		fn(0, n)
		return
	}

	p.startWorkers()

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	var wg sync.WaitGroup
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		p.workChan <- workChunk{start: start, end: end, fn: fn, wg: &wg}
	}
	wg.Wait()
}

// For calls fn once per element of [0, n).
func (p *Pool) For(n int, mode Mode, fn func(i int)) {
	p.ForRange(n, mode, func(i0, i1 int) {
		for i := i0; i < i1; i++ {
			fn(i)
		}
	})
}

// For runs a per-element loop on the default pool.
func For(n int, mode Mode, fn func(i int)) { Default().For(n, mode, fn) }

// ForRange runs a range loop on the default pool.
func ForRange(n int, mode Mode, fn func(i0, i1 int)) { Default().ForRange(n, mode, fn) }
