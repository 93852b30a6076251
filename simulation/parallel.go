package simulation

import (
	"math/rand/v2"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// parallelThreshold is the minimum filament count to use the worker pool.
// Below this, moving on the calling goroutine is faster.
const parallelThreshold = 256

// gaussianTableSize must be a power of two.
const gaussianTableSize = 1 << 14

// gaussianTable serves standard normal samples round-robin from a
// pregenerated table so movement never touches a shared generator.
type gaussianTable struct {
	values []float64
	next   int
}

func newGaussianTable(seed uint64) gaussianTable {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	values := make([]float64, gaussianTableSize)
	for i := range values {
		values[i] = dist.Rand()
	}
	return gaussianTable{values: values, next: int(seed % gaussianTableSize)}
}

func (g *gaussianTable) sample() float64 {
	v := g.values[g.next]
	g.next = (g.next + 1) & (gaussianTableSize - 1)
	return v
}

// workerScratch holds per-worker state and counters for one step.
type workerScratch struct {
	gauss      gaussianTable
	wallSlides int
	stalls     int
	removed    int
}

func (s *workerScratch) resetCounters() {
	s.wallSlides, s.stalls, s.removed = 0, 0, 0
}

// workChunk is a range of filaments for a worker to move.
type workChunk struct {
	start, end int
}

// workerPool moves filaments on persistent goroutines.
type workerPool struct {
	scratches  []workerScratch
	numWorkers int
	task       func(start, end int, scratch *workerScratch)

	workChan chan workChunk
	doneChan chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func newWorkerPool(numWorkers int, seed uint64) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	scratches := make([]workerScratch, numWorkers)
	for i := range scratches {
		scratches[i].gauss = newGaussianTable(seed + uint64(i)*0x2545f4914f6cdd1d)
	}
	return &workerPool{numWorkers: numWorkers, scratches: scratches}
}

func (p *workerPool) start() {
	if p.running {
		return
	}
	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// stop signals all workers to exit and waits for them.
func (p *workerPool) stop() {
	if !p.running {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()
	scratch := &p.scratches[id]

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.task(chunk.start, chunk.end, scratch)
			p.doneChan <- struct{}{}
		}
	}
}

// run applies the task to [0, n) and blocks until every chunk is done.
func (p *workerPool) run(n int) {
	for i := range p.scratches {
		p.scratches[i].resetCounters()
	}
	if n == 0 {
		return
	}
	if n < parallelThreshold || p.numWorkers == 1 {
		p.task(0, n, &p.scratches[0])
		return
	}
	p.start()

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers
	dispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- workChunk{start: start, end: end}
		dispatched++
	}
	for i := 0; i < dispatched; i++ {
		<-p.doneChan
	}
}

// totals sums the counters of the last run.
func (p *workerPool) totals() (wallSlides, stalls, removed int) {
	for i := range p.scratches {
		wallSlides += p.scratches[i].wallSlides
		stalls += p.scratches[i].stalls
		removed += p.scratches[i].removed
	}
	return
}
