package runner

import (
	"sync"

	"github.com/malchev/fully-homomorphic-encryption/core/ir"
	"github.com/malchev/fully-homomorphic-encryption/runtime/gates"
)

// readyWork is one node whose operands are all available.
type readyWork struct {
	node     *ir.Node
	operands []gates.Ciphertext
	ec       *evalContext
}

// completedWork is the outcome of evaluating one node. A nil ciphertext
// with a nil error is a valid result: the node was structural.
type completedWork struct {
	node *ir.Node
	ct   gates.Ciphertext
	err  error
}

// workerPool is a fixed set of goroutines evaluating nodes. Its lifetime
// is the owning runner's lifetime: workers start with the runner and exit
// when Close drains the input channel.
type workerPool struct {
	size   int
	input  chan readyWork
	output chan completedWork

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// newWorkerPool starts size workers. Queues are buffered per worker so a
// round of up to size items never blocks the coordinator spuriously;
// larger rounds interleave sends with completion receives.
func newWorkerPool(size int) *workerPool {
	p := &workerPool{
		size:   size,
		input:  make(chan readyWork, size),
		output: make(chan completedWork, size),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// worker pulls ready nodes until the input channel closes. Workers touch
// only the two channels; the value table and unevaluated set stay with the
// coordinator.
func (p *workerPool) worker() {
	defer p.wg.Done()
	for work := range p.input {
		ct, err := work.ec.evalNode(work.node, work.operands)
		p.output <- completedWork{node: work.node, ct: ct, err: err}
	}
}

// Close shuts the pool down and joins every worker. Safe to call more
// than once.
func (p *workerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.input)
		p.wg.Wait()
	})
}
