// Package workers provides the fixed-size background pool that executes
// deferred pose graph work such as optimization passes.
package workers

import (
	"sync"

	"github.com/edaniels/golog"
	"go.viam.com/utils"
)

// Pool runs scheduled work on a fixed number of background goroutines in
// FIFO order. A pool of size zero runs work inline on the caller.
type Pool struct {
	logger  golog.Logger
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	pending sync.WaitGroup

	activeBackgroundWorkers sync.WaitGroup
}

// NewPool starts size background workers.
func NewPool(size int, logger golog.Logger) *Pool {
	if size < 0 {
		panic("workers: pool size must be non-negative")
	}
	p := &Pool{logger: logger, workers: size}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.activeBackgroundWorkers.Add(1)
		utils.PanicCapturingGo(func() {
			defer p.activeBackgroundWorkers.Done()
			p.work()
		})
	}
	return p
}

func (p *Pool) work() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task()
		p.pending.Done()
	}
}

// Schedule queues work for execution. With no background workers the work
// runs synchronously before Schedule returns. Scheduling on a closed pool
// is a programmer error.
func (p *Pool) Schedule(work func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("workers: schedule on closed pool")
	}
	p.pending.Add(1)
	if p.workers == 0 {
		p.mu.Unlock()
		work()
		p.pending.Done()
		return
	}
	p.queue = append(p.queue, work)
	p.mu.Unlock()
	p.cond.Signal()
}

// Drain blocks until all scheduled work has completed.
func (p *Pool) Drain() {
	p.pending.Wait()
}

// Close drains outstanding work and stops the workers. Further Schedule
// calls panic.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.activeBackgroundWorkers.Wait()
	if p.logger != nil {
		p.logger.Debug("worker pool closed")
	}
}
