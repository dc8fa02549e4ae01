package task

import (
	"context"
	"sync"
	"time"

	"github.com/tytools/tytools/pkg/tyerr"
)

// Pool runs tasks on a bounded set of worker goroutines, started lazily
// and shut down after sitting idle past IdleTimeout. The defaults match
// task.c's: 16 worker goroutines, 10 seconds idle before a worker exits.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxThreads    int
	unusedTimeout time.Duration

	started int
	busy    int
	pending []*Task
}

// NewPool creates a pool with the default worker cap and idle timeout.
func NewPool() *Pool {
	p := &Pool{
		maxThreads:    16,
		unusedTimeout: 10 * time.Second,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

var (
	defaultPoolOnce sync.Once
	defaultPoolVal  *Pool
)

// DefaultPool returns the process-wide pool tasks use when started
// without an explicit one, created on first use.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPoolVal = NewPool()
	})
	return defaultPoolVal
}

// MaxThreads returns the pool's current worker cap.
func (p *Pool) MaxThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxThreads
}

// SetMaxThreads changes the pool's worker cap. Raising it may start new
// workers immediately to drain the backlog; lowering it wakes idle
// workers so enough of them exit to reach the new cap.
func (p *Pool) SetMaxThreads(max int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max > p.maxThreads {
		for range p.pending {
			if p.started >= max {
				break
			}
			p.startWorkerLocked()
		}
	} else {
		p.cond.Broadcast()
	}
	p.maxThreads = max
}

// IdleTimeout returns how long an idle worker waits for a task before
// exiting.
func (p *Pool) IdleTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unusedTimeout
}

// SetIdleTimeout changes how long an idle worker waits for a task before
// exiting.
func (p *Pool) SetIdleTimeout(d time.Duration) {
	p.mu.Lock()
	p.unusedTimeout = d
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Stats reports the pool's current worker counts, for the
// started-at-most-max/busy-at-most-started invariant.
type Stats struct {
	Started int
	Busy    int
	Pending int
}

// Stats returns a snapshot of the pool's worker and queue counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Started: p.started, Busy: p.busy, Pending: len(p.pending)}
}

// enqueue adds t to the pending queue, starting a new worker first if
// every existing one is already busy and the pool has room to grow.
func (p *Pool) enqueue(ctx context.Context, t *Task) error {
	p.mu.Lock()

	if p.busy == p.started && p.started < p.maxThreads {
		p.startWorkerLocked()
	}

	t.Ref()
	p.pending = append(p.pending, t)
	p.cond.Signal()

	p.mu.Unlock()

	t.setStatus(StatusPending)
	return nil
}

// removePending removes t from the pending queue if it's still there,
// reporting whether it was found. Callers must hold p.mu.
func (p *Pool) removePending(t *Task) bool {
	for i, cur := range p.pending {
		if cur == t {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			t.Unref()
			return true
		}
	}
	return false
}

// startWorkerLocked spawns a new worker goroutine. Callers must hold
// p.mu.
func (p *Pool) startWorkerLocked() {
	p.started++
	p.busy++
	go p.workerLoop()
}

// workerLoop is a pool worker: pull a task off the queue, run it, repeat,
// until the pool shrinks below this worker's slot or no task shows up
// within the idle timeout.
func (p *Pool) workerLoop() {
	for {
		p.mu.Lock()
		p.busy--

		task, ok := p.waitForTaskLocked()
		if !ok {
			p.started--
			p.mu.Unlock()
			return
		}

		p.busy++
		p.mu.Unlock()

		task.execute(context.Background())
		task.Unref()
	}
}

// waitForTaskLocked pops the next pending task, waiting once up to the
// pool's idle timeout if the queue is empty. Callers must hold p.mu; it
// is released and reacquired internally while waiting.
func (p *Pool) waitForTaskLocked() (*Task, bool) {
	deadline := time.Now().Add(p.unusedTimeout)
	waited := false

	for {
		if p.started > p.maxThreads {
			return nil, false
		}
		if len(p.pending) > 0 {
			task := p.pending[0]
			p.pending = p.pending[1:]
			return task, true
		}
		if waited {
			return nil, false
		}
		waited = true

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		waitWithTimeout(p.cond, remaining)
	}
}

// Close stops accepting new work: pending tasks are dropped, every
// worker is told to exit once its current task finishes, and Close
// blocks until they have.
func (p *Pool) Close() error {
	p.mu.Lock()
	for _, t := range p.pending {
		t.Unref()
	}
	p.pending = nil
	p.maxThreads = 0
	p.cond.Broadcast()
	started := p.started
	p.mu.Unlock()

	if started == 0 {
		return nil
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		p.mu.Lock()
		done := p.started == 0
		p.mu.Unlock()
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return tyerr.New(tyerr.KindIO, "pool workers did not stop in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
