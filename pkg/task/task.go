// Package task runs long, cancelable operations — firmware uploads, serial
// sessions, board resets — on a worker pool, and lets callers observe or
// wait on their progress through a small state machine: ready, pending,
// running, finished.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tytools/tytools/pkg/message"
)

// Status is a task's position in its lifecycle. Status only ever
// increases; once Finished, a task never returns to an earlier state.
type Status int

const (
	StatusReady Status = iota
	StatusPending
	StatusRunning
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// RunFunc is the body of a task. It receives the context a caller may
// have canceled and the Task itself, so it can report progress through
// the message bus without needing a separate handle.
type RunFunc func(ctx context.Context, t *Task) error

type taskCtxKey struct{}

// FromContext returns the Task currently executing in ctx, if run inside
// one — the Go analogue of task.c's thread-local current_task, threaded
// explicitly instead of scraped from goroutine state (Go has none to
// scrape).
func FromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(*Task)
	return t, ok
}

// Task is one unit of work, refcounted like board.Interface: the pool
// holds a reference while a task is queued or running, and callers that
// retain a Task past that should Ref it themselves.
type Task struct {
	name string
	run  RunFunc

	mu     sync.Mutex
	cond   *sync.Cond
	status Status
	err    error

	finalize func(*Task)

	result        any
	resultCleanup func(any)

	userCleanup     func(any)
	userCleanupData any

	pool *Pool

	refcount int32
}

// New creates a task in StatusReady. It does nothing until Start or Join
// is called.
func New(name string, run RunFunc) *Task {
	t := &Task{name: name, run: run, refcount: 1}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Name returns the task's human label, used in log lines.
func (t *Task) Name() string { return t.name }

// SetFinalize attaches a callable that runs exactly once no matter which
// path the task takes: at the end of execute if the task actually runs,
// or from the task's final Unref if it never does (created, attached,
// but abandoned before Start). Call before Start; run is free to call it
// itself too, since RunFunc receives the Task.
func (t *Task) SetFinalize(f func(*Task)) {
	t.mu.Lock()
	t.finalize = f
	t.mu.Unlock()
}

// SetResult attaches an opaque result value to the task, with an optional
// cleanup invoked once, on the task's final Unref — a payload distinct
// from the error Err returns, for a RunFunc that wants to hand a caller
// something more than pass/fail.
func (t *Task) SetResult(result any, cleanup func(any)) {
	t.mu.Lock()
	t.result = result
	t.resultCleanup = cleanup
	t.mu.Unlock()
}

// Result returns the value attached by SetResult, or nil if none was set.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// SetUserCleanup attaches a callable+data pair run once, on the task's
// final Unref, independent of whatever SetResult's cleanup does.
func (t *Task) SetUserCleanup(f func(any), data any) {
	t.mu.Lock()
	t.userCleanup = f
	t.userCleanupData = data
	t.mu.Unlock()
}

// Ref increments the task's refcount and returns it.
func (t *Task) Ref() *Task {
	atomic.AddInt32(&t.refcount, 1)
	return t
}

// Unref decrements the task's refcount. Reaching zero runs, in order, the
// SetResult cleanup, the SetUserCleanup callable, and finalize if execute
// never ran it — the same fallback ty_task_unref provides for a task that
// was created and attached to but abandoned before Start.
func (t *Task) Unref() {
	if atomic.AddInt32(&t.refcount, -1) > 0 {
		return
	}

	t.mu.Lock()
	result, resultCleanup := t.result, t.resultCleanup
	userCleanup, userData := t.userCleanup, t.userCleanupData
	t.mu.Unlock()

	if resultCleanup != nil {
		resultCleanup(result)
	}
	if userCleanup != nil {
		userCleanup(userData)
	}
	t.runFinalizeOnce()
}

// runFinalizeOnce invokes finalize and clears it, so whichever of execute
// or Unref gets there first is the only one that runs it.
func (t *Task) runFinalizeOnce() {
	t.mu.Lock()
	f := t.finalize
	t.finalize = nil
	t.mu.Unlock()

	if f != nil {
		f(t)
	}
}

// Status returns the task's current lifecycle status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the error RunFunc returned, or nil if the task hasn't
// finished or completed without error.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) setStatus(status Status) {
	t.mu.Lock()
	t.status = status
	t.cond.Broadcast()
	t.mu.Unlock()

	message.Emit(message.Status(t.name, status.String()))
}

// execute runs the task body directly in the calling goroutine,
// transitioning Running then Finished. It does not touch the pool;
// callers (the pool's worker loop, or Wait's in-caller fast path) are
// responsible for any pool bookkeeping around this call.
func (t *Task) execute(ctx context.Context) {
	t.setStatus(StatusRunning)

	ctx = context.WithValue(ctx, taskCtxKey{}, t)
	err := t.run(ctx, t)

	t.mu.Lock()
	t.err = err
	t.mu.Unlock()

	t.runFinalizeOnce()
	t.setStatus(StatusFinished)
}

// Start enqueues the task on pool, or the package default pool if pool is
// nil. The task must be in StatusReady.
func (t *Task) Start(ctx context.Context, pool *Pool) error {
	if pool == nil {
		pool = DefaultPool()
	}
	t.pool = pool
	return pool.enqueue(ctx, t)
}

// Wait blocks until the task reaches status or timeout elapses (zero
// means forever, negative means "don't block, and run the task inline
// right now if it's only Pending"). It returns whether the task reached
// status in time.
//
// The negative-timeout-and-Finished combination mirrors
// ty_task_wait's fast path: rather than waiting on a worker thread that
// may not even have started yet, Wait pulls the task off its pool's
// pending queue and runs it in the caller's own goroutine.
func (t *Task) Wait(ctx context.Context, status Status, timeout time.Duration) bool {
	if status == StatusFinished && timeout < 0 {
		pool := t.pool
		if pool != nil {
			pool.mu.Lock()
			if t.Status() == StatusPending {
				if pool.removePending(t) {
					t.mu.Lock()
					t.status = StatusReady
					t.mu.Unlock()
				}
			}
			pool.mu.Unlock()
		}

		if t.Status() == StatusReady {
			t.execute(ctx)
			return true
		}
	} else if t.Status() == StatusReady {
		if err := t.Start(ctx, t.pool); err != nil {
			return false
		}
	}

	return t.waitStatusAtLeast(status, timeout)
}

func (t *Task) waitStatusAtLeast(status Status, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timeout == 0 {
		for t.status < status {
			t.cond.Wait()
		}
		return true
	}

	deadline := time.Now().Add(timeout)
	for t.status < status {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return t.status >= status
		}
		waitWithTimeout(t.cond, remaining)
	}
	return true
}

// waitWithTimeout waits on cond for up to d, using a timer to break the
// wait instead of sleeping past it — sync.Cond has no native
// wait-with-timeout. The caller must hold cond.L.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}

// Join waits for the task to finish, running it inline if it hasn't
// started yet, and returns the error its RunFunc produced.
func (t *Task) Join(ctx context.Context) error {
	if !t.Wait(ctx, StatusFinished, -1) {
		t.waitStatusAtLeast(StatusFinished, 0)
	}
	return t.Err()
}
