// Package scheduler runs CPU-bound tasks on a bounded pool of worker
// goroutines and hands back futures that resolve when a task finishes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed  = errors.New("worker pool closed")
	ErrWorkerFault = errors.New("worker fault")
)

// FaultError carries a panic recovered from a task
type FaultError struct {
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

func (e *FaultError) Unwrap() error {
	return ErrWorkerFault
}

// Stats is a snapshot of pool occupancy
type Stats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	InFlight int `json:"in_flight"`
}

// Pool is a fixed set of workers fed from a bounded queue
type Pool struct {
	size      int
	tasks     chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeMu   sync.RWMutex
	closeOnce sync.Once
	closed    bool
	inFlight  atomic.Int64
}

// New starts a pool. size <= 0 uses GOMAXPROCS; queue < 0 means unbuffered.
func New(size, queue int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if queue < 0 {
		queue = 0
	}

	p := &Pool{
		size:  size,
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.inFlight.Add(1)
		task()
		p.inFlight.Add(-1)
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Stats reports the current occupancy
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:  p.size,
		Queued:   len(p.tasks),
		InFlight: int(p.inFlight.Load()),
	}
}

// Close stops accepting tasks, lets queued tasks run and waits for workers
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		// wake submitters blocked on a full queue before taking the lock
		close(p.done)

		p.closeMu.Lock()
		p.closed = true
		close(p.tasks)
		p.closeMu.Unlock()

		p.wg.Wait()
	})
}

// enqueue hands task to a worker, blocking while the queue is full
func (p *Pool) enqueue(ctx context.Context, task func()) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.done:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Future is the pending result of a submitted task
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

// Done is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx ends. When ctx ends first the
// task keeps running and its result is discarded.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on the pool. If the pool is closed or ctx ends before a
// worker accepts the task, the future resolves with that error and fn never
// runs. A panic in fn resolves the future with a *FaultError.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	task := func() {
		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.resolve(zero, &FaultError{Value: r, Stack: debug.Stack()})
				return
			}
			f.resolve(v, err)
		}()
		v, err = fn()
	}

	if err := p.enqueue(ctx, task); err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}

// Completed returns a future that is already resolved. It stands in for
// work that failed before it could be submitted.
func Completed[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, err)
	return f
}
