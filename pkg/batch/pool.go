package batch

import (
	"context"
	"sync"
)

// Job is a unit of work run by a Pool. Errors are the job's own business;
// the pool does not inspect them.
type Job func(ctx context.Context) error

// Pool is the interface the Runner schedules matching work on, so tests can
// inject failing implementations.
type Pool interface {
	Start(ctx context.Context)
	Submit(Job) error
	// SubmitCtx enqueues a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}

// WorkerPool runs jobs on a fixed number of goroutines.
type WorkerPool struct {
	jobs    chan Job
	quit    chan struct{}
	wg      sync.WaitGroup
	workers int

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

// NewWorkerPool creates a pool with the given number of workers and queue
// capacity. Non-positive values fall back to one worker and a queue twice
// the worker count.
func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &WorkerPool{
		jobs:    make(chan Job, queue),
		quit:    make(chan struct{}),
		workers: workers,
	}
}

// Start launches the workers. They run until ctx is done or the pool is
// closed and its queue drained.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					_ = job(ctx)
				}
			}
		}()
	}
}

// Submit enqueues a job, blocking while the queue is full.
func (p *WorkerPool) Submit(job Job) error {
	return p.SubmitCtx(context.Background(), job)
}

// SubmitCtx enqueues a job. It returns ErrPoolClosed if the pool is closed
// before the job is accepted and ctx.Err() if ctx ends first.
func (p *WorkerPool) SubmitCtx(ctx context.Context, job Job) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.pending.Add(1)
	p.mu.RUnlock()
	defer p.pending.Done()

	select {
	case p.jobs <- job:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, runs what is already queued and waits for the
// workers to exit. Blocked submitters get ErrPoolClosed.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.pending.Wait()
	close(p.jobs)
	p.wg.Wait()
}

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = &PoolError{"worker pool closed"}

// PoolError is the typed error of pool operations.
type PoolError struct{ msg string }

func (e *PoolError) Error() string { return e.msg }
