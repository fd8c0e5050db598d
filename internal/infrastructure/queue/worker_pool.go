package queue

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
)

const channelBuffer = 256

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("worker pool closed")

// Job is a unit of CPU-bound work executed on a pool worker.
type Job func()

// WorkerPool runs CPU-bound jobs (credential hashing) on a fixed set of
// worker goroutines so a burst of slow hashes cannot starve the request
// handlers.
type WorkerPool struct {
	jobs    chan Job
	workers int
	log     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	onDepth func(int)
}

// NewWorkerPool creates a pool with numWorkers workers.
// If numWorkers <= 0, GOMAXPROCS is used.
func NewWorkerPool(numWorkers int, log zerolog.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		jobs:    make(chan Job, channelBuffer),
		workers: numWorkers,
		log:     log,
	}
}

// OnQueueDepth registers a callback invoked with the pending job count
// whenever a job is queued or picked up. Must be called before Start.
func (p *WorkerPool) OnQueueDepth(fn func(int)) {
	p.onDepth = fn
}

// Workers reports the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.workers }

// Start launches all worker goroutines. Workers drain the queue and exit
// after Stop.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
	p.log.Debug().Int("workers", p.workers).Msg("worker pool started")
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues fn and blocks until it has run or ctx is done. When ctx is
// cancelled while fn is still queued, fn may still run later; its result is
// simply discarded by the caller.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.reportDepth()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) reportDepth() {
	if p.onDepth != nil {
		p.onDepth(len(p.jobs))
	}
}

func (p *WorkerPool) runWorker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.reportDepth()
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error().Interface("panic", r).Int("worker_id", id).Msg("job panicked")
				}
			}()
			job()
		}()
	}
}
