package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/fulfillment/pkg/ports"
	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Do once the pool is shutting down
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is a unit of work run by one worker
type Job func(ctx context.Context) error

// Pool manages a fixed set of worker goroutines. It bounds how many step
// dispatches talk to collaborators at the same time across all executions.
type Pool struct {
	size    int
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	jobs    chan *request
	queued  atomic.Int64
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

type request struct {
	ctx  context.Context
	job  Job
	done chan error
}

// worker represents a single worker goroutine
type worker struct {
	id     string
	pool   *Pool
	status WorkerStatus
	mu     sync.RWMutex
	since  time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(size int, metrics ports.MetricsCollector, logger *zap.Logger, healthCheckInterval time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan *request),
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
	}
	pool.health = newHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true

	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			status: WorkerStatusIdle,
			since:  time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.health.watch(p.ctx)
	}()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Do hands job to the next free worker and waits for it to finish. It
// returns early only when ctx ends or the pool stops before a worker picks
// the job up.
func (p *Pool) Do(ctx context.Context, job Job) error {
	req := &request{ctx: ctx, job: job, done: make(chan error, 1)}

	p.queued.Add(1)
	err := p.handOff(ctx, req)
	p.queued.Add(-1)
	if err != nil {
		return err
	}
	return <-req.done
}

func (p *Pool) handOff(ctx context.Context, req *request) error {
	select {
	case p.jobs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Shutdown stops accepting jobs and waits for running jobs to finish
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

type workerState struct {
	status WorkerStatus
	since  time.Time
}

// workerStates returns the status of every started worker and when it
// entered that status
func (p *Pool) workerStates() []workerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]workerState, 0, len(p.workers))
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		out = append(out, workerState{status: w.status, since: w.since})
		w.mu.RUnlock()
	}
	return out
}

// Health returns the pool health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case req := <-w.pool.jobs:
			req.done <- w.execute(req)
		}
	}
}

func (w *worker) execute(req *request) (err error) {
	w.setStatus(WorkerStatusBusy)

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				zap.String("worker_id", w.id),
				zap.Any("panic", r))
			err = fmt.Errorf("job panicked: %v", r)
		}
		w.setStatus(WorkerStatusIdle)
	}()

	return req.job(req.ctx)
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.since = time.Now()
	w.mu.Unlock()
}
