package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      8,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Pool runs queued jobs on a fixed set of workers. A job failure or panic is
// logged and isolated; it never takes a worker down.
type Pool struct {
	queue  *RingBuffer
	config PoolConfig
	logger *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}

	executed uint64
	failed   uint64
}

// NewPool creates a Pool draining the given queue.
func NewPool(q *RingBuffer, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return &Pool{
		queue:  q,
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Submit enqueues a job, blocking while the queue is full.
func (p *Pool) Submit(job *Job) error {
	return p.queue.PushWait(job)
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.config.Workers)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			p.drain(ctx, id)
			return
		default:
			job, err := p.queue.PopWithTimeout(p.config.PollInterval)
			if err != nil {
				if err == ErrQueueClosed {
					return
				}
				continue
			}
			p.run(ctx, id, job)
		}
	}
}

// drain runs jobs until the queue is empty. Work accepted before the stop
// signal still executes; only context cancellation abandons it.
func (p *Pool) drain(ctx context.Context, id int) {
	for ctx.Err() == nil {
		job, err := p.queue.Pop()
		if err != nil {
			return
		}
		p.run(ctx, id, job)
	}
}

// run executes one job with panic containment.
func (p *Pool) run(ctx context.Context, workerID int, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&p.failed, 1)
			p.logger.Error("job panicked",
				"worker_id", workerID,
				"kind", job.Kind,
				"panic", r,
			)
		}
	}()

	if err := job.Run(ctx); err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Error("job failed",
			"worker_id", workerID,
			"kind", job.Kind,
			"error", err,
		)
		return
	}
	atomic.AddUint64(&p.executed, 1)
}

// Stop signals the workers, who finish their in-flight job and then drain
// the remaining queue, and waits up to ShutdownWait for them. Queued work is
// lost only when the drain outlives the timeout and the caller cancels the
// pool context.
func (p *Pool) Stop() {
	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(p.config.ShutdownWait):
		p.logger.Warn("worker pool shutdown timed out",
			"pending", p.queue.Len(),
		)
	}
}

// Stats returns pool counters.
func (p *Pool) Stats() (executed, failed uint64) {
	return atomic.LoadUint64(&p.executed), atomic.LoadUint64(&p.failed)
}
