// Package queue provides the bounded job queue and worker pool running the
// pipeline's asynchronous side effects: observable extraction, storage
// writes, archival and correlation.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when attempting to pop from an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// Job is one asynchronous unit of work dispatched by the pipeline.
type Job struct {
	Kind string
	Run  func(ctx context.Context) error
}

// RingBuffer is a thread-safe bounded circular buffer of jobs. Submitters
// block when the buffer is full; unbounded growth under burst is never
// allowed.
type RingBuffer struct {
	buffer []*Job
	size   int
	head   int
	tail   int
	count  int
	closed bool
	mu     sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// NewRingBuffer creates a RingBuffer with the specified capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10000
	}
	rb := &RingBuffer{
		buffer: make([]*Job, size),
		size:   size,
	}
	rb.notEmpty = sync.NewCond(&rb.mu)
	rb.notFull = sync.NewCond(&rb.mu)
	return rb
}

// Push adds a job without blocking. Returns ErrQueueFull at capacity.
func (rb *RingBuffer) Push(job *Job) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}
	if rb.count == rb.size {
		atomic.AddUint64(&rb.totalDropped, 1)
		return ErrQueueFull
	}
	rb.pushLocked(job)
	return nil
}

// PushWait adds a job, blocking while the buffer is full until space frees
// up or the queue closes.
func (rb *RingBuffer) PushWait(job *Job) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == rb.size && !rb.closed {
		rb.notFull.Wait()
	}
	if rb.closed {
		return ErrQueueClosed
	}
	rb.pushLocked(job)
	return nil
}

func (rb *RingBuffer) pushLocked(job *Job) {
	rb.buffer[rb.tail] = job
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	atomic.AddUint64(&rb.totalPushed, 1)
	rb.notEmpty.Signal()
}

// Pop removes and returns a job. Returns ErrQueueEmpty when empty.
func (rb *RingBuffer) Pop() (*Job, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		if rb.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

// PopWithTimeout removes and returns a job, waiting up to timeout for one to
// arrive. Returns ErrQueueEmpty on timeout, ErrQueueClosed once the queue is
// closed and drained.
func (rb *RingBuffer) PopWithTimeout(timeout time.Duration) (*Job, error) {
	deadline := time.Now().Add(timeout)

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}

		done := make(chan struct{})
		go func() {
			time.Sleep(remaining)
			rb.mu.Lock()
			rb.notEmpty.Broadcast()
			rb.mu.Unlock()
			close(done)
		}()

		rb.notEmpty.Wait()

		select {
		case <-done:
		default:
		}
	}

	if rb.count == 0 {
		if rb.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

func (rb *RingBuffer) popLocked() *Job {
	job := rb.buffer[rb.head]
	rb.buffer[rb.head] = nil
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	atomic.AddUint64(&rb.totalPopped, 1)
	rb.notFull.Signal()
	return job
}

// Len returns the current number of queued jobs.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the capacity of the queue.
func (rb *RingBuffer) Cap() int {
	return rb.size
}

// Close closes the queue and wakes all waiters. Queued jobs can still be
// drained; new pushes fail.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.notEmpty.Broadcast()
	rb.notFull.Broadcast()
}

// Metrics returns queue statistics.
func (rb *RingBuffer) Metrics() QueueMetrics {
	return QueueMetrics{
		Pushed:   atomic.LoadUint64(&rb.totalPushed),
		Popped:   atomic.LoadUint64(&rb.totalPopped),
		Dropped:  atomic.LoadUint64(&rb.totalDropped),
		Depth:    rb.Len(),
		Capacity: rb.size,
	}
}

// QueueMetrics holds statistics about queue operations.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
