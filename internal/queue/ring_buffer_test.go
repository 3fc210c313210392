package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func noopJob() *Job {
	return &Job{Kind: "noop", Run: func(context.Context) error { return nil }}
}

func TestPushPop(t *testing.T) {
	rb := NewRingBuffer(4)

	job := &Job{Kind: "first"}
	if err := rb.Push(job); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	got, err := rb.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if got.Kind != "first" {
		t.Errorf("popped kind = %q, want first", got.Kind)
	}
}

func TestPopEmpty(t *testing.T) {
	rb := NewRingBuffer(4)
	if _, err := rb.Pop(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Pop() error = %v, want ErrQueueEmpty", err)
	}
}

func TestPushFull(t *testing.T) {
	rb := NewRingBuffer(2)
	for i := 0; i < 2; i++ {
		if err := rb.Push(noopJob()); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if err := rb.Push(noopJob()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push() on full queue error = %v, want ErrQueueFull", err)
	}
	if m := rb.Metrics(); m.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", m.Dropped)
	}
}

func TestFIFOWraparound(t *testing.T) {
	rb := NewRingBuffer(3)

	kinds := []string{"a", "b", "c", "d", "e"}
	for i, k := range kinds {
		if err := rb.Push(&Job{Kind: k}); err != nil {
			t.Fatalf("Push(%q) error = %v", k, err)
		}
		// Drain one early to force head/tail wraparound.
		if i == 1 {
			job, _ := rb.Pop()
			if job.Kind != "a" {
				t.Fatalf("popped %q, want a", job.Kind)
			}
		}
	}

	want := []string{"b", "c", "d", "e"}
	for _, k := range want {
		job, err := rb.Pop()
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if job.Kind != k {
			t.Errorf("popped %q, want %q", job.Kind, k)
		}
	}
}

func TestPushWaitBlocksUntilSpace(t *testing.T) {
	rb := NewRingBuffer(1)
	if err := rb.Push(noopJob()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	pushed := make(chan error, 1)
	go func() {
		pushed <- rb.PushWait(&Job{Kind: "waited"})
	}()

	select {
	case err := <-pushed:
		t.Fatalf("PushWait returned %v before space freed", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := rb.Pop(); err != nil {
		t.Fatalf("Pop() error = %v", err)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("PushWait error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PushWait did not unblock after Pop")
	}

	job, err := rb.Pop()
	if err != nil || job.Kind != "waited" {
		t.Errorf("popped %v, %v; want the waited job", job, err)
	}
}

func TestPushWaitUnblocksOnClose(t *testing.T) {
	rb := NewRingBuffer(1)
	rb.Push(noopJob())

	pushed := make(chan error, 1)
	go func() {
		pushed <- rb.PushWait(noopJob())
	}()

	time.Sleep(20 * time.Millisecond)
	rb.Close()

	select {
	case err := <-pushed:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("PushWait error = %v, want ErrQueueClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PushWait did not unblock on Close")
	}
}

func TestPopWithTimeout(t *testing.T) {
	rb := NewRingBuffer(4)

	start := time.Now()
	_, err := rb.PopWithTimeout(30 * time.Millisecond)
	if !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("error = %v, want ErrQueueEmpty", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("returned after %v, want to wait the timeout", elapsed)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		rb.Push(&Job{Kind: "late"})
	}()
	job, err := rb.PopWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("PopWithTimeout() error = %v", err)
	}
	if job.Kind != "late" {
		t.Errorf("popped %q, want late", job.Kind)
	}
}

func TestCloseDrainable(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Push(noopJob())
	rb.Push(noopJob())
	rb.Close()

	if err := rb.Push(noopJob()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close error = %v, want ErrQueueClosed", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := rb.Pop(); err != nil {
			t.Fatalf("draining Pop() error = %v", err)
		}
	}
	if _, err := rb.Pop(); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop on drained closed queue error = %v, want ErrQueueClosed", err)
	}
}

func TestConcurrentProducersConsumers(t *testing.T) {
	rb := NewRingBuffer(16)
	const producers, perProducer = 4, 100

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := rb.PushWait(noopJob()); err != nil {
					t.Errorf("PushWait error = %v", err)
					return
				}
			}
		}()
	}

	var popped int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for popped < producers*perProducer {
			if _, err := rb.PopWithTimeout(time.Second); err != nil {
				t.Errorf("PopWithTimeout error = %v", err)
				return
			}
			popped++
		}
	}()

	wg.Wait()
	<-done

	m := rb.Metrics()
	if m.Pushed != producers*perProducer || m.Popped != producers*perProducer {
		t.Errorf("metrics = %+v, want %d pushed and popped", m, producers*perProducer)
	}
}
