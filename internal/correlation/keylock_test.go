package correlation

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLocksSerializeSameKey(t *testing.T) {
	k := newKeyLocks()

	const holders = 64
	counter := 0 // guarded only by the key lock

	var wg sync.WaitGroup
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("cr-1|source_ip=1.2.3.4")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != holders {
		t.Errorf("counter = %d, want %d", counter, holders)
	}
	if len(k.locks) != 0 {
		t.Errorf("locks map holds %d entries after the last release, want 0", len(k.locks))
	}
}

func TestKeyLocksDistinctKeysDoNotBlock(t *testing.T) {
	k := newKeyLocks()

	unlockA := k.lock("a")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlock := k.lock("b")
		unlock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on an unrelated key blocked behind a held one")
	}
}

func TestKeyLocksReacquireAfterRelease(t *testing.T) {
	k := newKeyLocks()

	unlock := k.lock("a")
	unlock()
	if len(k.locks) != 0 {
		t.Fatalf("locks map holds %d entries, want 0", len(k.locks))
	}

	// A fresh acquisition after the entry was dropped must still work.
	unlock = k.lock("a")
	if len(k.locks) != 1 {
		t.Errorf("locks map holds %d entries while held, want 1", len(k.locks))
	}
	unlock()
	if len(k.locks) != 0 {
		t.Errorf("locks map holds %d entries after release, want 0", len(k.locks))
	}
}
