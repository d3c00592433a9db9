package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	p := NewPool(2)
	done := make(chan struct{})
	p.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestBoundedConcurrency(t *testing.T) {
	const size = 3
	p := NewPool(size)

	var running, peak int32
	var mu sync.Mutex
	block := make(chan struct{})

	for i := 0; i < 10; i++ {
		p.Submit(func() {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-block
			atomic.AddInt32(&running, -1)
		})
	}

	time.Sleep(50 * time.Millisecond)
	close(block)
	p.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > size {
		t.Fatalf("pool ran %d tasks concurrently, limit is %d", peak, size)
	}
}

func TestWaitReturnsAfterAllTasks(t *testing.T) {
	p := NewPool(1)
	var count int32
	for i := 0; i < 5; i++ {
		p.Submit(func() { atomic.AddInt32(&count, 1) })
	}
	p.Wait()
	if got := atomic.LoadInt32(&count); got != 5 {
		t.Fatalf("expected 5 tasks to finish, got %d", got)
	}
}
