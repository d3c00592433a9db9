// Package worker provides the bounded pool that runs all network I/O, so a
// slow remote call cannot starve the rest of the bridge.
package worker

import "sync"

// Pool limits the number of concurrently running tasks.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a pool that runs at most size tasks at once.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Submit schedules fn to run on the pool. It returns immediately; fn waits
// for a free slot before running.
func (p *Pool) Submit(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn()
	}()
}

// Wait blocks until all submitted tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
