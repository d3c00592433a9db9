package session

import "context"

// loop is the single-consumer task queue that serializes all control-plane
// mutations. Workers enqueue closures; the control goroutine drains them in
// order. This is the only synchronization discipline for session state.
type loop struct {
	tasks chan func()
}

func newLoop() *loop {
	return &loop{tasks: make(chan func(), 128)}
}

// post enqueues fn to run on the control goroutine.
func (l *loop) post(fn func()) {
	l.tasks <- fn
}

// run drains the queue until ctx is cancelled.
func (l *loop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}
