// Package worker implements the single-goroutine task runner that backs
// the fast and slow halves of the analyzer's scheduling loop (see package
// schedule) and any source that needs a dedicated I/O goroutine.
package worker

import (
	"sync"
)

// Callback is a unit of work pushed to a Worker. halting is true when the
// worker is draining its task list on the way to exit (the HALT
// sentinel): a streaming callback should treat this as an unconditional
// signal to clean up rather than re-arm. Otherwise it returns true to be
// re-armed at the tail of the task list (used for streaming reads that
// want to run again next cycle) or false to run once and be dropped.
type Callback func(user any, halting bool) bool

type task struct {
	cb   Callback
	user any
}

// Worker owns one goroutine draining a task list in push order. Pushing
// is safe from any goroutine; the worker itself always runs on the same
// underlying goroutine for the lifetime of the Worker.
type Worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []task
	halting bool
	halted  bool
	wg      sync.WaitGroup
}

// New starts a Worker's goroutine and returns it running.
func New() *Worker {
	w := &Worker{}
	w.cond = sync.NewCond(&w.mu)
	w.wg.Add(1)
	go w.run()
	return w
}

// Push appends cb to the task list and wakes the worker goroutine. Push
// is a no-op after Halt has been called.
func (w *Worker) Push(cb Callback, user any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.halting || w.halted {
		return
	}
	w.tasks = append(w.tasks, task{cb: cb, user: user})
	w.cond.Signal()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for len(w.tasks) == 0 && !w.halting {
			w.cond.Wait()
		}
		if len(w.tasks) == 0 && w.halting {
			w.halted = true
			w.mu.Unlock()
			return
		}
		t := w.tasks[0]
		w.tasks = w.tasks[1:]
		halting := w.halting
		w.mu.Unlock()

		rearm := t.cb(t.user, halting)
		if rearm && !halting {
			w.mu.Lock()
			w.tasks = append(w.tasks, t)
			w.cond.Signal()
			w.mu.Unlock()
		}
	}
}

// Halt requests the worker stop accepting new tasks, drains whatever
// remains in the task list, and blocks until the goroutine has exited.
func (w *Worker) Halt() {
	w.mu.Lock()
	w.halting = true
	w.cond.Broadcast()
	w.mu.Unlock()
	w.wg.Wait()
}
