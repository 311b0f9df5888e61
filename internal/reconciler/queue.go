package reconciler

import (
	"sync"

	"github.com/roach88/certsync/internal/loader"
	"github.com/roach88/certsync/internal/model"
)

// taskType distinguishes the work items the loop processes.
type taskType int

const (
	// taskEvent is a certification event to reconcile.
	taskEvent taskType = iota + 1
	// taskLoad is the result of a bulk load.
	taskLoad
	// taskFunc is a closure posted by a collaborator running off the loop.
	taskFunc
)

// task is one unit of loop work.
type task struct {
	Type  taskType
	Event model.Event
	Load  loadResult
	Fn    func()
}

type loadResult struct {
	gen    int64
	result loader.Result
	err    error
}

// taskQueue is an unbounded FIFO of tasks.
//
// Producers (feed, webhook handlers, network goroutines, timers) enqueue
// from any goroutine; only the loop dequeues. The buffered signal channel
// lets the loop wait without missing a wakeup and coalesces bursts.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []task
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends t. It returns false once the queue is closed.
func (q *taskQueue) Enqueue(t task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front task without blocking.
func (q *taskQueue) TryDequeue() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	// Release the slot so closures and load results can be collected.
	q.tasks[0] = task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Wait returns a channel that fires when tasks may be available. It is
// closed by Close.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further tasks and wakes the loop.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
