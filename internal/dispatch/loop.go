// Package dispatch provides the serialized "home" executor that owns
// session state and delivers observer notifications in order.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/dxb134111/roc-droid-modified/internal/logging"
)

var log = logging.L("dispatch")

// ErrStopped is returned by Call once the loop no longer accepts tasks.
var ErrStopped = errors.New("dispatch: loop stopped")

// Task is a unit of work run on the loop goroutine.
type Task func()

// Loop runs submitted tasks one at a time, in submission order, on a single
// goroutine. The queue is unbounded so Submit never blocks, which makes it
// safe to call from inside a running task.
type Loop struct {
	mu        sync.Mutex
	queue     []Task
	wake      chan struct{}
	accepting atomic.Bool
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// New starts a loop goroutine.
func New() *Loop {
	l := &Loop{
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	l.accepting.Store(true)
	go l.run()
	return l
}

// Submit enqueues a task. Returns false if the loop has stopped accepting.
func (l *Loop) Submit(task Task) bool {
	if !l.accepting.Load() {
		return false
	}

	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call submits task and waits for it to finish. It must not be called from
// a task running on the same loop.
func (l *Loop) Call(ctx context.Context, task Task) error {
	finished := make(chan struct{})
	if !l.Submit(func() {
		defer close(finished)
		task()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAccepting prevents new tasks from being submitted.
func (l *Loop) StopAccepting() {
	l.accepting.Store(false)
}

// Drain stops accepting, runs whatever is already queued, and waits for the
// loop goroutine to exit, respecting the context deadline.
func (l *Loop) Drain(ctx context.Context) {
	l.StopAccepting()
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})

	select {
	case <-l.done:
		log.Debug("loop drained")
	case <-ctx.Done():
		log.Warn("loop drain timed out")
	}
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		if task, ok := l.next(); ok {
			l.runTask(task)
			continue
		}

		select {
		case <-l.wake:
		case <-l.stopChan:
			for {
				task, ok := l.next()
				if !ok {
					return
				}
				l.runTask(task)
			}
		}
	}
}

func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// runTask executes a single task with panic recovery so one bad callback
// cannot take the home loop down.
func (l *Loop) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
