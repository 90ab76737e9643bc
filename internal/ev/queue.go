// Package ev implements the dispatch queue through which every
// mutation of compositor state is funnelled.
package ev

import (
	"errors"

	"deedles.dev/xsync"
)

// Queue collects tasks from any goroutine and hands them out in the
// order they were added. The zero value is ready to use.
type Queue struct {
	q xsync.Queue[func() error]
}

// Add returns a channel that enqueues tasks sent to it.
func (q *Queue) Add() chan<- func() error {
	return q.q.Push()
}

// Get returns a channel that yields queued tasks one at a time. It is
// closed once the queue is stopped.
func (q *Queue) Get() <-chan func() error {
	return q.q.Pop()
}

// Stop stops the queue. Tasks that are still queued are dropped, and
// sending to the channel returned by Add afterwards panics, so all
// senders must have stopped first.
func (q *Queue) Stop() {
	q.q.Stop()
}

// Drain runs first and then every task that is already queued without
// waiting for more. An error from one task does not prevent the tasks
// after it from running.
func (q *Queue) Drain(first func() error) error {
	var errs []error
	task := first
	for task != nil {
		if err := task(); err != nil {
			errs = append(errs, err)
		}

		select {
		case next, ok := <-q.Get():
			if !ok {
				return errors.Join(errs...)
			}
			task = next
		default:
			task = nil
		}
	}
	return errors.Join(errs...)
}
