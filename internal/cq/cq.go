// Package cq implements a simple concurrent queue.
package cq

import "sync"

// Queue is an unbounded queue. Adding never blocks for longer than it
// takes the queue's goroutine to accept the value, so it is safe to
// add from a goroutine that is also the queue's only consumer.
type Queue[T any] struct {
	done  chan struct{}
	close sync.Once

	add chan T
	get chan []T
}

func New[T any]() *Queue[T] {
	q := Queue[T]{
		done: make(chan struct{}),
		add:  make(chan T),
		get:  make(chan []T),
	}
	go q.run()

	return &q
}

func (q *Queue[T]) Stop() {
	q.close.Do(func() {
		close(q.done)
	})
}

func (q *Queue[T]) Add() chan<- T {
	return q.add
}

// Push adds v to the queue. It returns false if the queue has been
// stopped.
func (q *Queue[T]) Push(v T) bool {
	select {
	case <-q.done:
		return false
	case q.add <- v:
		return true
	}
}

func (q *Queue[T]) Get() <-chan []T {
	return q.get
}

// TryGet returns everything currently queued without waiting.
func (q *Queue[T]) TryGet() []T {
	select {
	case s := <-q.get:
		return s
	default:
		return nil
	}
}

func (q *Queue[T]) run() {
	var s []T
	var get chan []T

	for {
		select {
		case <-q.done:
			return

		case v := <-q.add:
			s = append(s, v)
			get = q.get

		case get <- s:
			s = nil
			get = nil
		}
	}
}
