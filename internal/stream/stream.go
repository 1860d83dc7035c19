// Package stream fans values out to every active subscriber.
package stream

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Stream fan-outs values of type T to all active subscribers.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   map[int]chan T
	next   int
	buffer int
	closed bool
	done   chan struct{}
}

// New initialises an empty stream. A non-positive buffer selects DefaultBuffer.
func New[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream[T]{subs: make(map[int]chan T), buffer: buffer, done: make(chan struct{})}
}

// Subscribe registers a subscriber and returns a channel which will receive values.
// The channel is closed when the provided context ends or the stream is closed.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, s.buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.remove(id)
		case <-s.done:
		}
	}()

	return ch
}

func (s *Stream[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Publish fan-outs the value to all subscribers. Slow subscribers drop values
// rather than block the publisher.
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Len reports the number of active subscribers.
func (s *Stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close closes every subscriber channel; later subscriptions receive a closed channel.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
