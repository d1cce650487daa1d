// Package state provides an injectable state container with read, subscribe
// and mutate operations.
package state

import (
	"sort"
	"sync"
)

// Listener receives the value produced by a mutation.
type Listener[T any] func(value T)

// Store holds a value of type T. Values are treated as immutable snapshots:
// mutators must return a new value instead of editing slices or maps held by
// the current one.
type Store[T any] struct {
	mu        sync.RWMutex
	value     T
	listeners map[uint64]Listener[T]
	next      uint64
}

// New returns a store holding initial.
func New[T any](initial T) *Store[T] {
	return &Store[T]{
		value:     initial,
		listeners: make(map[uint64]Listener[T]),
	}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value and notifies listeners.
func (s *Store[T]) Set(value T) {
	s.Update(func(T) T { return value })
}

// Update replaces the value with fn(current) and notifies listeners after the
// store lock is released. Listeners run on the mutating goroutine.
func (s *Store[T]) Update(fn func(current T) T) T {
	s.mu.Lock()
	next := fn(s.value)
	s.value = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
	return next
}

// Subscribe registers l and returns a func that removes it.
func (s *Store[T]) Subscribe(l Listener[T]) (unsubscribe func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// snapshotListeners returns listeners in registration order. Caller holds mu.
func (s *Store[T]) snapshotListeners() []Listener[T] {
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Listener[T], len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}
