package provider

import (
	"slices"
	"sync"
)

type listener[T any] struct {
	fn func(T)
	id uint64
}

// listeners список подписчиков одного типа событий.
// emit работает с копией списка, поэтому подписчик может отписаться во время вызова.
type listeners[T any] struct {
	items []listener[T]
	next  uint64
	mu    sync.Mutex
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	id := l.next
	l.items = append(slices.Clone(l.items), listener[T]{fn: fn, id: id})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		l.items = slices.DeleteFunc(slices.Clone(l.items), func(item listener[T]) bool {
			return item.id == id
		})
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	items := l.items
	l.mu.Unlock()

	for _, item := range items {
		item.fn(v)
	}
}

func (l *listeners[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = nil
}
