package ble

import (
	"slices"
	"sync"
)

// listeners is a registry of callbacks keyed by ListenerID.
type listeners[T any] struct {
	mu   sync.Mutex
	next ListenerID
	fns  map[ListenerID]func(T)
}

func (l *listeners[T]) add(fn func(T)) ListenerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[ListenerID]func(T))
	}
	l.next++
	l.fns[l.next] = fn
	return l.next
}

// remove reports whether id was registered.
func (l *listeners[T]) remove(id ListenerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.fns[id]; !ok {
		return false
	}
	delete(l.fns, id)
	return true
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

// emit calls every listener in registration order. Listeners may add or
// remove listeners while being called.
func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	ids := make([]ListenerID, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(T), len(ids))
	for i, id := range ids {
		fns[i] = l.fns[id]
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
