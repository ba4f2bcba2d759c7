// Package events provides the in-process publish/subscribe used by games and
// services. Handlers run synchronously on the emitting goroutine, in the order
// they were registered. A handler that panics is recovered and logged so the
// remaining handlers and the emitter keep going.
package events

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Handler receives one event payload.
type Handler[T any] func(T)

// ListenerID identifies a registered handler for removal.
type ListenerID uint64

type listener[T any] struct {
	id ListenerID
	fn Handler[T]
}

// Bus is a named-channel event bus carrying payloads of type T.
// The zero value is not usable; call NewBus.
type Bus[T any] struct {
	mu        sync.RWMutex
	listeners map[string][]listener[T]
	nextID    ListenerID
	logger    *slog.Logger
	source    string
}

// NewBus creates a bus. source tags log lines for recovered handler panics.
func NewBus[T any](source string, logger *slog.Logger) *Bus[T] {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus[T]{
		listeners: make(map[string][]listener[T]),
		logger:    logger,
		source:    source,
	}
}

// On registers fn for event and returns its id.
func (b *Bus[T]) On(event string, fn Handler[T]) ListenerID {
	if fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], listener[T]{id: id, fn: fn})
	return id
}

// Subscribe registers fn and returns a closure that removes it.
// Calling the closure more than once is harmless.
func (b *Bus[T]) Subscribe(event string, fn Handler[T]) func() {
	id := b.On(event, fn)
	var once sync.Once
	return func() {
		once.Do(func() { b.Off(event, id) })
	}
}

// Off removes the handler with id from event. It reports whether a handler
// was removed.
func (b *Bus[T]) Off(event string, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ls := b.listeners[event]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		next := make([]listener[T], 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, event)
		} else {
			b.listeners[event] = next
		}
		return true
	}
	return false
}

// Emit delivers payload to every handler registered for event at the time of
// the call. It returns the number of handlers that completed without panicking.
func (b *Bus[T]) Emit(event string, payload T) int {
	b.mu.RLock()
	ls := b.listeners[event]
	b.mu.RUnlock()

	ok := 0
	for _, l := range ls {
		if b.invoke(event, l, payload) {
			ok++
		}
	}
	return ok
}

func (b *Bus[T]) invoke(event string, l listener[T], payload T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"source", b.source,
				"event", event,
				"listener", uint64(l.id),
				"panic", fmt.Sprint(r),
			)
			ok = false
		}
	}()
	l.fn(payload)
	return true
}

// Count returns how many handlers are registered for event.
func (b *Bus[T]) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// Events returns the names that currently have at least one handler.
func (b *Bus[T]) Events() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.listeners))
	for name := range b.listeners {
		out = append(out, name)
	}
	return out
}

// Clear drops every handler.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]listener[T])
}
