// Package events provides a typed publish/subscribe primitive with
// explicit subscription handles and ordered multi-subscriber delivery.
package events

import "sync"

// Token identifies one subscription, required for unsubscribing.
type Token uint64

// Emitter delivers values of T to every subscriber in subscription order.
// The zero value is ready to use.
type Emitter[T any] struct {
	mu   sync.Mutex
	next Token
	subs []subscription[T]
}

type subscription[T any] struct {
	token Token
	fn    func(T)
}

// Sub registers fn and returns its handle.
func (e *Emitter[T]) Sub(fn func(T)) Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.subs = append(e.subs, subscription[T]{token: e.next, fn: fn})
	return e.next
}

// Unsub removes the subscription with the given handle, if present.
func (e *Emitter[T]) Unsub(token Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.token == token {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every subscriber with v, in the order they subscribed.
// Subscribers run on the caller's goroutine.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	subs := make([]subscription[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}

func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
