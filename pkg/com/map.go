package com

import (
	"errors"
	"sync"
)

// Map defines a concurrent-safe map structure.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

var ErrNotFound = errors.New("not found")

func NewMap[K comparable, V any]() Map[K, V] { return Map[K, V]{m: make(map[K]V, 10)} }

func (m *Map[K, _]) Has(key K) bool    { _, err := m.Find(key); return err == nil }
func (m *Map[_, _]) IsEmpty() bool     { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) == 0 }
func (m *Map[_, _]) Len() int          { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }
func (m *Map[K, T]) Put(key K, v T)    { m.mu.Lock(); m.m[key] = v; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K) { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

// Pop extracts and removes a value by its key.
func (m *Map[K, T]) Pop(key K) (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok = m.m[key]
	delete(m.m, key)
	return
}

// PutIfAbsent stores v only when the key has no value yet and
// reports whether the store happened.
func (m *Map[K, T]) PutIfAbsent(key K, v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.m[key]; ok {
		return false
	}
	m.m[key] = v
	return true
}

// RemoveIf deletes the key only when its current value satisfies
// cond and reports whether the delete happened.
func (m *Map[K, T]) RemoveIf(key K, cond func(v T) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok && cond(v) {
		delete(m.m, key)
		return true
	}
	return false
}

// Find searches for the first match by a specified key value,
// returns ErrNotFound otherwise.
func (m *Map[K, T]) Find(key K) (v T, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.m[key]; ok {
		return c, nil
	}
	return v, ErrNotFound
}

// Keys returns a snapshot of the current keys.
func (m *Map[K, T]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	return keys
}

// ForEach processes every element with the provided callback function.
func (m *Map[K, T]) ForEach(fn func(k K, v T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		fn(k, v)
	}
}

// Drain empties the map and returns what was in it.
func (m *Map[K, T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals := make([]T, 0, len(m.m))
	for _, v := range m.m {
		vals = append(vals, v)
	}
	m.m = make(map[K]T, 10)
	return vals
}
