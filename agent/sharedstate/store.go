// Package sharedstate is the only state agents share besides the registry.
//
// Get and Set are individually atomic. A read-modify-write that spans more
// than one call must run inside ScopedLock for its key.
package sharedstate

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Store 并发安全的共享状态，两级锁：全局锁保护 map 与锁表，
// 每个 key 一把锁保护调用方的临界区。
//
// 锁表只增不减，适合进程内有限的 key 集合。
type Store[V any] struct {
	mu     sync.Mutex
	values map[string]V
	locks  map[string]*semaphore.Weighted
}

// New 创建空的共享状态
func New[V any]() *Store[V] {
	return &Store[V]{
		values: make(map[string]V),
		locks:  make(map[string]*semaphore.Weighted),
	}
}

// Get returns the value of key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores v under key.
func (s *Store[V]) Set(key string, v V) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

// Update is Set.
func (s *Store[V]) Update(key string, v V) { s.Set(key, v) }

// Delete removes key. Its lock stays in the lock table.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Keys returns the stored keys, sorted.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// LockCount returns how many per-key locks have been created.
func (s *Store[V]) LockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

func (s *Store[V]) keyLock(key string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[key] = l
	}
	return l
}

// ScopedLock runs fn while holding the lock of key. Other keys are not
// blocked. Waiting for the lock stops with ctx.Err() when ctx is done.
func (s *Store[V]) ScopedLock(ctx context.Context, key string, fn func() error) error {
	l := s.keyLock(key)
	if err := l.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.Release(1)
	return fn()
}

// Modify atomically replaces the value of key with fn(current, exists) and
// returns the new value.
func (s *Store[V]) Modify(ctx context.Context, key string, fn func(cur V, ok bool) V) (V, error) {
	var next V
	err := s.ScopedLock(ctx, key, func() error {
		cur, ok := s.Get(key)
		next = fn(cur, ok)
		s.Set(key, next)
		return nil
	})
	return next, err
}
