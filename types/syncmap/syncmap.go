package syncmap

import (
	"maps"
	"sync"
)

// SyncMap is a simple, generic thread-safe map implementation.
type SyncMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: make(map[K]V),
	}
}

func (s *SyncMap[K, V]) Load(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.m[key]
	return val, ok
}

func (s *SyncMap[K, V]) Store(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// LoadOrStore returns the value stored under key, computing and storing it
// with fn if absent. fn runs without the lock held, so concurrent callers may
// compute the same key more than once; the first stored value wins.
func (s *SyncMap[K, V]) LoadOrStore(key K, fn func() V) V {
	if val, ok := s.Load(key); ok {
		return val
	}

	val := fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[key]; ok {
		return existing
	}
	s.m[key] = val
	return val
}

func (s *SyncMap[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *SyncMap[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *SyncMap[K, V]) Items() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// shallow copy map items
	return maps.Clone(s.m)
}
