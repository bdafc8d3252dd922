// Package store provides a generic in-memory store with per-entry TTL
// and background cleanup. It backs short-lived signaling state (terminated
// call retention) and the recent call history served by the control API.
package store

import (
	"sync"
	"time"
)

// Entry wraps a stored value with its expiration time.
type Entry[V any] struct {
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the entry has passed its expiration time.
func (e *Entry[V]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the remaining lifetime of the entry, zero if expired.
func (e *Entry[V]) TTL() time.Duration {
	remaining := time.Until(e.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TTLStore is a thread-safe map with per-entry TTL. A background goroutine
// removes expired entries every cleanup interval; Close stops it.
type TTLStore[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*Entry[V]
	stopCh   chan struct{}
	stopOnce sync.Once
	interval time.Duration
	onEvict  func(key K, value V)
}

// New creates a TTL store and starts its cleanup goroutine.
func New[K comparable, V any](cleanupInterval time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:    make(map[K]*Entry[V]),
		stopCh:   make(chan struct{}),
		interval: cleanupInterval,
	}
	go s.cleanupLoop()
	return s
}

// SetOnEvict registers a callback invoked for entries removed by the
// cleanup loop. Manual Delete does not trigger it.
func (s *TTLStore[K, V]) SetOnEvict(fn func(key K, value V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Set stores a value with the given TTL, replacing any existing entry.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = &Entry[V]{
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Get returns the value for key if present and not expired.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[key]
	if !ok || entry.IsExpired() {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// Has reports whether key exists and is not expired.
func (s *TTLStore[K, V]) Has(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[key]
	return ok && !entry.IsExpired()
}

// Refresh extends the TTL of an existing entry without touching its value.
func (s *TTLStore[K, V]) Refresh(key K, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[key]
	if !ok || entry.IsExpired() {
		return false
	}
	entry.ExpiresAt = time.Now().Add(ttl)
	return true
}

// Delete removes key from the store. Returns true if it was present.
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		delete(s.items, key)
		return true
	}
	return false
}

// Len returns the number of live entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, entry := range s.items {
		if !entry.IsExpired() {
			n++
		}
	}
	return n
}

// Values returns all live values in unspecified order.
func (s *TTLStore[K, V]) Values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.items))
	for _, entry := range s.items {
		if !entry.IsExpired() {
			out = append(out, entry.Value)
		}
	}
	return out
}

// Entries returns all live entries with metadata, in unspecified order.
func (s *TTLStore[K, V]) Entries() []*Entry[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry[V], 0, len(s.items))
	for _, entry := range s.items {
		if !entry.IsExpired() {
			out = append(out, entry)
		}
	}
	return out
}

// ForEach iterates over live entries, stopping early if fn returns false.
func (s *TTLStore[K, V]) ForEach(fn func(key K, value V) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, entry := range s.items {
		if entry.IsExpired() {
			continue
		}
		if !fn(key, entry.Value) {
			break
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *TTLStore[K, V]) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *TTLStore[K, V]) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TTLStore[K, V]) evictExpired() {
	type evicted struct {
		key   K
		value V
	}
	var removed []evicted

	s.mu.Lock()
	for key, entry := range s.items {
		if entry.IsExpired() {
			removed = append(removed, evicted{key, entry.Value})
			delete(s.items, key)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	if onEvict != nil {
		for _, e := range removed {
			onEvict(e.key, e.value)
		}
	}
}
