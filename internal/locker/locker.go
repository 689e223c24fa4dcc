// Package locker provides non-blocking keyed execution locks.
package locker

import "sync"

// Locker admits at most one holder per key.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty locker.
func New() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryAcquire claims key without waiting. When ok is true the caller must
// invoke release exactly once; extra calls are ignored.
func (l *Locker) TryAcquire(key string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true
}

// Held reports whether key is currently claimed.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, busy := l.held[key]
	return busy
}

// Len returns the number of claimed keys.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.held)
}

// Set holds one Locker per owner id. Lockers outlive the modules that use
// them, so a reloaded command keeps the keys its predecessor still holds.
type Set struct {
	mu      sync.Mutex
	lockers map[string]*Locker
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{lockers: make(map[string]*Locker)}
}

// For returns the locker of id, creating it on first use.
func (s *Set) For(id string) *Locker {
	s.mu.Lock()
	defer s.mu.Unlock()

	locker, exists := s.lockers[id]
	if !exists {
		locker = New()
		s.lockers[id] = locker
	}

	return locker
}
