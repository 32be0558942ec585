// Package expiry provides a keyed set whose entries lapse after a fixed TTL.
// Entries are checked lazily on read and collected by Sweep, which callers
// drive from a single shared ticker.
package expiry

import "time"

// Set tracks keys with a deadline. It is not safe for concurrent use.
type Set[K comparable, V any] struct {
	ttl     time.Duration
	entries map[K]entry[V]
}

type entry[V any] struct {
	value    V
	deadline time.Time
}

// New creates a set whose entries expire ttl after their last Touch.
func New[K comparable, V any](ttl time.Duration) *Set[K, V] {
	return &Set[K, V]{ttl: ttl, entries: make(map[K]entry[V])}
}

// Touch stores v under k and resets its deadline to now+TTL.
func (s *Set[K, V]) Touch(k K, v V, now time.Time) {
	s.entries[k] = entry[V]{value: v, deadline: now.Add(s.ttl)}
}

// Get returns the live value for k.
func (s *Set[K, V]) Get(k K, now time.Time) (V, bool) {
	e, ok := s.entries[k]
	if !ok || !now.Before(e.deadline) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has reports whether k is live at now.
func (s *Set[K, V]) Has(k K, now time.Time) bool {
	_, ok := s.Get(k, now)
	return ok
}

// Take removes k and returns its value if it was still live.
func (s *Set[K, V]) Take(k K, now time.Time) (V, bool) {
	v, ok := s.Get(k, now)
	delete(s.entries, k)
	return v, ok
}

// Delete drops k regardless of its deadline.
func (s *Set[K, V]) Delete(k K) {
	delete(s.entries, k)
}

// Len counts stored entries, including lapsed ones not yet swept.
func (s *Set[K, V]) Len() int {
	return len(s.entries)
}

// Sweep removes lapsed entries and returns their keys.
func (s *Set[K, V]) Sweep(now time.Time) []K {
	var expired []K
	for k, e := range s.entries {
		if !now.Before(e.deadline) {
			expired = append(expired, k)
			delete(s.entries, k)
		}
	}
	return expired
}
