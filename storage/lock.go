package storage

// WithLock runs fn while holding the store's collection lock. Any
// operation that performs a read-modify-write over a shared persisted
// collection (link pool, bundle stores, profile, token cache) must go
// through here so that two concurrent callers never interleave a read and
// a write of the same collection. The lock is released on every exit
// path, including panics. It is non-reentrant: fn must not call WithLock
// again.
//
// Ordinary single-row message and connection updates do not take this
// lock; SQLite already serializes those at the row level.
func (s *Store) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
