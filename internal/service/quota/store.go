package quota

import (
	"context"
	"sync"
	"time"
)

// Entry is one fixed quota window for a (provider, credential) pair.
type Entry struct {
	Count        int           `json:"count"`
	Limit        int           `json:"limit"`
	Window       time.Duration `json:"window"`
	ResetAt      time.Time     `json:"reset_at"`
	BlockedUntil time.Time     `json:"blocked_until,omitempty"`
}

// Live reports whether the window is still open at now.
func (e Entry) Live(now time.Time) bool { return now.Before(e.ResetAt) }

// retier moves an open window onto a different tier's limit without losing
// its count. The window never extends past what the new tier allows.
func (e Entry) retier(limit int, window time.Duration, now time.Time) Entry {
	e.Limit = limit
	e.Window = window
	e.Count = min(e.Count, limit)
	if end := now.Add(window); end.Before(e.ResetAt) {
		e.ResetAt = end
	}
	return e
}

// Store persists quota entries. Every method is atomic per key and replaces a
// closed window with a fresh one.
type Store interface {
	// Load returns the current entry, creating it lazily. It never increments.
	Load(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, error)
	// Incr adds one to the count, clamped at the limit.
	Incr(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, error)
	// Reserve adds one to the count only when the key is neither blocked nor
	// full, and reports whether it did.
	Reserve(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error)
	// Release returns one reserved unit to the window that ends at resetAt. It
	// is a no-op once that window has closed.
	Release(ctx context.Context, key string, resetAt time.Time, limit int, window time.Duration, now time.Time) (Entry, error)
	// Block denies the key until the given time.
	Block(ctx context.Context, key string, until time.Time, limit int, window time.Duration, now time.Time) (Entry, error)
	// Put restores an entry verbatim, used when warming from a mirror.
	Put(ctx context.Context, key string, e Entry) error
}

// MemoryStore is the single-instance Store.
type MemoryStore struct {
	mu             sync.Mutex
	entries        map[string]Entry
	sweepThreshold int
}

// NewMemoryStore builds an in-process store that sweeps closed windows inline
// once it holds more than sweepThreshold entries. Zero disables sweeping.
func NewMemoryStore(sweepThreshold int) *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), sweepThreshold: sweepThreshold}
}

func (s *MemoryStore) Load(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(key, limit, window, now), nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.current(key, limit, window, now)
	if e.Count < e.Limit {
		e.Count++
		s.entries[key] = e
	}
	return e, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.current(key, limit, window, now)
	if e.BlockedUntil.After(now) || e.Count >= e.Limit {
		return e, false, nil
	}
	e.Count++
	s.entries[key] = e
	return e, true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string, resetAt time.Time, limit int, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.current(key, limit, window, now)
	if e.Count > 0 && e.ResetAt.Equal(resetAt) {
		e.Count--
		s.entries[key] = e
	}
	return e, nil
}

func (s *MemoryStore) Block(_ context.Context, key string, until time.Time, limit int, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.current(key, limit, window, now)
	if until.After(e.BlockedUntil) {
		e.BlockedUntil = until
		s.entries[key] = e
	}
	return e, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

// Len returns the number of tracked entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// current must be called with mu held.
func (s *MemoryStore) current(key string, limit int, window time.Duration, now time.Time) Entry {
	e, ok := s.entries[key]
	if ok && e.Live(now) {
		if e.Limit != limit || e.Window != window {
			e = e.retier(limit, window, now)
			s.entries[key] = e
		}
		return e
	}
	if !ok {
		s.sweepLocked(now)
	}
	fresh := Entry{Limit: limit, Window: window, ResetAt: now.Add(window)}
	if ok && e.BlockedUntil.After(now) {
		fresh.BlockedUntil = e.BlockedUntil
	}
	s.entries[key] = fresh
	return fresh
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	if s.sweepThreshold <= 0 || len(s.entries) <= s.sweepThreshold {
		return
	}
	for k, e := range s.entries {
		if !e.Live(now) && !e.BlockedUntil.After(now) {
			delete(s.entries, k)
		}
	}
}
