// Package ratelimit implements the gateway's dual sliding-window rate
// limiter: an independent policy for client IP and for authenticated
// username, each backed by a deque of monotonic timestamps per key.
// Windows slide by lazy pruning; there are no timers.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config is one sliding-window policy's tunables: the
// (max_requests, window_seconds, burst) triple.
type Config struct {
	MaxRequests int
	Window      time.Duration
	Burst       int
	Enabled     bool
}

func (c Config) effectiveLimit() int { return c.MaxRequests + c.Burst }

func (c Config) validate() error {
	if c.MaxRequests < 1 {
		return fmt.Errorf("ratelimit: max_requests must be >= 1")
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be > 0")
	}
	if c.Burst < 0 {
		return fmt.Errorf("ratelimit: burst must be >= 0")
	}
	return nil
}

// Store holds the sliding-window deques. The default inMemoryStore
// suffices for a single-node gateway; an optional Redis-backed Store
// (see store_redis.go) lets operators share counters across replicas of
// the *same* logical limiter without implying multi-node clustering of
// any other subsystem.
type Store interface {
	// Prune drops timestamps older than cutoff and returns the
	// remaining count for key.
	Prune(key string, cutoff time.Time) int
	// Append records now against key (called after a successful check).
	Append(key string, now time.Time)
	// OldestSince returns the oldest timestamp still in key's window, if any.
	OldestSince(key string, cutoff time.Time) (time.Time, bool)
	// Snapshot returns non-empty windows only, sized after pruning.
	Snapshot(cutoff time.Time) map[string]int
	// Reset clears a single key's window.
	Reset(key string)
}

type inMemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{windows: make(map[string][]time.Time)}
}

func (s *inMemoryStore) Prune(key string, cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dq := s.windows[key]
	i := 0
	for i < len(dq) && dq[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		dq = dq[i:]
		s.windows[key] = dq
	}
	return len(dq)
}

func (s *inMemoryStore) Append(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = append(s.windows[key], now)
}

func (s *inMemoryStore) OldestSince(key string, cutoff time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dq := s.windows[key]
	for _, ts := range dq {
		if !ts.Before(cutoff) {
			return ts, true
		}
	}
	if len(dq) > 0 {
		return dq[0], true
	}
	return time.Time{}, false
}

func (s *inMemoryStore) Snapshot(cutoff time.Time) map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for key, dq := range s.windows {
		i := 0
		for i < len(dq) && dq[i].Before(cutoff) {
			i++
		}
		if len(dq)-i > 0 {
			out[key] = len(dq) - i
		}
	}
	return out
}

func (s *inMemoryStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
}

// Denied is returned by Check when the effective limit has been reached.
type Denied struct {
	Limit            int
	WindowSeconds    int
	RetryAfterSecond int
}

func (d *Denied) Error() string {
	return fmt.Sprintf("rate_limit_exceeded: limit=%d window=%ds retry_after=%ds", d.Limit, d.WindowSeconds, d.RetryAfterSecond)
}

// Limiter implements one sliding-window policy.
type Limiter struct {
	mu    sync.RWMutex
	cfg   Config
	store Store
}

// Option configures a Limiter at construction time, in hector's
// functional-options idiom.
type Option func(*Limiter)

// WithStore overrides the default in-memory Store, e.g. with a
// Redis-backed implementation for sharing windows across replicas.
func WithStore(s Store) Option {
	return func(l *Limiter) { l.store = s }
}

// New builds a Limiter. Config is validated; an invalid config panics
// at construction (programmer error). Runtime updates go through
// UpdateConfig, which returns the error instead.
func New(cfg Config, opts ...Option) *Limiter {
	if err := cfg.validate(); err != nil {
		panic(err)
	}
	l := &Limiter{cfg: cfg, store: newInMemoryStore()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check enforces the policy for key at time now: prunes expired
// timestamps, and if the remaining count is already at-or-above the
// effective limit, returns *Denied without recording the new request.
// Otherwise it records now and returns nil.
func (l *Limiter) Check(key string, now time.Time) error {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()

	if !cfg.Enabled {
		return nil
	}

	cutoff := now.Add(-cfg.Window)
	count := l.store.Prune(key, cutoff)
	if count >= cfg.effectiveLimit() {
		retryAfter := 1
		if oldest, ok := l.store.OldestSince(key, cutoff); ok {
			remaining := int(cfg.Window.Seconds()) - int(now.Sub(oldest).Seconds())
			if remaining > retryAfter {
				retryAfter = remaining
			}
		}
		return &Denied{
			Limit:            cfg.effectiveLimit(),
			WindowSeconds:    int(cfg.Window.Seconds()),
			RetryAfterSecond: retryAfter,
		}
	}
	l.store.Append(key, now)
	return nil
}

// CurrentUsage returns the in-window request count for key without
// recording a new request.
func (l *Limiter) CurrentUsage(key string, now time.Time) int {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()
	return l.store.Prune(key, now.Add(-cfg.Window))
}

// Reset clears key's window (admin operation).
func (l *Limiter) Reset(key string) { l.store.Reset(key) }

// Snapshot returns usage for every key with a non-empty window.
func (l *Limiter) Snapshot(now time.Time) map[string]int {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()
	return l.store.Snapshot(now.Add(-cfg.Window))
}

// UpdateConfig swaps the policy's tunables at runtime (admin endpoint);
// existing windows are preserved.
func (l *Limiter) UpdateConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	return nil
}

// GetConfig returns the current policy tunables.
func (l *Limiter) GetConfig() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// ClientKey derives the per-IP limiter key from the left-most entry of
// X-Forwarded-For when present, falling back to the raw remote
// address.
func ClientKey(xForwardedFor, remoteAddr string) string {
	if xForwardedFor != "" {
		for i := 0; i < len(xForwardedFor); i++ {
			if xForwardedFor[i] == ',' {
				return trimSpace(xForwardedFor[:i])
			}
		}
		return trimSpace(xForwardedFor)
	}
	if remoteAddr != "" {
		return remoteAddr
	}
	return "unknown"
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
