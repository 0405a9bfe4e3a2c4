package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is a per-key token bucket held in process memory.
//
// Capacity and sustained rate are both derived from a requests-per-minute
// budget: a caller may burst up to the full budget and then refills at
// budget/60 tokens per second. A background goroutine drops buckets that
// have been idle for a while so the map stays bounded.
type MemoryLimiter struct {
	rate  float64
	burst float64

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing perMinute requests per key
// per minute. Call Close to stop the eviction goroutine.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    float64(perMinute) / 60,
		burst:   float64(perMinute),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Allow consumes one token from key's bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.burst - 1, lastSeen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the eviction goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const idleThreshold = 10 * time.Minute

func (m *MemoryLimiter) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *MemoryLimiter) evictIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleThreshold)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
