package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, perMinute int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(perMinute)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func TestMemoryLimiterAllowsFullBudget(t *testing.T) {
	m := newTestLimiter(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be within budget", i)
	}
}

func TestMemoryLimiterDeniesOverBudget(t *testing.T) {
	m := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := m.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "budget exhausted, request should be denied")
}

func TestMemoryLimiterRefills(t *testing.T) {
	// 60000/min is 1000 tokens per second, so a few milliseconds of
	// waiting is enough to observe refill after exhaustion.
	m := newTestLimiter(t, 60000)
	ctx := context.Background()

	m.mu.Lock()
	m.buckets["u1"] = &bucket{tokens: 0, lastSeen: time.Now()}
	m.mu.Unlock()

	ok, err := m.Allow(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(5 * time.Millisecond)

	ok, err = m.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok, "tokens should refill over time")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := newTestLimiter(t, 1)
	ctx := context.Background()

	ok, err := m.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Allow(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "key b has its own bucket")
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := newTestLimiter(t, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	counts := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				ok, err := m.Allow(ctx, "shared")
				if err != nil {
					t.Errorf("goroutine %d: %v", idx, err)
					return
				}
				if ok {
					counts[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	// 100 requests against a budget of 50: at most 50 pass (plus a
	// tiny refill margin), never zero.
	assert.GreaterOrEqual(t, total, 1)
	assert.LessOrEqual(t, total, 55)
}

func TestMemoryLimiterTokensCapAtBurst(t *testing.T) {
	m := newTestLimiter(t, 3)
	ctx := context.Background()

	_, err := m.Allow(ctx, "u1")
	require.NoError(t, err)

	// A long idle period must not accumulate more than the budget.
	m.mu.Lock()
	m.buckets["u1"].lastSeen = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok, "request %d after idle", i)
	}
	ok, err := m.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimiterEvictsIdleBuckets(t *testing.T) {
	m := newTestLimiter(t, 5)
	ctx := context.Background()

	_, err := m.Allow(ctx, "stale")
	require.NoError(t, err)
	_, err = m.Allow(ctx, "fresh")
	require.NoError(t, err)

	m.mu.Lock()
	m.buckets["stale"].lastSeen = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictIdle()

	m.mu.Lock()
	_, staleExists := m.buckets["stale"]
	_, freshExists := m.buckets["fresh"]
	m.mu.Unlock()

	assert.False(t, staleExists)
	assert.True(t, freshExists)
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(5)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "anything")
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, l.Close())
}
