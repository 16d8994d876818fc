// ABOUTME: Tests for the in-memory replay cache
// ABOUTME: Validates TTL expiry, size-bound eviction, cleanup, and concurrent marking

package replay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemory_CheckAndMark(t *testing.T) {
	m := NewMemory(time.Minute, 10)
	defer m.Close()
	ctx := context.Background()

	seen, err := m.CheckAndMark(ctx, "nonce-1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = m.CheckAndMark(ctx, "nonce-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, _ = m.CheckAndMark(ctx, "nonce-2")
	assert.False(t, seen)
}

func TestMemory_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newMemory(time.Minute, 10, clock.Now)
	ctx := context.Background()

	seen, _ := m.CheckAndMark(ctx, "k")
	require.False(t, seen)

	clock.Advance(2 * time.Minute)
	seen, _ = m.CheckAndMark(ctx, "k")
	assert.False(t, seen, "expired key should be accepted again")

	seen, _ = m.CheckAndMark(ctx, "k")
	assert.True(t, seen)
}

func TestMemory_EvictsOldest(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newMemory(time.Hour, 2, clock.Now)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		seen, _ := m.CheckAndMark(ctx, k)
		require.False(t, seen)
	}
	assert.Equal(t, 2, m.Len())

	seen, _ := m.CheckAndMark(ctx, "a")
	assert.False(t, seen, "oldest key should have been evicted")
	seen, _ = m.CheckAndMark(ctx, "c")
	assert.True(t, seen)
}

func TestMemory_RemoveExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newMemory(time.Minute, 10, clock.Now)
	ctx := context.Background()

	_, _ = m.CheckAndMark(ctx, "old")
	clock.Advance(90 * time.Second)
	_, _ = m.CheckAndMark(ctx, "fresh")

	m.removeExpired()
	assert.Equal(t, 1, m.Len())
}

func TestMemory_CloseTwice(t *testing.T) {
	m := NewMemory(time.Minute, 10)
	m.Close()
	m.Close()
}

func TestMemory_ConcurrentSingleWinner(t *testing.T) {
	m := NewMemory(time.Minute, 100)
	defer m.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := m.CheckAndMark(context.Background(), "shared")
			assert.NoError(t, err)
			if !seen {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemory_ManyKeys(t *testing.T) {
	m := NewMemory(time.Minute, 5)
	defer m.Close()
	for i := 0; i < 20; i++ {
		_, _ = m.CheckAndMark(context.Background(), fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 5, m.Len())
}
