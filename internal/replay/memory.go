// ABOUTME: In-process replay cache with TTL expiry and a size bound
// ABOUTME: Oldest keys are evicted first; a background goroutine drops expired entries

package replay

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	markedAt time.Time
	element  *list.Element
}

// Memory is a thread-safe replay cache held in process memory. Keys expire
// after ttl; when maxSize keys are held the oldest is evicted.
type Memory struct {
	mu      sync.Mutex
	seen    map[string]*memoryEntry
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewMemory creates a memory cache and starts its cleanup goroutine.
// Call Close to stop it.
func NewMemory(ttl time.Duration, maxSize int) *Memory {
	m := newMemory(ttl, maxSize, time.Now)
	go m.cleanupLoop(time.Minute)
	return m
}

func newMemory(ttl time.Duration, maxSize int, now func() time.Time) *Memory {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Memory{
		seen:    make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// CheckAndMark implements Cache. It never returns an error.
func (m *Memory) CheckAndMark(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.seen[key]; ok {
		if now.Sub(entry.markedAt) < m.ttl {
			return true, nil
		}
		m.order.Remove(entry.element)
		delete(m.seen, key)
	}

	if len(m.seen) >= m.maxSize {
		m.evictOldest()
	}
	m.seen[key] = &memoryEntry{
		markedAt: now,
		element:  m.order.PushBack(key),
	}
	return false, nil
}

// Len returns the number of tracked keys, including expired ones not yet
// cleaned up.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// evictOldest must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.seen, key)
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.done:
			return
		}
	}
}

// removeExpired walks from the oldest key and stops at the first live one.
func (m *Memory) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for front := m.order.Front(); front != nil; front = m.order.Front() {
		key, _ := front.Value.(string)
		entry := m.seen[key]
		if entry != nil && now.Sub(entry.markedAt) < m.ttl {
			return
		}
		m.order.Remove(front)
		delete(m.seen, key)
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
}
