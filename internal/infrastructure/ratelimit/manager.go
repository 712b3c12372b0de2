package ratelimit

import (
	"sync"
	"time"
)

// Window is the length of one counting window.
const Window = 60 * time.Second

type bucket struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// Manager counts calls per key in fixed 60s windows.
// Buckets are locked individually so unrelated keys never contend.
type Manager struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// NewManagerWithClock creates a manager reading time from now.
func NewManagerWithClock(now func() time.Time) *Manager {
	m := NewManager()
	m.now = now
	return m
}

func (m *Manager) bucket(key string) *bucket {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{}
		m.buckets[key] = b
	}
	return b
}

// Check admits one call under key when fewer than limit calls happened in the
// current window. On denial it reports how long until the window rolls over.
// A nil or non-positive limit always admits and keeps no state.
func (m *Manager) Check(key string, limit *int) (bool, time.Duration) {
	if limit == nil || *limit <= 0 {
		return true, 0
	}

	b := m.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := m.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= Window {
		b.windowStart = now
		b.count = 0
	}

	if b.count >= *limit {
		wait := Window - now.Sub(b.windowStart)
		if wait < 0 {
			wait = 0
		}
		return false, wait
	}

	b.count++
	return true, 0
}

// Usage reports the admitted count and start of the current window for key.
func (m *Manager) Usage(key string) (int, time.Time) {
	m.mu.Lock()
	b, ok := m.buckets[key]
	m.mu.Unlock()
	if !ok {
		return 0, time.Time{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if now := m.now(); now.Sub(b.windowStart) >= Window {
		return 0, time.Time{}
	}
	return b.count, b.windowStart
}

// Reset drops every bucket.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buckets = make(map[string]*bucket)
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide manager shared by every gateway client.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

// ResetDefault clears the process-wide manager. Tests call it between cases.
func ResetDefault() {
	Default().Reset()
}
