package kv

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore is an in-process Store used by the lock-exclusivity and
// stale-reaping property tests so those tests don't need a live Redis.
// Built on a preference for hand-rolled fakes over a mocking framework.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	subs     map[string][]chan []byte
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		subs:    make(map[string][]chan []byte),
	}
}

func (m *MemoryStore) expired(e memEntry, now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

func (m *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.entries[key]; ok && !m.expired(e, now) {
		return false, nil
	}

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.entries[key] = memEntry{value: value, expires: expires}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.entries[key] = memEntry{value: value, expires: expires}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.expired(e, time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.expires = time.Now().Add(ttl)
	m.entries[key] = e
	return nil
}

// Scan ignores the supplied cursor's opacity and instead walks a
// sorted key list by offset, matching the real cursor contract
// (monotonic progress, 0 means done) without needing Redis's hashing.
func (m *MemoryStore) Scan(_ context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var all []string
	for k, e := range m.entries {
		if m.expired(e, now) {
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			all = append(all, k)
		}
	}
	sort.Strings(all)

	start := int(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := start + int(count)
	if end > len(all) || count <= 0 {
		end = len(all)
	}

	next := uint64(end)
	if end >= len(all) {
		next = 0
	}
	return all[start:end], next, nil
}

func (m *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	subs := append([]chan []byte(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[channel]
		for i, c := range subs {
			if c == ch {
				m.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}

	return ch, cancel, nil
}

func (m *MemoryStore) Close() error { return nil }
