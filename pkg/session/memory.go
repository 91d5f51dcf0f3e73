package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-process deployments and
// tests. Sessions created here are invisible to other processes; do not
// use it behind a load balancer without session affinity.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*lockEntry
	closed   bool
}

// lockEntry is a per-session lock. refs counts the holder plus waiters;
// the entry is pruned from the map once both drop to zero, so the lock
// map does not grow with every session ID ever touched.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*lockEntry),
	}
}

// Put creates or replaces a session.
func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get retrieves a session by ID.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Delete removes a session; deleting an absent session is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.sessions, sessionID)
	return nil
}

// ListExpired returns IDs of sessions whose expiry has passed at now.
func (m *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	var ids []string
	for id, s := range m.sessions {
		if s.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Lock acquires the per-session writer lock.
func (m *MemoryStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrStoreClosed
	}
	entry, ok := m.locks[sessionID]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		m.locks[sessionID] = entry
	}
	entry.refs++
	m.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() { m.unref(sessionID, entry, true) })
		}
		return release, nil
	case <-ctx.Done():
		m.unref(sessionID, entry, false)
		return nil, ctx.Err()
	}
}

// unref drops one reference to a lock entry, freeing the slot if it was
// held, and prunes the map entry once nobody holds or waits on it.
func (m *MemoryStore) unref(sessionID string, entry *lockEntry, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held {
		<-entry.ch
	}
	entry.refs--
	if entry.refs == 0 && m.locks[sessionID] == entry {
		delete(m.locks, sessionID)
	}
}

// Close marks the store closed; further operations fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = make(map[string]*Session)
	m.locks = make(map[string]*lockEntry)
	return nil
}
