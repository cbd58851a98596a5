package session

import (
	"context"
	"sync"
)

// Store abstracts session persistence so the Tracker is
// storage-agnostic. Get and Update return (nil, nil) for unknown ids;
// absence is never an error at this layer.
//
// Update must serialize writers per session id: the mutation function
// runs against the current value and its result is committed
// atomically with respect to other Update calls for the same id.
// Updates to different ids must not block each other.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
}

// MemoryStore is an in-process Store backed by a map with a mutex per
// session. Suitable for tests and single-instance deployments only;
// multi-instance deployments use RedisStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	mu sync.Mutex
	s  *Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.s.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return nil
	}
	clone := s.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[s.ID]; ok {
		entry.mu.Lock()
		entry.s = clone
		entry.mu.Unlock()
		return nil
	}
	m.sessions[s.ID] = &memoryEntry{s: clone}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry.s); err != nil {
		return nil, err
	}
	return entry.s.Clone(), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	var out []*Session
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.s.UserID == userID {
			out = append(out, entry.s.Clone())
		}
		entry.mu.Unlock()
	}
	return out, nil
}
