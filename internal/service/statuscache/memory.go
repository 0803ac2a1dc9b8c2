package statuscache

import (
	"context"
	"sync"
	"time"

	"private_feed/internal/model"
)

type (
	memoryEntry struct {
		status  model.AccessStatus
		expires time.Time
	}

	// Memory is a process-local Cache. A zero ttl keeps entries until
	// they are invalidated.
	Memory struct {
		mu      sync.RWMutex
		entries map[pairKey]memoryEntry
		ttl     time.Duration
		now     func() time.Time
		hub     *hub
	}
)

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[pairKey]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		hub:     newHub(),
	}
}

func (m *Memory) Get(_ context.Context, owner, viewer model.Identity) (model.AccessStatus, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[pairKey{owner, viewer}]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, pairKey{owner, viewer})
		m.mu.Unlock()
		return "", false, nil
	}
	return e.status, true, nil
}

func (m *Memory) Set(_ context.Context, owner, viewer model.Identity, status model.AccessStatus) error {
	e := memoryEntry{status: status}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	prev, had := m.entries[pairKey{owner, viewer}]
	m.entries[pairKey{owner, viewer}] = e
	m.mu.Unlock()

	if !had || prev.status != status {
		m.hub.publish(Update{Owner: owner, Viewer: viewer, Status: status})
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, owner, viewer model.Identity) error {
	m.mu.Lock()
	delete(m.entries, pairKey{owner, viewer})
	m.mu.Unlock()

	m.hub.publish(Update{Owner: owner, Viewer: viewer})
	return nil
}

func (m *Memory) InvalidateOwner(_ context.Context, owner model.Identity) error {
	m.mu.Lock()
	for k := range m.entries {
		if k.owner == owner {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()

	m.hub.publish(Update{Owner: owner})
	return nil
}

// Clear drops every entry. Subscribers of every known owner are told.
func (m *Memory) Clear(_ context.Context) error {
	owners := make(map[model.Identity]struct{})

	m.mu.Lock()
	for k := range m.entries {
		owners[k.owner] = struct{}{}
	}
	clear(m.entries)
	m.mu.Unlock()

	for _, o := range m.hub.owners() {
		owners[o] = struct{}{}
	}
	for o := range owners {
		m.hub.publish(Update{Owner: o})
	}
	return nil
}

func (m *Memory) Subscribe(owner, viewer model.Identity, fn func(Update)) func() {
	return m.hub.subscribe(owner, viewer, fn)
}

var _ Cache = (*Memory)(nil)
