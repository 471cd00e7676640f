package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/timex"
)

// MemoryStore keeps sessions in a map. Expired sessions are dropped when
// they are next looked at.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]models.CredentialSession
	clock timex.Clock
}

func NewMemoryStore(clock timex.Clock) *MemoryStore {
	return &MemoryStore{items: make(map[string]models.CredentialSession), clock: clock}
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(id string) (*models.CredentialSession, error) {
	s, ok := m.items[id]
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	if s.Expired(m.clock()) {
		delete(m.items, id)
		return nil, common.ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.CredentialSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(id)
}

func (m *MemoryStore) Save(_ context.Context, s *models.CredentialSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ID] = *s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (*models.CredentialSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	save, err := fn(s)
	if save {
		m.items[id] = *s
	}
	return s, err
}

// MemoryLockoutStore keeps failed-login counters in a map.
type MemoryLockoutStore struct {
	mu       sync.Mutex
	counters map[string]models.LockoutCounter
	clock    timex.Clock
}

func NewMemoryLockoutStore(clock timex.Clock) *MemoryLockoutStore {
	return &MemoryLockoutStore{counters: make(map[string]models.LockoutCounter), clock: clock}
}

// live must be called with mu held.
func (m *MemoryLockoutStore) live(identity string, now time.Time) models.LockoutCounter {
	c, ok := m.counters[identity]
	if !ok || (!now.Before(c.WindowEndsAt) && !c.Locked(now)) {
		delete(m.counters, identity)
		return models.LockoutCounter{Identity: identity}
	}
	return c
}

func (m *MemoryLockoutStore) Get(_ context.Context, identity string) (*models.LockoutCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.live(identity, m.clock())
	return &c, nil
}

func (m *MemoryLockoutStore) Reserve(_ context.Context, identity string, max int, lockout time.Duration) (*models.LockoutCounter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	c := m.live(identity, now)
	if c.Locked(now) {
		return &c, false, nil
	}
	c.FailedAttempts++
	c.WindowEndsAt = now.Add(lockout)
	if c.FailedAttempts >= max {
		c.LockedUntil = now.Add(lockout)
	}
	m.counters[identity] = c
	return &c, true, nil
}

func (m *MemoryLockoutStore) Reset(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, identity)
	return nil
}
