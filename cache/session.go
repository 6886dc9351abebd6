// Package cache keeps in-progress survey sessions between requests.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"LnSPoll/model"
)

// ErrSessionMiss is returned when a session does not exist or has expired.
var ErrSessionMiss = errors.New("session not in cache")

// SessionStore persists survey sessions with a sliding TTL.
type SessionStore interface {
	Get(ctx context.Context, id string) (*model.SurveySession, error)
	Put(ctx context.Context, s *model.SurveySession) error
	Delete(ctx context.Context, id string) error
	// Active counts sessions that have not expired.
	Active(ctx context.Context) (int, error)
}

type memoryEntry struct {
	session   model.SurveySession
	expiresAt time.Time
}

// MemorySessionStore is a process-local SessionStore for single-instance deployments.
type MemorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemorySessionStore 创建内存会话存储
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy, so callers may mutate it freely before Put.
func (m *MemorySessionStore) Get(ctx context.Context, id string) (*model.SurveySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrSessionMiss
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, id)
		return nil, ErrSessionMiss
	}
	s := cloneSession(e.session)
	return &s, nil
}

func (m *MemorySessionStore) Put(ctx context.Context, s *model.SurveySession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID] = memoryEntry{session: cloneSession(*s), expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Active also drops expired entries.
func (m *MemorySessionStore) Active(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
	return len(m.entries), nil
}

// cloneSession copies the answer slice; the assignment is never mutated.
func cloneSession(s model.SurveySession) model.SurveySession {
	answers := make([]model.ClipResponse, len(s.Answers))
	copy(answers, s.Answers)
	s.Answers = answers
	return s
}
