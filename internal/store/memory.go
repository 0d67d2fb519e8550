package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/fixd/internal/engine"
)

// Memory is a map-backed session store. Sessions are stored as deep copies
// so callers cannot alias internal state.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*engine.FixSession
	audits   map[string][]engine.AuditEntry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*engine.FixSession),
		audits:   make(map[string][]engine.AuditEntry),
	}
}

func cloneSession(s *engine.FixSession) (*engine.FixSession, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	var out engine.FixSession
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &out, nil
}

func (m *Memory) CreateSession(_ context.Context, s *engine.FixSession) error {
	c, err := cloneSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = c
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *engine.FixSession) error {
	c, err := cloneSession(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, engine.ErrSessionNotFound)
	}
	m.sessions[s.ID] = c
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*engine.FixSession, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	var trail []engine.AuditEntry
	if ok {
		trail = append(trail, m.audits[id]...)
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, engine.ErrSessionNotFound)
	}

	c, err := cloneSession(s)
	if err != nil {
		return nil, err
	}
	// The audit log is authoritative when it is ahead of the embedded trail.
	if len(trail) > len(c.Audit) {
		c.Audit = trail
	}
	return c, nil
}

func (m *Memory) ListSessions(_ context.Context) ([]*engine.FixSession, error) {
	m.mu.RLock()
	out := make([]*engine.FixSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		c, err := cloneSession(s)
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, sessionID string, e engine.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, engine.ErrSessionNotFound)
	}
	m.audits[sessionID] = append(m.audits[sessionID], e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, sessionID string) ([]engine.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, engine.ErrSessionNotFound)
	}
	out := make([]engine.AuditEntry, len(m.audits[sessionID]))
	copy(out, m.audits[sessionID])
	return out, nil
}

func (m *Memory) Close() error { return nil }
