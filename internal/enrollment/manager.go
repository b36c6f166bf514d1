package enrollment

import (
	"errors"
	"sync"
)

// ErrSessionRunning is returned when a session is registered while another
// one is still running.
var ErrSessionRunning = errors.New("a capture session is already running")

// Manager tracks the capture sessions known to the process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Controller)}
}

// StartSession registers the session unless another one is still running.
// The check and the registration are one critical section: the post has a
// single camera, so two concurrent registrations must never both succeed.
func (m *Manager) StartSession(c *Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.Snapshot().State == StateRunning {
			return ErrSessionRunning
		}
	}
	m.sessions[c.cfg.SessionID] = c
	return nil
}

// Get retrieves a session by ID, or nil.
func (m *Manager) Get(id string) *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// List returns all known sessions.
func (m *Manager) List() []*Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c)
	}
	return out
}
