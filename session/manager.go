package session

import (
	"sync"

	"github.com/glennswest/netpkt/limiter"
	"github.com/glennswest/netpkt/logging"
)

// Manager is a thread-safe {SessionId → Session} map with
// added/removed hooks and ConnectionLimiter collaboration.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session

	limiter *limiter.Limiter
	logger  logging.Logger

	onAdded   func(*Session)
	onRemoved func(*Session)
}

// Config configures a Manager.
type Config struct {
	Limiter   *limiter.Limiter
	Logger    logging.Logger
	OnAdded   func(*Session)
	OnRemoved func(*Session)
}

// NewManager builds an empty Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Manager{
		sessions:  make(map[uint64]*Session),
		limiter:   cfg.Limiter,
		logger:    logger,
		onAdded:   cfg.OnAdded,
		onRemoved: cfg.OnRemoved,
	}
}

// Add asks the ConnectionLimiter to admit the session's remote IP;
// on rejection it returns false without inserting the session. On
// acceptance it inserts into the map and fires OnAdded.
func (m *Manager) Add(s *Session) bool {
	if m.limiter != nil && !m.limiter.Admit(s.RemoteAddress) {
		return false
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	if m.onAdded != nil {
		m.onAdded(s)
	}
	return true
}

// Remove deletes id from the map, releases its IP back to the
// ConnectionLimiter, and fires OnRemoved. It is a no-op for an
// unknown id.
func (m *Manager) Remove(id uint64) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.limiter != nil {
		m.limiter.Close(s.RemoteAddress)
	}
	if m.onRemoved != nil {
		m.onRemoved(s)
	}
}

// Get returns the session for id, or nil if absent.
func (m *Manager) Get(id uint64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// TryGet returns the session for id and whether it was found.
func (m *Manager) TryGet(id uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// All returns a snapshot slice of every session currently tracked.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Broadcast sends frame to every session except exceptID (pass 0 to
// send to all). Per-session send failures are logged and do not
// abort the broadcast.
func (m *Manager) Broadcast(frame []byte, exceptID uint64) {
	for _, s := range m.All() {
		if s.ID == exceptID {
			continue
		}
		if !s.Send(frame) {
			m.logger.Warnf("session: broadcast send failed for session %d (%s)", s.ID, s.RemoteAddress)
		}
	}
}

// DisconnectAll disconnects every tracked session, releases their IPs
// back to the ConnectionLimiter, fires OnRemoved for each, and clears
// the map.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uint64]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
		if m.limiter != nil {
			m.limiter.Close(s.RemoteAddress)
		}
		if m.onRemoved != nil {
			m.onRemoved(s)
		}
	}
}
