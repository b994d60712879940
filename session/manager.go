// Package session tracks live push channels and routes user IDs to the set
// of sessions that should receive their events.
package session

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// userSessions holds all live sessions for one user. Each entry carries its
// own lock so routing traffic for one user never contends with another's.
type userSessions struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	// detached marks an entry that has been removed from the manager map.
	// A binder that raced the removal must retry with a fresh entry.
	detached bool
}

// Manager is the connection router. It maps user IDs to their live sessions
// and keeps the mapping consistent under concurrent bind and unbind.
type Manager struct {
	users  sync.Map // int64 → *userSessions
	count  atomic.Int64
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Bind associates a session with a user. Binding an already-bound session to
// the same user is a no-op; binding to a different user first detaches it
// from the old one.
func (m *Manager) Bind(s *Session, userID int64) {
	old := s.UserID()
	if old == userID {
		return
	}
	if old != 0 {
		m.detach(s, old)
	}
	for {
		v, _ := m.users.LoadOrStore(userID, &userSessions{sessions: make(map[*Session]struct{})})
		entry := v.(*userSessions)
		entry.mu.Lock()
		if entry.detached {
			entry.mu.Unlock()
			continue
		}
		if _, ok := entry.sessions[s]; !ok {
			entry.sessions[s] = struct{}{}
			m.count.Add(1)
		}
		entry.mu.Unlock()
		break
	}
	s.setUserID(userID)
	m.logger.Info("session bound",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", userID))
}

// Unbind removes a session from its user's set. Unbinding an anonymous or
// already-unbound session is a no-op.
func (m *Manager) Unbind(s *Session) {
	userID := s.UserID()
	if userID == 0 {
		return
	}
	m.detach(s, userID)
	s.setUserID(0)
	m.logger.Info("session unbound",
		zap.String("session_id", s.ID),
		zap.Int64("user_id", userID))
}

func (m *Manager) detach(s *Session, userID int64) {
	v, ok := m.users.Load(userID)
	if !ok {
		return
	}
	entry := v.(*userSessions)
	entry.mu.Lock()
	if _, ok := entry.sessions[s]; ok {
		delete(entry.sessions, s)
		m.count.Add(-1)
	}
	if len(entry.sessions) == 0 && !entry.detached {
		entry.detached = true
		m.users.Delete(userID)
	}
	entry.mu.Unlock()
}

// SessionsFor returns a snapshot of the user's live sessions. The caller may
// iterate without holding any manager lock.
func (m *Manager) SessionsFor(userID int64) []*Session {
	v, ok := m.users.Load(userID)
	if !ok {
		return nil
	}
	entry := v.(*userSessions)
	entry.mu.Lock()
	out := make([]*Session, 0, len(entry.sessions))
	for s := range entry.sessions {
		out = append(out, s)
	}
	entry.mu.Unlock()
	return out
}

// IsOnline reports whether the user has at least one live session.
func (m *Manager) IsOnline(userID int64) bool {
	_, ok := m.users.Load(userID)
	return ok
}

// Count returns the number of bound sessions across all users.
func (m *Manager) Count() int64 {
	return m.count.Load()
}

// CloseAll closes every bound session. Used during graceful shutdown.
func (m *Manager) CloseAll() {
	m.users.Range(func(_, v interface{}) bool {
		entry := v.(*userSessions)
		entry.mu.Lock()
		for s := range entry.sessions {
			s.Close()
		}
		entry.mu.Unlock()
		return true
	})
}
