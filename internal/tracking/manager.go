package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EndFunc receives session end events. It is called without the manager lock held.
type EndFunc func(userID string, ev Event)

// Manager owns one Session per user and ticks all of them from a single loop.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	onEnd    EndFunc
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger, onEnd EndFunc) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		onEnd:    onEnd,
		logger:   logger,
	}
}

// SetEndFunc replaces the end-event callback.
func (m *Manager) SetEndFunc(fn EndFunc) {
	m.mu.Lock()
	m.onEnd = fn
	m.mu.Unlock()
}

func (m *Manager) Start(userID string, durationSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &Session{}
	}
	if err := s.Start(durationSeconds); err != nil {
		return err
	}
	m.sessions[userID] = s
	m.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"duration": durationSeconds,
	}).Info("tracking session started")
	return nil
}

// Stop ends the user's session. ok is false when nothing was active.
func (m *Manager) Stop(userID string) (Event, bool) {
	m.mu.Lock()
	s, found := m.sessions[userID]
	var (
		ev Event
		ok bool
	)
	if found {
		ev, ok = s.Stop()
		delete(m.sessions, userID)
	}
	onEnd := m.onEnd
	m.mu.Unlock()

	if ok && onEnd != nil {
		onEnd(userID, ev)
	}
	return ev, ok
}

// Status returns whether the user is sharing and the seconds left.
func (m *Manager) Status(userID string) (bool, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok && s.Active() {
		return true, s.Remaining()
	}
	return false, 0
}

// ActiveCount returns the number of sessions currently sharing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Tick advances every session by one second and reports expirations.
func (m *Manager) Tick() {
	type ended struct {
		userID string
		ev     Event
	}
	var done []ended

	m.mu.Lock()
	for userID, s := range m.sessions {
		if ev, ok := s.Tick(); ok {
			done = append(done, ended{userID: userID, ev: ev})
			delete(m.sessions, userID)
		}
	}
	onEnd := m.onEnd
	m.mu.Unlock()

	for _, d := range done {
		m.logger.WithField("user_id", d.userID).Info("tracking session expired")
		if onEnd != nil {
			onEnd(d.userID, d.ev)
		}
	}
}

// Run ticks once per second until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}
