// Package tracking implements the bounded location-sharing countdown.
package tracking

import (
	"guardian-angel/internal/apperr"
)

// DefaultDurationSeconds is the sharing window used when none is given.
const DefaultDurationSeconds = 1800

// EndReason tells why a session became inactive.
type EndReason string

const (
	ReasonExpired EndReason = "expired"
	ReasonStopped EndReason = "stopped"
)

// Event is emitted when an active session ends.
type Event struct {
	Reason           EndReason
	RemainingSeconds int
}

// Session is a two-state countdown: Inactive, or Active with the seconds left.
// It is driven by its caller; Tick is expected once per second.
type Session struct {
	active    bool
	remaining int
}

// Start (re)activates the session with durationSeconds left, replacing any
// running countdown.
func (s *Session) Start(durationSeconds int) error {
	if durationSeconds <= 0 {
		return apperr.InvalidArgument("tracking duration must be positive, got %d", durationSeconds)
	}
	s.active = true
	s.remaining = durationSeconds
	return nil
}

// Tick advances an active session by one second. When the countdown reaches
// zero the session ends and an expired event is returned. Ticking an inactive
// session does nothing.
func (s *Session) Tick() (Event, bool) {
	if !s.active {
		return Event{}, false
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == 0 {
		s.active = false
		return Event{Reason: ReasonExpired}, true
	}
	return Event{}, false
}

// Stop ends an active session immediately, freezing the remaining seconds.
func (s *Session) Stop() (Event, bool) {
	if !s.active {
		return Event{}, false
	}
	s.active = false
	return Event{Reason: ReasonStopped, RemainingSeconds: s.remaining}, true
}

func (s *Session) Active() bool {
	return s.active
}

func (s *Session) Remaining() int {
	return s.remaining
}
