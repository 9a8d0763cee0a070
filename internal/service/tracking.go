package service

import (
	"context"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/tracking"
)

// StartTracking begins (or restarts) live location sharing. A non-positive
// duration uses the configured default. The proximity session is reset so
// zones are announced again during the shared trip.
func (s *SafetyService) StartTracking(ctx context.Context, userID string, durationSeconds int) (model.TrackingStatus, error) {
	if err := requireUser(userID); err != nil {
		return model.TrackingStatus{}, err
	}
	if durationSeconds <= 0 {
		durationSeconds = s.trackingDuration
	}
	if err := s.tracking.Start(userID, durationSeconds); err != nil {
		return model.TrackingStatus{}, err
	}
	_ = s.ResetMonitoring(userID)
	s.metrics.SetActiveTracking(s.tracking.ActiveCount())

	contacts := s.contactsForAlert(ctx, userID)
	err := s.enqueueAlert(ctx, model.AlertPayload{
		Kind:      model.AlertTrackingStarted,
		UserID:    userID,
		Contacts:  contacts,
		Remaining: durationSeconds,
	})
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("failed to queue tracking start alert")
	}

	return s.TrackingStatus(userID)
}

// StopTracking ends sharing by user request. NotFound when nothing is active.
func (s *SafetyService) StopTracking(ctx context.Context, userID string) (model.TrackingStatus, error) {
	if err := requireUser(userID); err != nil {
		return model.TrackingStatus{}, err
	}
	if _, ok := s.tracking.Stop(userID); !ok {
		return model.TrackingStatus{}, apperr.NotFound("no active tracking session for %q", userID)
	}
	return s.TrackingStatus(userID)
}

func (s *SafetyService) TrackingStatus(userID string) (model.TrackingStatus, error) {
	if err := requireUser(userID); err != nil {
		return model.TrackingStatus{}, err
	}
	active, remaining := s.tracking.Status(userID)
	return model.TrackingStatus{
		UserID:           userID,
		Active:           active,
		RemainingSeconds: remaining,
	}, nil
}

// onTrackingEnd queues the matching alert for an expired or stopped session.
func (s *SafetyService) onTrackingEnd(userID string, ev tracking.Event) {
	s.metrics.SetActiveTracking(s.tracking.ActiveCount())
	s.forgetProximity(userID)

	kind := model.AlertTrackingExpired
	if ev.Reason == tracking.ReasonStopped {
		kind = model.AlertTrackingStopped
	}

	ctx := context.Background()
	err := s.enqueueAlert(ctx, model.AlertPayload{
		Kind:      kind,
		UserID:    userID,
		Contacts:  s.contactsForAlert(ctx, userID),
		Remaining: ev.RemainingSeconds,
	})
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("failed to queue tracking end alert")
	}
}

// TriggerSOS queues an emergency alert with the user's contacts and a map
// link to location.
func (s *SafetyService) TriggerSOS(ctx context.Context, userID string, location geo.Coordinate) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if err := location.Validate(); err != nil {
		return err
	}

	contacts, err := s.store.ListContacts(ctx, userID)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		s.logger.WithField("user_id", userID).Warn("SOS without emergency contacts")
	}

	if err := s.enqueueAlert(ctx, model.AlertPayload{
		Kind:     model.AlertSOS,
		UserID:   userID,
		Location: &location,
		Contacts: contacts,
		MapsURL:  mapsURL(location),
	}); err != nil {
		return err
	}
	s.logger.WithField("user_id", userID).Warn("SOS triggered")
	return nil
}

func (s *SafetyService) contactsForAlert(ctx context.Context, userID string) []model.Contact {
	contacts, err := s.store.ListContacts(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("failed to load contacts for alert")
		return nil
	}
	return contacts
}
