package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/provider"
)

// CheckLocation applies one position update for a user. Triggered holds the
// zones alerted for the first time by this update; ZoneIDs lists every zone
// currently within the proximity threshold.
func (s *SafetyService) CheckLocation(ctx context.Context, req model.LocationRequest) (model.LocationResponse, error) {
	if err := requireUser(req.UserID); err != nil {
		return model.LocationResponse{}, err
	}
	pos := geo.Coordinate{Lat: req.Latitude, Lng: req.Longitude}
	if err := pos.Validate(); err != nil {
		return model.LocationResponse{}, err
	}

	zones := s.zones.AllZones()

	s.mu.Lock()
	triggered := s.proximitySession(req.UserID).CheckProximity(pos, zones)
	s.mu.Unlock()

	near := s.zones.ZonesNear(pos, s.threshold)
	resp := model.LocationResponse{
		LocationRequest: req,
		ZoneIDs:         make([]string, 0, len(near)),
		Triggered:       triggered,
	}
	for _, z := range near {
		resp.ZoneIDs = append(resp.ZoneIDs, z.ID)
	}
	if resp.Triggered == nil {
		resp.Triggered = []model.RiskZone{}
	}

	log := s.logger.WithField("user_id", req.UserID)
	if len(triggered) > 0 {
		for _, z := range triggered {
			log.WithFields(logrus.Fields{
				"zone_id": z.ID,
				"level":   z.Level,
			}).Warn("approaching risk zone")
		}
		err := s.enqueueAlert(ctx, model.AlertPayload{
			Kind:     model.AlertZoneProximity,
			UserID:   req.UserID,
			Location: &pos,
			Zones:    triggered,
		})
		if err != nil {
			log.WithError(err).Error("failed to queue proximity alert")
		}
	}

	if active, remaining := s.tracking.Status(req.UserID); active {
		resp.Sharing = true
		err := s.enqueueAlert(ctx, model.AlertPayload{
			Kind:      model.AlertLocationShare,
			UserID:    req.UserID,
			Location:  &pos,
			MapsURL:   mapsURL(pos),
			Remaining: remaining,
		})
		if err != nil {
			log.WithError(err).Error("failed to queue location share")
		}
	}

	return resp, nil
}

// ResetMonitoring forgets which zones the user was alerted about.
func (s *SafetyService) ResetMonitoring(userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	s.mu.Lock()
	if ps, ok := s.proximity[userID]; ok {
		ps.Reset()
	}
	s.mu.Unlock()
	return nil
}

// Monitor feeds position updates from src through CheckLocation in arrival
// order until src closes or ctx is done. When src cannot be subscribed to,
// the configured fallback coordinate is used once. The user's proximity
// session is dropped when monitoring ends.
func (s *SafetyService) Monitor(
	ctx context.Context,
	userID string,
	src provider.PositionSource,
	onUpdate func(model.LocationResponse),
) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	log := s.logger.WithField("user_id", userID)

	fallback := provider.FallbackSource{
		Source:   src,
		Fallback: s.fallback,
		OnError: func(err error) {
			log.WithError(err).Warn("position unavailable, using fallback location")
		},
	}
	updates, err := fallback.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer func() {
		s.forgetProximity(userID)
		log.Debug("monitoring stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pos, ok := <-updates:
			if !ok {
				return nil
			}
			resp, err := s.CheckLocation(ctx, model.LocationRequest{
				UserID:    userID,
				Latitude:  pos.Lat,
				Longitude: pos.Lng,
			})
			if err != nil {
				log.WithError(err).Warn("skipping invalid position update")
				continue
			}
			if onUpdate != nil {
				onUpdate(resp)
			}
		}
	}
}
