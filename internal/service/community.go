package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
)

func (s *SafetyService) AddContact(ctx context.Context, userID string, c model.Contact) (model.Contact, error) {
	if err := requireUser(userID); err != nil {
		return model.Contact{}, err
	}
	c.ID = uuid.NewString()
	c.UserID = userID
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	if err := c.Validate(); err != nil {
		return model.Contact{}, err
	}

	if err := s.store.AddContact(ctx, c); err != nil {
		return model.Contact{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"contact_id": c.ID,
	}).Info("emergency contact added")
	return c, nil
}

func (s *SafetyService) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return s.store.ListContacts(ctx, userID)
}

func (s *SafetyService) DeleteContact(ctx context.Context, userID, id string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	ok, err := s.store.DeleteContact(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("contact %q", id)
	}
	return nil
}

// AddReport stores a report and notifies report subscribers. The timestamp is
// set server-side when the caller leaves it empty.
func (s *SafetyService) AddReport(ctx context.Context, userID string, r model.ActivityReport) (model.ActivityReport, error) {
	if err := requireUser(userID); err != nil {
		return model.ActivityReport{}, err
	}
	r.ID = uuid.NewString()
	r.UserID = userID
	r.Comment = strings.TrimSpace(r.Comment)
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if err := r.Validate(); err != nil {
		return model.ActivityReport{}, err
	}

	if err := s.store.AddReport(ctx, r); err != nil {
		return model.ActivityReport{}, err
	}
	if err := s.store.PublishReportsChanged(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to publish report change")
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"report_id": r.ID,
	}).Info("activity report added")
	return r, nil
}

func (s *SafetyService) ListReports(ctx context.Context) ([]model.ActivityReport, error) {
	return s.store.ListReports(ctx)
}

// ReportsNear returns reports within radiusM meters of point. Candidates come
// from the geohash cell around point and its neighbours and are then filtered
// by exact distance.
func (s *SafetyService) ReportsNear(ctx context.Context, point geo.Coordinate, radiusM float64) ([]model.ActivityReport, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		return nil, apperr.InvalidArgument("radius must be positive, got %v", radiusM)
	}

	precision := geo.CellPrecisionForRadius(point, radiusM, s.cellPrecision)
	candidates, err := s.store.ListReportsInCells(ctx, geo.GeohashCells(point, precision))
	if err != nil {
		return nil, err
	}

	out := make([]model.ActivityReport, 0, len(candidates))
	for _, r := range candidates {
		if geo.DistanceMeters(point, r.Location) <= radiusM {
			out = append(out, r)
		}
	}
	return out, nil
}

// SubscribeReports yields the full report list now and again after every
// change, until ctx is done.
func (s *SafetyService) SubscribeReports(ctx context.Context) (<-chan []model.ActivityReport, error) {
	changes, err := s.store.SubscribeReportsChanged(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan []model.ActivityReport)
	go func() {
		defer close(out)
		send := func() bool {
			reports, err := s.store.ListReports(ctx)
			if err != nil {
				s.logger.WithError(err).Warn("failed to list reports for subscriber")
				return ctx.Err() == nil
			}
			select {
			case out <- reports:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok || !send() {
					return
				}
			}
		}
	}()
	return out, nil
}
