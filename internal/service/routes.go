package service

import (
	"context"
	"fmt"
	"strings"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/provider"
	"guardian-angel/internal/risk"
)

// PlanRoute fetches candidate routes to a destination (given directly or as
// an address) and marks the safest one. If the routing provider fails, a
// straight line is returned with Fallback set.
func (s *SafetyService) PlanRoute(ctx context.Context, req model.RouteRequest) (model.RouteResponse, error) {
	if err := req.Origin.Validate(); err != nil {
		return model.RouteResponse{}, fmt.Errorf("origin: %w", err)
	}

	var resp model.RouteResponse
	switch {
	case req.Destination != nil:
		if err := req.Destination.Validate(); err != nil {
			return model.RouteResponse{}, fmt.Errorf("destination: %w", err)
		}
		resp.Destination = *req.Destination
	case strings.TrimSpace(req.Address) != "":
		place, found, err := s.geocoder.Geocode(ctx, strings.TrimSpace(req.Address))
		if err != nil {
			return model.RouteResponse{}, fmt.Errorf("geocode destination: %w", err)
		}
		if !found {
			return model.RouteResponse{}, apperr.NotFound("address %q", req.Address)
		}
		resp.Destination = place.Location
		resp.DisplayName = place.DisplayName
	default:
		return model.RouteResponse{}, apperr.InvalidArgument("destination or address is required")
	}

	log := s.logger.WithField("user_id", req.UserID)

	routes, err := s.router.Routes(ctx, req.Origin, resp.Destination)
	if err == nil && len(routes) == 0 {
		err = provider.ErrNoRoute
	}
	if err != nil {
		log.WithError(err).Warn("routing provider failed, using straight line")
		routes = []geo.Route{provider.StraightLine(req.Origin, resp.Destination)}
		resp.Fallback = true
		resp.FallbackReason = err.Error()
	}

	zones := s.zones.AllZones()
	ranking := risk.RankRoutes(routes, zones)
	if len(ranking) == 0 {
		return model.RouteResponse{}, apperr.InvalidArgument("no candidate routes to select from")
	}
	resp.Ranking = make([]int, len(ranking))
	scores := make([]float64, len(routes))
	for i, r := range ranking {
		resp.Ranking[i] = r.Index
		scores[r.Index] = r.Score
	}
	resp.SaferIndex = ranking[0].Index

	resp.Options = make([]model.RouteOption, len(routes))
	for i, route := range routes {
		summary := risk.EvaluateRoute(route, zones)
		opt := model.RouteOption{
			Index:         i,
			Path:          route,
			Score:         scores[i],
			ZoneIDs:       summary.ZoneIDs(),
			HighCount:     summary.HighCount,
			ModerateCount: summary.ModerateCount,
		}
		if g, err := provider.RouteToGeoJSON(route); err == nil {
			opt.Geometry = g
		} else {
			log.WithError(err).Debug("route geometry encoding failed")
		}
		resp.Options[i] = opt
	}

	safer := risk.EvaluateRoute(routes[resp.SaferIndex], zones)
	risky := len(safer.IntersectingZones) > 0
	s.metrics.RouteEvaluated(risky, resp.Fallback)

	if risky && req.UserID != "" {
		origin := req.Origin
		err := s.enqueueAlert(ctx, model.AlertPayload{
			Kind:     model.AlertRouteRisk,
			UserID:   req.UserID,
			Location: &origin,
			Zones:    safer.IntersectingZones,
		})
		if err != nil {
			log.WithError(err).Error("failed to queue route risk alert")
		}
	}

	return resp, nil
}
