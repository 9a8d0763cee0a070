package risk

import (
	"sort"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
)

// RouteRiskSummary lists the zones a route crosses. Each zone appears once,
// in the order of the zone set it was evaluated against.
type RouteRiskSummary struct {
	IntersectingZones []model.RiskZone `json:"intersecting_zones"`
	HighCount         int              `json:"high_count"`
	ModerateCount     int              `json:"moderate_count"`
}

func (s RouteRiskSummary) ZoneIDs() []string {
	ids := make([]string, 0, len(s.IntersectingZones))
	for _, z := range s.IntersectingZones {
		ids = append(ids, z.ID)
	}
	return ids
}

// EvaluateRoute tests every segment of route against every zone circle.
// Routes with fewer than two points have no segments and yield an empty summary.
func EvaluateRoute(route geo.Route, zones []model.RiskZone) RouteRiskSummary {
	var summary RouteRiskSummary
	if len(route) < 2 {
		return summary
	}

	for _, z := range zones {
		for i := 0; i+1 < len(route); i++ {
			if !geo.SegmentIntersectsCircle(route[i], route[i+1], z.Location, z.RadiusM) {
				continue
			}
			summary.IntersectingZones = append(summary.IntersectingZones, z)
			switch z.Level {
			case model.LevelHigh:
				summary.HighCount++
			case model.LevelModerate:
				summary.ModerateCount++
			}
			break
		}
	}
	return summary
}

// ScoreRoute sums zone weights over every route vertex that falls inside a
// zone. A vertex inside two zones contributes both weights.
func ScoreRoute(route geo.Route, zones []model.RiskZone) float64 {
	score := 0.0
	for _, p := range route {
		for _, z := range zones {
			if geo.DistanceMeters(p, z.Location) < z.RadiusM {
				score += z.Weight
			}
		}
	}
	return score
}

// RouteScore pairs a route index with its exposure score.
type RouteScore struct {
	Index int
	Score float64
}

// RankRoutes scores routes and orders them by ascending score. Ties keep the
// input order.
func RankRoutes(routes []geo.Route, zones []model.RiskZone) []RouteScore {
	scores := make([]RouteScore, len(routes))
	for i, r := range routes {
		scores[i] = RouteScore{Index: i, Score: ScoreRoute(r, zones)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score < scores[j].Score
	})
	return scores
}

// SelectSaferRoute returns the index of the lowest-scoring route, preferring
// the earliest on ties.
func SelectSaferRoute(routes []geo.Route, zones []model.RiskZone) (int, error) {
	if len(routes) == 0 {
		return 0, apperr.InvalidArgument("no candidate routes to select from")
	}
	return RankRoutes(routes, zones)[0].Index, nil
}
