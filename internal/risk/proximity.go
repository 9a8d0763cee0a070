package risk

import (
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
)

// DefaultProximityThresholdM is the buffer beyond a zone radius that still
// counts as approaching the zone.
const DefaultProximityThresholdM = 500.0

// ProximitySession tracks which zones have already alerted during one
// monitoring session. It is not safe for concurrent use; position updates
// for a session must be applied one at a time in arrival order.
type ProximitySession struct {
	thresholdM float64
	alerted    map[string]struct{}
}

func NewProximitySession(thresholdM float64) *ProximitySession {
	if thresholdM < 0 {
		thresholdM = 0
	}
	return &ProximitySession{
		thresholdM: thresholdM,
		alerted:    make(map[string]struct{}),
	}
}

// CheckProximity returns the zones that position newly approaches, i.e. whose
// centre is closer than radius + threshold and which have not alerted yet in
// this session. Returned zones are marked as alerted.
func (s *ProximitySession) CheckProximity(position geo.Coordinate, zones []model.RiskZone) []model.RiskZone {
	var triggered []model.RiskZone
	for _, z := range zones {
		if _, done := s.alerted[z.ID]; done {
			continue
		}
		if geo.DistanceMeters(position, z.Location) < z.RadiusM+s.thresholdM {
			s.alerted[z.ID] = struct{}{}
			triggered = append(triggered, z)
		}
	}
	return triggered
}

// Reset forgets every alerted zone.
func (s *ProximitySession) Reset() {
	clear(s.alerted)
}

func (s *ProximitySession) Alerted(zoneID string) bool {
	_, ok := s.alerted[zoneID]
	return ok
}

func (s *ProximitySession) AlertedCount() int {
	return len(s.alerted)
}
