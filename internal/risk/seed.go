package risk

import (
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
)

// DefaultZones is the built-in Visakhapatnam seed used when no other zone
// source is configured.
func DefaultZones() []model.RiskZone {
	return []model.RiskZone{
		{ID: "zone1", Location: geo.Coordinate{Lat: 17.6868, Lng: 83.2185}, Weight: 50, RadiusM: 300, Level: model.LevelHigh},
		{ID: "zone2", Location: geo.Coordinate{Lat: 17.7215, Lng: 83.3150}, Weight: 80, RadiusM: 500, Level: model.LevelHigh},
		{ID: "zone3", Location: geo.Coordinate{Lat: 17.7126, Lng: 83.2982}, Weight: 30, RadiusM: 400, Level: model.LevelModerate},
		{ID: "zone4", Location: geo.Coordinate{Lat: 17.7420, Lng: 83.3370}, Weight: 65, RadiusM: 250, Level: model.LevelHigh},
	}
}
