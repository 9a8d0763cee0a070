package model

import (
	"math"
	"strings"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
)

func (z RiskZone) Validate() error {
	if strings.TrimSpace(z.ID) == "" {
		return apperr.InvalidArgument("zone id is required")
	}
	if err := z.Location.Validate(); err != nil {
		return apperr.InvalidArgument("zone %s: %v", z.ID, err)
	}
	if math.IsNaN(z.Weight) || z.Weight < 0 || z.Weight > 100 {
		return apperr.InvalidArgument("zone %s: weight %v must be between 0 and 100", z.ID, z.Weight)
	}
	if math.IsNaN(z.RadiusM) || math.IsInf(z.RadiusM, 0) || z.RadiusM < 0 {
		return apperr.InvalidArgument("zone %s: radius %v must be a non-negative number", z.ID, z.RadiusM)
	}
	if z.Level != LevelHigh && z.Level != LevelModerate {
		return apperr.InvalidArgument("zone %s: unknown level %q", z.ID, z.Level)
	}
	return nil
}

// LevelFor derives a level from a weight when none is given.
func LevelFor(weight float64) ZoneLevel {
	if weight >= 50 {
		return LevelHigh
	}
	return LevelModerate
}

// ZoneFromRecord converts a loosely-typed document (seed file, external store)
// into a RiskZone. Location may be given as {"lat","lng"} or as flat
// "latitude"/"longitude" fields; a missing level defaults to high when the
// weight is at least 50.
func ZoneFromRecord(rec map[string]any) (RiskZone, error) {
	var z RiskZone

	id, ok := rec["id"].(string)
	if !ok {
		return z, apperr.InvalidArgument("zone record: id must be a string")
	}
	z.ID = id

	if loc, ok := rec["location"].(map[string]any); ok {
		lat, err := number(loc, "lat")
		if err != nil {
			return z, err
		}
		lng, err := number(loc, "lng")
		if err != nil {
			return z, err
		}
		z.Location = geo.Coordinate{Lat: lat, Lng: lng}
	} else {
		lat, err := number(rec, "latitude")
		if err != nil {
			return z, err
		}
		lng, err := number(rec, "longitude")
		if err != nil {
			return z, err
		}
		z.Location = geo.Coordinate{Lat: lat, Lng: lng}
	}

	weight, err := number(rec, "weight")
	if err != nil {
		return z, err
	}
	z.Weight = weight

	radiusKey := "radius_m"
	if _, ok := rec[radiusKey]; !ok {
		radiusKey = "radius"
	}
	radius, err := number(rec, radiusKey)
	if err != nil {
		return z, err
	}
	z.RadiusM = radius

	switch lvl := rec["level"].(type) {
	case nil:
		z.Level = LevelFor(z.Weight)
	case string:
		z.Level = ZoneLevel(strings.ToLower(lvl))
	default:
		return z, apperr.InvalidArgument("zone %s: level must be a string", z.ID)
	}

	return z, z.Validate()
}

func number(rec map[string]any, key string) (float64, error) {
	switch v := rec[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, apperr.InvalidArgument("record field %q is missing", key)
	default:
		return 0, apperr.InvalidArgument("record field %q must be a number, got %T", key, v)
	}
}

func (c Contact) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.InvalidArgument("contact name is required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		return apperr.InvalidArgument("contact phone is required")
	}
	return nil
}

func (r ActivityReport) Validate() error {
	if strings.TrimSpace(r.Comment) == "" {
		return apperr.InvalidArgument("report comment is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return apperr.InvalidArgument("report user id is required")
	}
	return r.Location.Validate()
}
