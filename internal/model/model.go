package model

import (
	"encoding/json"
	"time"

	"guardian-angel/internal/geo"
)

type ZoneLevel string

const (
	LevelHigh     ZoneLevel = "high"
	LevelModerate ZoneLevel = "moderate"
)

// RiskZone is a weighted circular danger area.
type RiskZone struct {
	ID       string         `json:"id"`
	Location geo.Coordinate `json:"location"`
	Weight   float64        `json:"weight"`
	RadiusM  float64        `json:"radius_m"`
	Level    ZoneLevel      `json:"level"`
}

type Contact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

type ActivityReport struct {
	ID        string         `json:"id"`
	Location  geo.Coordinate `json:"location"`
	Comment   string         `json:"comment"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
}

type AlertKind string

const (
	AlertZoneProximity   AlertKind = "zone_proximity"
	AlertRouteRisk       AlertKind = "route_risk"
	AlertSOS             AlertKind = "sos"
	AlertLocationShare   AlertKind = "location_share"
	AlertTrackingStarted AlertKind = "tracking_started"
	AlertTrackingExpired AlertKind = "tracking_expired"
	AlertTrackingStopped AlertKind = "tracking_stopped"
)

// AlertPayload is queued in Redis and delivered to the webhook as JSON.
type AlertPayload struct {
	ID        string          `json:"id"`
	Kind      AlertKind       `json:"kind"`
	UserID    string          `json:"user_id"`
	Location  *geo.Coordinate `json:"location,omitempty"`
	Zones     []RiskZone      `json:"zones,omitempty"`
	Contacts  []Contact       `json:"contacts,omitempty"`
	MapsURL   string          `json:"maps_url,omitempty"`
	Remaining int             `json:"remaining_seconds,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type LocationRequest struct {
	UserID    string  `json:"user_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type LocationResponse struct {
	LocationRequest
	ZoneIDs   []string   `json:"zone_ids"`
	Triggered []RiskZone `json:"triggered"`
	Sharing   bool       `json:"sharing"`
}

type RouteRequest struct {
	UserID      string          `json:"user_id"`
	Origin      geo.Coordinate  `json:"origin"`
	Destination *geo.Coordinate `json:"destination,omitempty"`
	Address     string          `json:"address,omitempty"`
}

// RouteOption is one candidate route with its risk figures.
type RouteOption struct {
	Index         int       `json:"index"`
	Path          geo.Route `json:"path"`
	Score         float64   `json:"score"`
	ZoneIDs       []string  `json:"zone_ids"`
	HighCount     int       `json:"high_count"`
	ModerateCount int       `json:"moderate_count"`
	// Geometry is the path as a GeoJSON LineString.
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

type RouteResponse struct {
	Destination    geo.Coordinate `json:"destination"`
	DisplayName    string         `json:"display_name,omitempty"`
	Options        []RouteOption  `json:"options"`
	SaferIndex     int            `json:"safer_index"`
	Ranking        []int          `json:"ranking"`
	Fallback       bool           `json:"fallback"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
}

type TrackingStatus struct {
	UserID           string `json:"user_id"`
	Active           bool   `json:"active"`
	RemainingSeconds int    `json:"remaining_seconds"`
}
