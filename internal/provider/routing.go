// Package provider adapts external routing, geocoding and positioning
// services to the plain geo types used by the risk engine.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"guardian-angel/internal/geo"
)

var (
	ErrNoRoute             = errors.New("no route found")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// RoutingProvider returns candidate routes between two points.
type RoutingProvider interface {
	Routes(ctx context.Context, origin, destination geo.Coordinate) ([]geo.Route, error)
}

// OSRMClient talks to an OSRM-compatible /route/v1 endpoint and asks for
// alternatives with full GeoJSON geometries.
type OSRMClient struct {
	baseURL string
	profile string
	client  *http.Client
}

func NewOSRMClient(baseURL string, timeout time.Duration) *OSRMClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OSRMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		client:  &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry json.RawMessage `json:"geometry"`
		Distance float64         `json:"distance"`
		Duration float64         `json:"duration"`
	} `json:"routes"`
}

func (c *OSRMClient) Routes(ctx context.Context, origin, destination geo.Coordinate) ([]geo.Route, error) {
	// OSRM takes lng,lat pairs
	coords := fmt.Sprintf("%f,%f;%f,%f", origin.Lng, origin.Lat, destination.Lng, destination.Lat)
	q := url.Values{}
	q.Set("alternatives", "true")
	q.Set("geometries", "geojson")
	q.Set("overview", "full")
	endpoint := fmt.Sprintf("%s/route/v1/%s/%s?%s", c.baseURL, c.profile, coords, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build routing request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: routing status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode routing response: %w", err)
	}
	if body.Code == "NoRoute" || len(body.Routes) == 0 {
		return nil, ErrNoRoute
	}
	if body.Code != "Ok" {
		return nil, fmt.Errorf("routing error %s: %s", body.Code, body.Message)
	}

	routes := make([]geo.Route, 0, len(body.Routes))
	for i, r := range body.Routes {
		route, err := RouteFromGeoJSON(r.Geometry)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// RouteFromGeoJSON converts a GeoJSON LineString into a Route.
func RouteFromGeoJSON(data []byte) (geo.Route, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, fmt.Errorf("expected LineString geometry, got %T", g)
	}

	route := make(geo.Route, 0, ls.NumCoords())
	for _, c := range ls.Coords() {
		route = append(route, geo.Coordinate{Lat: c.Y(), Lng: c.X()})
	}
	return route, nil
}

// RouteToGeoJSON renders a Route as a GeoJSON LineString.
func RouteToGeoJSON(route geo.Route) ([]byte, error) {
	flat := make([]float64, 0, 2*len(route))
	for _, c := range route {
		flat = append(flat, c.Lng, c.Lat)
	}
	ls := geom.NewLineStringFlat(geom.XY, flat).SetSRID(4326)
	return geojson.Marshal(ls)
}

// StraightLine is the fallback path used when no provider route is available.
func StraightLine(origin, destination geo.Coordinate) geo.Route {
	return geo.Route{origin, destination}
}
