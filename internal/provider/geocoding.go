package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"guardian-angel/internal/geo"
)

// Place is a geocoded address.
type Place struct {
	Location    geo.Coordinate
	DisplayName string
}

// Geocoder resolves free text to a coordinate. found is false when the
// address is unknown.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (place Place, found bool, err error)
}

// NominatimClient queries a Nominatim /search endpoint.
type NominatimClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewNominatimClient(baseURL, userAgent string, timeout time.Duration) *NominatimClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func (c *NominatimClient) Geocode(ctx context.Context, address string) (Place, bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Place{}, false, nil
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Place{}, false, fmt.Errorf("build geocoding request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Place{}, false, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Place{}, false, fmt.Errorf("%w: geocoding status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Place{}, false, fmt.Errorf("decode geocoding response: %w", err)
	}
	if len(results) == 0 {
		return Place{}, false, nil
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Place{}, false, fmt.Errorf("parse latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Place{}, false, fmt.Errorf("parse longitude %q: %w", results[0].Lon, err)
	}

	loc := geo.Coordinate{Lat: lat, Lng: lng}
	if err := loc.Validate(); err != nil {
		return Place{}, false, err
	}
	return Place{Location: loc, DisplayName: results[0].DisplayName}, true, nil
}
