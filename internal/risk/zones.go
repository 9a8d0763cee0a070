// Package risk evaluates positions and routes against a set of weighted
// circular danger zones. Nothing here performs I/O.
package risk

import (
	"sync/atomic"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
)

// Registry holds the active zone set as an immutable snapshot. Replace swaps
// the whole snapshot, so readers never see a partially updated set.
//
// Queries are full scans; at a few dozen zones no spatial index is needed.
type Registry struct {
	snapshot atomic.Pointer[[]model.RiskZone]
}

func NewRegistry(zones []model.RiskZone) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(zones); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates zones and installs them as the new snapshot.
func (r *Registry) Replace(zones []model.RiskZone) error {
	seen := make(map[string]struct{}, len(zones))
	cp := make([]model.RiskZone, 0, len(zones))
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			return err
		}
		if _, dup := seen[z.ID]; dup {
			return apperr.InvalidArgument("duplicate zone id %q", z.ID)
		}
		seen[z.ID] = struct{}{}
		cp = append(cp, z)
	}
	r.snapshot.Store(&cp)
	return nil
}

// AllZones returns the current snapshot. Callers must not modify it.
func (r *Registry) AllZones() []model.RiskZone {
	if p := r.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// ZonesNear returns zones whose boundary lies within maxDistance meters of point.
func (r *Registry) ZonesNear(point geo.Coordinate, maxDistance float64) []model.RiskZone {
	var out []model.RiskZone
	for _, z := range r.AllZones() {
		if geo.DistanceMeters(point, z.Location)-z.RadiusM <= maxDistance {
			out = append(out, z)
		}
	}
	return out
}

func (r *Registry) Zone(id string) (model.RiskZone, bool) {
	for _, z := range r.AllZones() {
		if z.ID == id {
			return z, true
		}
	}
	return model.RiskZone{}, false
}

// SameZones reports whether a and b hold the same zones by id and value,
// ignoring order.
func SameZones(a, b []model.RiskZone) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]model.RiskZone, len(a))
	for _, z := range a {
		byID[z.ID] = z
	}
	for _, z := range b {
		if other, ok := byID[z.ID]; !ok || other != z {
			return false
		}
	}
	return true
}
