package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/provider"
)

type memStore struct {
	mu       sync.Mutex
	zones    map[string]model.RiskZone
	contacts []model.Contact
	reports  []model.ActivityReport
	alerts   [][]byte
	changes  chan struct{}

	dbErr    error
	redisErr error
	pushErr  error
}

func newMemStore() *memStore {
	return &memStore{
		zones:   make(map[string]model.RiskZone),
		changes: make(chan struct{}, 8),
	}
}

func (m *memStore) PingDB(ctx context.Context) error    { return m.dbErr }
func (m *memStore) PingRedis(ctx context.Context) error { return m.redisErr }

func (m *memStore) UpsertZone(ctx context.Context, z model.RiskZone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[z.ID] = z
	return nil
}

func (m *memStore) ListZones(ctx context.Context) ([]model.RiskZone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RiskZone
	for _, z := range m.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteZone(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.zones[id]
	delete(m.zones, id)
	return ok, nil
}

func (m *memStore) AddContact(ctx context.Context, c model.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, c)
	return nil
}

func (m *memStore) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Contact{}
	for _, c := range m.contacts {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) DeleteContact(ctx context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.contacts {
		if c.ID == id && c.UserID == userID {
			m.contacts = append(m.contacts[:i], m.contacts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddReport(ctx context.Context, r model.ActivityReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memStore) ListReports(ctx context.Context) ([]model.ActivityReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ActivityReport, len(m.reports))
	copy(out, m.reports)
	return out, nil
}

func (m *memStore) ListReportsInCells(ctx context.Context, cells []string) ([]model.ActivityReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.ActivityReport{}
	for _, r := range m.reports {
		for _, cell := range cells {
			if strings.HasPrefix(geo.Geohash(r.Location, geo.StoredGeohashPrecision), cell) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) PublishReportsChanged(ctx context.Context) error {
	select {
	case m.changes <- struct{}{}:
	default:
	}
	return nil
}

func (m *memStore) SubscribeReportsChanged(ctx context.Context) (<-chan struct{}, error) {
	return m.changes, nil
}

func (m *memStore) PushAlertTask(ctx context.Context, payload []byte) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, payload)
	return nil
}

func (m *memStore) queuedAlerts(t *testing.T) []model.AlertPayload {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AlertPayload, 0, len(m.alerts))
	for _, raw := range m.alerts {
		var a model.AlertPayload
		if err := json.Unmarshal(raw, &a); err != nil {
			t.Fatalf("queued alert is not valid JSON: %v", err)
		}
		out = append(out, a)
	}
	return out
}

func (m *memStore) alertKinds(t *testing.T) []model.AlertKind {
	t.Helper()
	var kinds []model.AlertKind
	for _, a := range m.queuedAlerts(t) {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

type fakeRouter struct {
	routes []geo.Route
	err    error
}

func (f *fakeRouter) Routes(ctx context.Context, origin, destination geo.Coordinate) ([]geo.Route, error) {
	return f.routes, f.err
}

type fakeGeocoder struct {
	places map[string]provider.Place
	err    error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (provider.Place, bool, error) {
	if f.err != nil {
		return provider.Place{}, false, f.err
	}
	p, ok := f.places[address]
	return p, ok, nil
}

var errBoom = errors.New("boom")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T) (*SafetyService, *memStore, *fakeRouter, *fakeGeocoder) {
	t.Helper()
	store := newMemStore()
	router := &fakeRouter{}
	geocoder := &fakeGeocoder{places: map[string]provider.Place{}}
	svc := NewSafetyService(store, router, geocoder, nil, testLogger(), Options{
		ProximityThresholdM:     500,
		TrackingDurationSeconds: 1800,
		Fallback:                geo.Coordinate{Lat: 17.6868, Lng: 83.2185},
		ReportsGeohashPrecision: 6,
	})
	return svc, store, router, geocoder
}
