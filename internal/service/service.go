package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/observability"
	"guardian-angel/internal/provider"
	"guardian-angel/internal/risk"
	"guardian-angel/internal/tracking"
)

// Store is the persistence the service needs. *repository.Storage satisfies it.
type Store interface {
	PingDB(ctx context.Context) error
	PingRedis(ctx context.Context) error

	UpsertZone(ctx context.Context, z model.RiskZone) error
	ListZones(ctx context.Context) ([]model.RiskZone, error)
	DeleteZone(ctx context.Context, id string) (bool, error)

	AddContact(ctx context.Context, c model.Contact) error
	ListContacts(ctx context.Context, userID string) ([]model.Contact, error)
	DeleteContact(ctx context.Context, userID, id string) (bool, error)

	AddReport(ctx context.Context, r model.ActivityReport) error
	ListReports(ctx context.Context) ([]model.ActivityReport, error)
	ListReportsInCells(ctx context.Context, cells []string) ([]model.ActivityReport, error)
	PublishReportsChanged(ctx context.Context) error
	SubscribeReportsChanged(ctx context.Context) (<-chan struct{}, error)

	PushAlertTask(ctx context.Context, payload []byte) error
}

type HealthError struct {
	DBError    error
	RedisError error
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("health check failed: db=%v, redis=%v", e.DBError, e.RedisError)
}

type Options struct {
	ProximityThresholdM     float64
	TrackingDurationSeconds int
	Fallback                geo.Coordinate
	ReportsGeohashPrecision uint
}

type SafetyService struct {
	store    Store
	router   provider.RoutingProvider
	geocoder provider.Geocoder
	metrics  *observability.Collector
	logger   *logrus.Logger

	// zonesMu serializes read-modify-replace of the zone snapshot and the
	// matching store write.
	zonesMu  sync.Mutex
	zones    *risk.Registry
	tracking *tracking.Manager

	mu        sync.Mutex
	proximity map[string]*risk.ProximitySession

	threshold        float64
	trackingDuration int
	fallback         geo.Coordinate
	cellPrecision    uint
	now              func() time.Time
}

func NewSafetyService(
	store Store,
	router provider.RoutingProvider,
	geocoder provider.Geocoder,
	metrics *observability.Collector,
	logger *logrus.Logger,
	opts Options,
) *SafetyService {
	if opts.ProximityThresholdM < 0 {
		opts.ProximityThresholdM = risk.DefaultProximityThresholdM
	}
	if opts.TrackingDurationSeconds <= 0 {
		opts.TrackingDurationSeconds = tracking.DefaultDurationSeconds
	}
	if opts.ReportsGeohashPrecision == 0 || opts.ReportsGeohashPrecision > geo.StoredGeohashPrecision {
		logger.WithField("precision", opts.ReportsGeohashPrecision).Warn("reports geohash precision out of range, using 6")
		opts.ReportsGeohashPrecision = 6
	}

	zones, _ := risk.NewRegistry(nil)
	s := &SafetyService{
		store:            store,
		router:           router,
		geocoder:         geocoder,
		metrics:          metrics,
		logger:           logger,
		zones:            zones,
		proximity:        make(map[string]*risk.ProximitySession),
		threshold:        opts.ProximityThresholdM,
		trackingDuration: opts.TrackingDurationSeconds,
		fallback:         opts.Fallback,
		cellPrecision:    opts.ReportsGeohashPrecision,
		now:              time.Now,
	}
	s.tracking = tracking.NewManager(logger, nil)
	s.tracking.SetEndFunc(s.onTrackingEnd)
	return s
}

// HealthCheck pings every backing store. It returns nil when all are reachable.
func (s *SafetyService) HealthCheck(ctx context.Context) *HealthError {
	var herr HealthError

	if err := s.store.PingDB(ctx); err != nil {
		herr.DBError = err
	}
	if err := s.store.PingRedis(ctx); err != nil {
		herr.RedisError = err
	}

	if herr.DBError != nil || herr.RedisError != nil {
		return &herr
	}
	return nil
}

// RunTracking drives tracking countdowns until ctx is done.
func (s *SafetyService) RunTracking(ctx context.Context) {
	s.tracking.Run(ctx)
}

func (s *SafetyService) proximitySession(userID string) *risk.ProximitySession {
	ps, ok := s.proximity[userID]
	if !ok {
		ps = risk.NewProximitySession(s.threshold)
		s.proximity[userID] = ps
	}
	return ps
}

// forgetProximity drops the user's proximity session.
func (s *SafetyService) forgetProximity(userID string) {
	s.mu.Lock()
	delete(s.proximity, userID)
	s.mu.Unlock()
}

// resetAllProximity clears every user's alerted set. Alerts keyed by zone id
// are meaningless once the zone set changes.
func (s *SafetyService) resetAllProximity() {
	s.mu.Lock()
	for _, ps := range s.proximity {
		ps.Reset()
	}
	s.mu.Unlock()
}

// enqueueAlert stamps the payload and pushes it on the delivery queue.
func (s *SafetyService) enqueueAlert(ctx context.Context, payload model.AlertPayload) error {
	payload.ID = uuid.NewString()
	payload.CreatedAt = s.now().UTC()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.store.PushAlertTask(ctx, body); err != nil {
		return err
	}
	s.metrics.Alert(string(payload.Kind))
	s.logger.WithFields(logrus.Fields{
		"alert_id": payload.ID,
		"kind":     payload.Kind,
		"user_id":  payload.UserID,
	}).Debug("alert queued")
	return nil
}

func requireUser(userID string) error {
	if userID == "" {
		return apperr.InvalidArgument("user id is required")
	}
	return nil
}

func mapsURL(c geo.Coordinate) string {
	return fmt.Sprintf("https://maps.google.com/?q=%f,%f", c.Lat, c.Lng)
}

// LoadZones installs the initial zone set. The seed file, when given, wins
// over stored zones; with neither the built-in defaults are used.
func (s *SafetyService) LoadZones(ctx context.Context, seedFile string) error {
	var (
		zones  []model.RiskZone
		source string
	)

	if seedFile != "" {
		z, err := readSeedFile(seedFile)
		if err != nil {
			return err
		}
		zones, source = z, "seed file"
	}

	s.zonesMu.Lock()
	defer s.zonesMu.Unlock()

	if len(zones) == 0 {
		stored, err := s.store.ListZones(ctx)
		if err != nil {
			return fmt.Errorf("load stored zones: %w", err)
		}
		zones, source = stored, "database"
	}

	if len(zones) == 0 {
		zones, source = risk.DefaultZones(), "defaults"
	}

	if err := s.replaceZones(zones); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"count":  len(zones),
		"source": source,
	}).Info("risk zones loaded")
	return nil
}

func readSeedFile(path string) ([]model.RiskZone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone seed file: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, apperr.InvalidArgument("zone seed file %s: %v", path, err)
	}

	zones := make([]model.RiskZone, 0, len(records))
	for i, rec := range records {
		z, err := model.ZoneFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("zone seed record %d: %w", i, err)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

// replaceZones swaps the snapshot and resets proximity sessions when the set
// actually changed. Callers hold zonesMu.
func (s *SafetyService) replaceZones(zones []model.RiskZone) error {
	old := s.zones.AllZones()
	if err := s.zones.Replace(zones); err != nil {
		return err
	}
	if !risk.SameZones(old, zones) {
		s.resetAllProximity()
	}
	s.metrics.SetZonesLoaded(len(zones))
	return nil
}

func (s *SafetyService) ListZones() []model.RiskZone {
	zones := s.zones.AllZones()
	out := make([]model.RiskZone, len(zones))
	copy(out, zones)
	return out
}

// CreateZone stores the zone and adds it to the active set, replacing any zone
// with the same id.
func (s *SafetyService) CreateZone(ctx context.Context, z model.RiskZone) (model.RiskZone, error) {
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	if z.Level == "" {
		z.Level = model.LevelFor(z.Weight)
	}
	if err := z.Validate(); err != nil {
		return model.RiskZone{}, err
	}

	s.zonesMu.Lock()
	defer s.zonesMu.Unlock()

	if err := s.store.UpsertZone(ctx, z); err != nil {
		return model.RiskZone{}, err
	}

	current := s.zones.AllZones()
	next := make([]model.RiskZone, 0, len(current)+1)
	replaced := false
	for _, existing := range current {
		if existing.ID == z.ID {
			next = append(next, z)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, z)
	}

	if err := s.replaceZones(next); err != nil {
		return model.RiskZone{}, err
	}
	s.logger.WithField("zone_id", z.ID).Info("risk zone saved")
	return z, nil
}

func (s *SafetyService) DeleteZone(ctx context.Context, id string) error {
	s.zonesMu.Lock()
	defer s.zonesMu.Unlock()

	if _, ok := s.zones.Zone(id); !ok {
		return apperr.NotFound("zone %q", id)
	}
	if _, err := s.store.DeleteZone(ctx, id); err != nil {
		return err
	}

	current := s.zones.AllZones()
	next := make([]model.RiskZone, 0, len(current))
	for _, z := range current {
		if z.ID != id {
			next = append(next, z)
		}
	}
	if err := s.replaceZones(next); err != nil {
		return err
	}
	s.logger.WithField("zone_id", id).Info("risk zone deleted")
	return nil
}
