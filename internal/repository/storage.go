package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"guardian-angel/internal/config"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
)

const (
	alertQueueKey         = "guardian:alerts"
	reportsChangedChannel = "guardian:reports:changed"
)

type PostgresRepo struct {
	db *sql.DB
}

type RedisCache struct {
	cache *redis.Client
}

type Storage struct {
	repo   *PostgresRepo
	cache  *RedisCache
	logger *logrus.Logger
}

func NewPostgresRepo(dbURL string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresRepo{db: db}, nil
}

func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		Username:     cfg.User,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{cache: client}, nil
}

func NewStorage(dbURL string, redisCfg config.RedisConfig, logger *logrus.Logger) (*Storage, error) {
	postgres, err := NewPostgresRepo(dbURL)
	if err != nil {
		return nil, err
	}
	redis, err := NewRedisCache(context.Background(), redisCfg)
	if err != nil {
		_ = postgres.db.Close()
		return nil, err
	}
	return &Storage{
		repo:   postgres,
		cache:  redis,
		logger: logger,
	}, nil
}

// NewStorageFromClients wraps already opened clients.
func NewStorageFromClients(db *sql.DB, client *redis.Client, logger *logrus.Logger) *Storage {
	return &Storage{
		repo:   &PostgresRepo{db: db},
		cache:  &RedisCache{cache: client},
		logger: logger,
	}
}

func (s *Storage) CreateTables(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS risk_zones (
    id          TEXT PRIMARY KEY,
    latitude    DOUBLE PRECISION NOT NULL,
    longitude   DOUBLE PRECISION NOT NULL,
    weight      DOUBLE PRECISION NOT NULL,
    radius_m    DOUBLE PRECISION NOT NULL,
    level       TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS contacts (
    id          TEXT PRIMARY KEY,
    user_id     TEXT        NOT NULL,
    name        TEXT        NOT NULL,
    phone       TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS contacts_user_id_idx ON contacts (user_id);

CREATE TABLE IF NOT EXISTS activity_reports (
    id          TEXT PRIMARY KEY,
    user_id     TEXT        NOT NULL,
    latitude    DOUBLE PRECISION NOT NULL,
    longitude   DOUBLE PRECISION NOT NULL,
    geohash     TEXT        NOT NULL,
    comment     TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS activity_reports_geohash_idx ON activity_reports (geohash text_pattern_ops);
`
	_, err := s.repo.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *Storage) UpsertZone(ctx context.Context, z model.RiskZone) error {
	query := `
INSERT INTO risk_zones (id, latitude, longitude, weight, radius_m, level)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    weight = EXCLUDED.weight,
    radius_m = EXCLUDED.radius_m,
    level = EXCLUDED.level,
    updated_at = NOW();
`
	_, err := s.repo.db.ExecContext(ctx, query,
		z.ID,
		z.Location.Lat,
		z.Location.Lng,
		z.Weight,
		z.RadiusM,
		string(z.Level),
	)
	if err != nil {
		return fmt.Errorf("upsert zone %s: %w", z.ID, err)
	}
	return nil
}

func (s *Storage) ListZones(ctx context.Context) ([]model.RiskZone, error) {
	query := `
SELECT id, latitude, longitude, weight, radius_m, level
FROM risk_zones
ORDER BY id;
`
	rows, err := s.repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RiskZone
	for rows.Next() {
		var (
			z     model.RiskZone
			level string
		)
		if err := rows.Scan(
			&z.ID,
			&z.Location.Lat,
			&z.Location.Lng,
			&z.Weight,
			&z.RadiusM,
			&level,
		); err != nil {
			return nil, err
		}
		z.Level = model.ZoneLevel(level)
		result = append(result, z)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteZone reports false when no zone had the id.
func (s *Storage) DeleteZone(ctx context.Context, id string) (bool, error) {
	res, err := s.repo.db.ExecContext(ctx, `DELETE FROM risk_zones WHERE id = $1;`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) AddContact(ctx context.Context, c model.Contact) error {
	query := `
INSERT INTO contacts (id, user_id, name, phone)
VALUES ($1, $2, $3, $4);
`
	_, err := s.repo.db.ExecContext(ctx, query, c.ID, c.UserID, c.Name, c.Phone)
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}

func (s *Storage) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	query := `
SELECT id, user_id, name, phone
FROM contacts
WHERE user_id = $1
ORDER BY created_at;
`
	rows, err := s.repo.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteContact only removes contacts owned by userID.
func (s *Storage) DeleteContact(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.repo.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1 AND user_id = $2;`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) AddReport(ctx context.Context, r model.ActivityReport) error {
	query := `
INSERT INTO activity_reports (id, user_id, latitude, longitude, geohash, comment, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := s.repo.db.ExecContext(ctx, query,
		r.ID,
		r.UserID,
		r.Location.Lat,
		r.Location.Lng,
		geo.Geohash(r.Location, geo.StoredGeohashPrecision),
		r.Comment,
		r.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("add report: %w", err)
	}
	return nil
}

func (s *Storage) ListReports(ctx context.Context) ([]model.ActivityReport, error) {
	query := `
SELECT id, user_id, latitude, longitude, comment, created_at
FROM activity_reports
ORDER BY created_at DESC;
`
	rows, err := s.repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

// ListReportsInCells returns reports whose geohash starts with one of cells.
// All cells must share the same precision.
func (s *Storage) ListReportsInCells(ctx context.Context, cells []string) ([]model.ActivityReport, error) {
	if len(cells) == 0 {
		return []model.ActivityReport{}, nil
	}
	query := `
SELECT id, user_id, latitude, longitude, comment, created_at
FROM activity_reports
WHERE left(geohash, $1) = ANY($2)
ORDER BY created_at DESC;
`
	rows, err := s.repo.db.QueryContext(ctx, query, len(cells[0]), pq.Array(cells))
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func scanReports(rows *sql.Rows) ([]model.ActivityReport, error) {
	defer rows.Close()

	result := []model.ActivityReport{}
	for rows.Next() {
		var r model.ActivityReport
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.Location.Lat,
			&r.Location.Lng,
			&r.Comment,
			&r.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PushAlertTask appends an encoded alert to the delivery queue.
func (s *Storage) PushAlertTask(ctx context.Context, payload []byte) error {
	if err := s.cache.cache.RPush(ctx, alertQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("push alert task: %w", err)
	}
	return nil
}

// BLPopAlertTask waits up to timeout for the next alert. An empty string with
// a nil error means the wait timed out.
func (s *Storage) BLPopAlertTask(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := s.cache.cache.BLPop(ctx, timeout, alertQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BLPOP replies with [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BLPOP reply length %d", len(res))
	}
	return res[1], nil
}

func (s *Storage) PublishReportsChanged(ctx context.Context) error {
	return s.cache.cache.Publish(ctx, reportsChangedChannel, "changed").Err()
}

// SubscribeReportsChanged delivers a signal for every report change until ctx
// is done.
func (s *Storage) SubscribeReportsChanged(ctx context.Context) (<-chan struct{}, error) {
	ps := s.cache.cache.Subscribe(ctx, reportsChangedChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to report changes: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() {
			if err := ps.Close(); err != nil {
				s.logger.WithError(err).Debug("close report subscription")
			}
		}()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				// coalesce bursts; one pending signal is enough to trigger a re-list
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (s *Storage) PingDB(ctx context.Context) error {
	return s.repo.db.PingContext(ctx)
}

func (s *Storage) PingRedis(ctx context.Context) error {
	return s.cache.cache.Ping(ctx).Err()
}

func (s *Storage) Close() error {
	var errPostgres, errRedis error

	if s.repo != nil && s.repo.db != nil {
		errPostgres = s.repo.db.Close()
	}
	if s.cache != nil && s.cache.cache != nil {
		errRedis = s.cache.cache.Close()
	}

	if errPostgres != nil || errRedis != nil {
		return fmt.Errorf("close errors: postgres=%v, redis=%v", errPostgres, errRedis)
	}
	return nil
}
