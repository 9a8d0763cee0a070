package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"guardian-angel/internal/geo"
)

type RedisConfig struct {
	Addr        string
	User        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type AppConfig struct {
	HTTPAddr                string
	WebhookURL              string
	ProximityThresholdM     float64
	TrackingDurationSeconds int
	FallbackLat             float64
	FallbackLng             float64
	RoutingURL              string
	GeocodingURL            string
	ProviderTimeout         time.Duration
	ZonesSeedFile           string
	ReportsGeohashPrecision uint
	Log                     LogConfig
}

// Load reads a .env file into the environment when one is present.
func Load(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logrus.Debug("no .env file loaded, relying on environment")
	}
}

func GetDBURL() string {
	dbURL := os.Getenv("DATABASE_URL")
	return dbURL
}

func GetRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        os.Getenv("REDIS_ADDR"),
		User:        os.Getenv("REDIS_USER"),
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          getInt("REDIS_DB", 0),
		MaxRetries:  getInt("REDIS_MAX_RETRIES", 3),
		DialTimeout: getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		Timeout:     getDuration("REDIS_TIMEOUT", 3*time.Second),
	}
}

func GetAppConfig() AppConfig {
	return AppConfig{
		HTTPAddr:                getString("HTTP_ADDR", ":8080"),
		WebhookURL:              os.Getenv("WEBHOOK_URL"),
		ProximityThresholdM:     getFloat("PROXIMITY_THRESHOLD_METERS", 500),
		TrackingDurationSeconds: getInt("TRACKING_DURATION_SECONDS", 1800),
		FallbackLat:             getFloat("FALLBACK_LAT", 17.6868),
		FallbackLng:             getFloat("FALLBACK_LNG", 83.2185),
		RoutingURL:              getString("ROUTING_URL", "https://router.project-osrm.org"),
		GeocodingURL:            getString("GEOCODING_URL", "https://nominatim.openstreetmap.org"),
		ProviderTimeout:         getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ZonesSeedFile:           os.Getenv("ZONES_SEED_FILE"),
		ReportsGeohashPrecision: getGeohashPrecision("REPORTS_GEOHASH_PRECISION", 6),
		Log: LogConfig{
			Level:      getString("LOG_LEVEL", "info"),
			Format:     getString("LOG_FORMAT", "text"),
			FilePath:   os.Getenv("LOG_FILE_PATH"),
			MaxSizeMB:  getInt("LOG_MAX_SIZE", 10),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 7),
			MaxAgeDays: getInt("LOG_MAX_AGE", 7),
			Compress:   getBool("LOG_COMPRESS", true),
		},
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("invalid integer for %s, using default %d", key, def)
		return def
	}
	return n
}

// getGeohashPrecision accepts 1..geo.StoredGeohashPrecision.
func getGeohashPrecision(key string, def uint) uint {
	n := getInt(key, int(def))
	if n < 1 || n > int(geo.StoredGeohashPrecision) {
		logrus.Warnf("%s must be between 1 and %d, using default %d", key, geo.StoredGeohashPrecision, def)
		return def
	}
	return uint(n)
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("invalid number for %s, using default %v", key, def)
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.Warnf("invalid boolean for %s, using default %v", key, def)
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("invalid duration for %s, using default %s", key, def)
		return def
	}
	return d
}
