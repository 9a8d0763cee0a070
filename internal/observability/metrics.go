package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service's Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	AlertsTotal      *prometheus.CounterVec
	RouteEvaluations *prometheus.CounterVec
	RouteFallbacks   prometheus.Counter
	ActiveTracking   prometheus.Gauge
	ZonesLoaded      prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
	HTTPDurations    *prometheus.HistogramVec
}

// NewCollector registers metrics against reg, defaulting to the global
// registry when nil. Registering twice returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	alerts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_alerts_total",
		Help: "Alerts produced, labeled by kind.",
	}, []string{"kind"}), "guardian_alerts_total")
	if err != nil {
		return nil, err
	}

	evaluations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_route_evaluations_total",
		Help: "Route plans evaluated, labeled by whether the selected route crosses a zone.",
	}, []string{"risky"}), "guardian_route_evaluations_total")
	if err != nil {
		return nil, err
	}

	fallbacks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guardian_route_fallbacks_total",
		Help: "Route plans answered with a straight-line fallback.",
	}), "guardian_route_fallbacks_total")
	if err != nil {
		return nil, err
	}

	tracking, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_tracking_sessions_active",
		Help: "Location sharing sessions currently active.",
	}), "guardian_tracking_sessions_active")
	if err != nil {
		return nil, err
	}

	zones, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_zones_loaded",
		Help: "Risk zones in the active snapshot.",
	}), "guardian_zones_loaded")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_http_requests_total",
		Help: "HTTP requests, labeled by method and status code.",
	}, []string{"method", "code"}), "guardian_http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardian_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"}), "guardian_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		AlertsTotal:      alerts,
		RouteEvaluations: evaluations,
		RouteFallbacks:   fallbacks,
		ActiveTracking:   tracking,
		ZonesLoaded:      zones,
		HTTPRequests:     requests,
		HTTPDurations:    durations,
	}, nil
}

// Alert counts one alert of the given kind. Safe on a nil collector.
func (c *Collector) Alert(kind string) {
	if c == nil {
		return
	}
	c.AlertsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) RouteEvaluated(risky, fallback bool) {
	if c == nil {
		return
	}
	c.RouteEvaluations.WithLabelValues(strconv.FormatBool(risky)).Inc()
	if fallback {
		c.RouteFallbacks.Inc()
	}
}

func (c *Collector) SetActiveTracking(n int) {
	if c == nil {
		return
	}
	c.ActiveTracking.Set(float64(n))
}

func (c *Collector) SetZonesLoaded(n int) {
	if c == nil {
		return
	}
	c.ZonesLoaded.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers keep working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latencies.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if c == nil {
			return
		}
		c.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		c.HTTPDurations.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
