package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/provider"
	"guardian-angel/internal/service"
)

// UserHeader carries the caller's user id, set by the upstream gateway.
const UserHeader = "X-User-ID"

const defaultNearRadiusM = 1000

type SafetyService interface {
	HealthCheck(ctx context.Context) *service.HealthError

	ListZones() []model.RiskZone
	CreateZone(ctx context.Context, z model.RiskZone) (model.RiskZone, error)
	DeleteZone(ctx context.Context, id string) error

	CheckLocation(ctx context.Context, req model.LocationRequest) (model.LocationResponse, error)
	ResetMonitoring(userID string) error
	Monitor(ctx context.Context, userID string, src provider.PositionSource, onUpdate func(model.LocationResponse)) error

	PlanRoute(ctx context.Context, req model.RouteRequest) (model.RouteResponse, error)

	AddContact(ctx context.Context, userID string, c model.Contact) (model.Contact, error)
	ListContacts(ctx context.Context, userID string) ([]model.Contact, error)
	DeleteContact(ctx context.Context, userID, id string) error

	AddReport(ctx context.Context, userID string, r model.ActivityReport) (model.ActivityReport, error)
	ListReports(ctx context.Context) ([]model.ActivityReport, error)
	ReportsNear(ctx context.Context, point geo.Coordinate, radiusM float64) ([]model.ActivityReport, error)
	SubscribeReports(ctx context.Context) (<-chan []model.ActivityReport, error)

	StartTracking(ctx context.Context, userID string, durationSeconds int) (model.TrackingStatus, error)
	StopTracking(ctx context.Context, userID string) (model.TrackingStatus, error)
	TrackingStatus(userID string) (model.TrackingStatus, error)
	TriggerSOS(ctx context.Context, userID string, location geo.Coordinate) error
}

type Handler struct {
	logger  *logrus.Logger
	service SafetyService
}

func NewHandler(logger *logrus.Logger, svc SafetyService) *Handler {
	return &Handler{
		logger:  logger,
		service: svc,
	}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/system/health", h.HealthHandler)
	mux.HandleFunc("/api/v1/zones", h.ZonesHandler)
	mux.HandleFunc("/api/v1/zones/", h.ZoneByIDHandler)
	mux.HandleFunc("/api/v1/location/check", h.LocationHandler)
	mux.HandleFunc("/api/v1/location/reset", h.LocationResetHandler)
	mux.HandleFunc("/api/v1/location/stream", h.LocationStreamHandler)
	mux.HandleFunc("/api/v1/routes/plan", h.RoutePlanHandler)
	mux.HandleFunc("/api/v1/contacts", h.ContactsHandler)
	mux.HandleFunc("/api/v1/contacts/", h.ContactByIDHandler)
	mux.HandleFunc("/api/v1/reports", h.ReportsHandler)
	mux.HandleFunc("/api/v1/reports/near", h.ReportsNearHandler)
	mux.HandleFunc("/api/v1/reports/stream", h.ReportsStreamHandler)
	mux.HandleFunc("/api/v1/tracking", h.TrackingHandler)
	mux.HandleFunc("/api/v1/sos", h.SOSHandler)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	body := map[string]string{
		"status": "ok",
		"db":     "ok",
		"redis":  "ok",
	}
	if herr := h.service.HealthCheck(r.Context()); herr != nil {
		h.logger.WithError(herr).Warn("health check degraded")
		body["status"] = "degraded"
		if herr.DBError != nil {
			body["db"] = "error"
		}
		if herr.RedisError != nil {
			body["redis"] = "error"
		}
	}
	h.writeJSON(w, http.StatusOK, body)
}

func (h *Handler) ZonesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, map[string]any{"items": h.service.ListZones()})
	case http.MethodPost:
		var zone model.RiskZone
		if !h.decode(w, r, &zone) {
			return
		}
		created, err := h.service.CreateZone(r.Context(), zone)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) ZoneByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/zones/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := h.service.DeleteZone(r.Context(), id); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) LocationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req model.LocationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if u := r.Header.Get(UserHeader); u != "" {
		req.UserID = u
	}

	resp, err := h.service.CheckLocation(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) LocationResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := h.service.ResetMonitoring(r.Header.Get(UserHeader)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LocationStreamHandler reads newline-delimited position updates from the
// request body and answers each with a newline-delimited LocationResponse
// while the request is open.
func (h *Handler) LocationStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		h.writeError(w, apperr.InvalidArgument("%s header is required", UserHeader))
		return
	}

	// body is read while responses are written
	_ = http.NewResponseController(w).EnableFullDuplex()

	ctx := r.Context()
	src := provider.NewChannelSource(16)
	go func() {
		defer src.Close()
		dec := json.NewDecoder(r.Body)
		for {
			var update model.LocationRequest
			if err := dec.Decode(&update); err != nil {
				if !errors.Is(err, io.EOF) {
					h.logger.WithError(err).WithField("user_id", userID).Info("location stream ended on bad input")
				}
				return
			}
			if err := src.Push(ctx, geo.Coordinate{Lat: update.Latitude, Lng: update.Longitude}); err != nil {
				return
			}
		}
	}()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	err := h.service.Monitor(ctx, userID, src, func(resp model.LocationResponse) {
		if err := enc.Encode(resp); err != nil {
			h.logger.WithError(err).Debug("write location update")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WithError(err).WithField("user_id", userID).Warn("location stream failed")
	}
}

func (h *Handler) RoutePlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req model.RouteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if u := r.Header.Get(UserHeader); u != "" {
		req.UserID = u
	}

	resp, err := h.service.PlanRoute(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ContactsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)

	switch r.Method {
	case http.MethodGet:
		contacts, err := h.service.ListContacts(r.Context(), userID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"items": contacts})
	case http.MethodPost:
		var contact model.Contact
		if !h.decode(w, r, &contact) {
			return
		}
		created, err := h.service.AddContact(r.Context(), userID, contact)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) ContactByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := h.service.DeleteContact(r.Context(), r.Header.Get(UserHeader), id); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) ReportsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		reports, err := h.service.ListReports(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"items": reports})
	case http.MethodPost:
		var report model.ActivityReport
		if !h.decode(w, r, &report) {
			return
		}
		created, err := h.service.AddReport(r.Context(), r.Header.Get(UserHeader), report)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, created)
	default:
		methodNotAllowed(w)
	}
}

// ReportsNearHandler serves GET /api/v1/reports/near?lat=..&lng=..&radius=..
// (radius in meters, default 1000).
func (h *Handler) ReportsNearHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		h.writeError(w, apperr.InvalidArgument("lat and lng query parameters are required"))
		return
	}
	radius := float64(defaultNearRadiusM)
	if v := q.Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, apperr.InvalidArgument("radius %q is not a number", v))
			return
		}
		radius = parsed
	}

	reports, err := h.service.ReportsNear(r.Context(), geo.Coordinate{Lat: lat, Lng: lng}, radius)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": reports})
}

// ReportsStreamHandler pushes the full report list as Server-Sent Events,
// once on connect and again after every change.
func (h *Handler) ReportsStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, err := h.service.SubscribeReports(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for reports := range updates {
		data, err := json.Marshal(reports)
		if err != nil {
			h.logger.WithError(err).Error("marshal reports for stream")
			continue
		}
		if _, err := fmt.Fprintf(w, "event: reports\ndata: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

type startTrackingRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

func (h *Handler) TrackingHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)

	var (
		status model.TrackingStatus
		err    error
	)
	switch r.Method {
	case http.MethodGet:
		status, err = h.service.TrackingStatus(userID)
	case http.MethodPost:
		var req startTrackingRequest
		if r.ContentLength != 0 {
			if !h.decode(w, r, &req) {
				return
			}
		}
		status, err = h.service.StartTracking(r.Context(), userID, req.DurationSeconds)
	case http.MethodDelete:
		status, err = h.service.StopTracking(r.Context(), userID)
	default:
		methodNotAllowed(w)
		return
	}

	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) SOSHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var loc geo.Coordinate
	if !h.decode(w, r, &loc) {
		return
	}
	if err := h.service.TriggerSOS(r.Context(), r.Header.Get(UserHeader), loc); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WithError(err).WithField("path", r.URL.Path).Info("Invalid request body")
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Warn("failed to write response")
	}
}

// writeError maps error kinds to status codes. Unclassified errors are logged
// and reported as 500 without detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
