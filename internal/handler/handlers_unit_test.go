package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-angel/internal/apperr"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/model"
	"guardian-angel/internal/provider"
	"guardian-angel/internal/service"
)

type fakeSafetyService struct {
	healthErr *service.HealthError
	err       error

	zones         []model.RiskZone
	createdZone   *model.RiskZone
	deletedZone   string
	locationReq   model.LocationRequest
	routeReq      model.RouteRequest
	contactUser   string
	reports       []model.ActivityReport
	nearPoint     geo.Coordinate
	nearRadius    float64
	trackingUser  string
	trackingSecs  int
	sosLocation   geo.Coordinate
	reportUpdates chan []model.ActivityReport
}

func (f *fakeSafetyService) HealthCheck(ctx context.Context) *service.HealthError {
	return f.healthErr
}

func (f *fakeSafetyService) ListZones() []model.RiskZone { return f.zones }

func (f *fakeSafetyService) CreateZone(ctx context.Context, z model.RiskZone) (model.RiskZone, error) {
	if f.err != nil {
		return model.RiskZone{}, f.err
	}
	f.createdZone = &z
	return z, nil
}

func (f *fakeSafetyService) DeleteZone(ctx context.Context, id string) error {
	f.deletedZone = id
	return f.err
}

func (f *fakeSafetyService) CheckLocation(ctx context.Context, req model.LocationRequest) (model.LocationResponse, error) {
	f.locationReq = req
	if f.err != nil {
		return model.LocationResponse{}, f.err
	}
	return model.LocationResponse{LocationRequest: req, ZoneIDs: []string{"zone2"}}, nil
}

func (f *fakeSafetyService) ResetMonitoring(userID string) error {
	if userID == "" {
		return apperr.InvalidArgument("user id is required")
	}
	return nil
}

func (f *fakeSafetyService) Monitor(ctx context.Context, userID string, src provider.PositionSource, onUpdate func(model.LocationResponse)) error {
	updates, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	for pos := range updates {
		onUpdate(model.LocationResponse{LocationRequest: model.LocationRequest{UserID: userID, Latitude: pos.Lat, Longitude: pos.Lng}})
	}
	return nil
}

func (f *fakeSafetyService) PlanRoute(ctx context.Context, req model.RouteRequest) (model.RouteResponse, error) {
	f.routeReq = req
	if f.err != nil {
		return model.RouteResponse{}, f.err
	}
	return model.RouteResponse{SaferIndex: 1, Ranking: []int{1, 0}}, nil
}

func (f *fakeSafetyService) AddContact(ctx context.Context, userID string, c model.Contact) (model.Contact, error) {
	f.contactUser = userID
	c.ID = "c1"
	c.UserID = userID
	return c, f.err
}

func (f *fakeSafetyService) ListContacts(ctx context.Context, userID string) ([]model.Contact, error) {
	f.contactUser = userID
	return []model.Contact{{ID: "c1", UserID: userID, Name: "Asha", Phone: "+91"}}, f.err
}

func (f *fakeSafetyService) DeleteContact(ctx context.Context, userID, id string) error {
	f.contactUser = userID
	return f.err
}

func (f *fakeSafetyService) AddReport(ctx context.Context, userID string, r model.ActivityReport) (model.ActivityReport, error) {
	r.ID = "r1"
	r.UserID = userID
	return r, f.err
}

func (f *fakeSafetyService) ListReports(ctx context.Context) ([]model.ActivityReport, error) {
	return f.reports, f.err
}

func (f *fakeSafetyService) ReportsNear(ctx context.Context, point geo.Coordinate, radiusM float64) ([]model.ActivityReport, error) {
	f.nearPoint = point
	f.nearRadius = radiusM
	return f.reports, f.err
}

func (f *fakeSafetyService) SubscribeReports(ctx context.Context) (<-chan []model.ActivityReport, error) {
	return f.reportUpdates, f.err
}

func (f *fakeSafetyService) StartTracking(ctx context.Context, userID string, durationSeconds int) (model.TrackingStatus, error) {
	f.trackingUser = userID
	f.trackingSecs = durationSeconds
	return model.TrackingStatus{UserID: userID, Active: true, RemainingSeconds: 1800}, f.err
}

func (f *fakeSafetyService) StopTracking(ctx context.Context, userID string) (model.TrackingStatus, error) {
	if f.err != nil {
		return model.TrackingStatus{}, f.err
	}
	return model.TrackingStatus{UserID: userID}, nil
}

func (f *fakeSafetyService) TrackingStatus(userID string) (model.TrackingStatus, error) {
	return model.TrackingStatus{UserID: userID, Active: true, RemainingSeconds: 42}, f.err
}

func (f *fakeSafetyService) TriggerSOS(ctx context.Context, userID string, location geo.Coordinate) error {
	f.sosLocation = location
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func serve(h *Handler, req *http.Request) *http.Response {
	mux := http.NewServeMux()
	h.Register(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w.Result()
}

func TestHealthHandler_OK(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system/health", nil)
	w := httptest.NewRecorder()

	h.HealthHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		DB     string `json:"db"`
		Redis  string `json:"redis"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if body.Status != "ok" || body.DB != "ok" || body.Redis != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthHandler_Degraded(t *testing.T) {
	svc := &fakeSafetyService{
		healthErr: &service.HealthError{
			DBError:    errors.New("db error"),
			RedisError: nil,
		},
	}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system/health", nil)
	w := httptest.NewRecorder()

	h.HealthHandler(w, req)

	res := w.Result()
	defer res.Body.Close()

	var body struct {
		Status string `json:"status"`
		DB     string `json:"db"`
		Redis  string `json:"redis"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if body.Status != "degraded" {
		t.Fatalf("expected status degraded, got %s", body.Status)
	}
	if body.DB != "error" || body.Redis != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestZonesHandler_CreateZone(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	body := `{"id":"z9","location":{"lat":17.7,"lng":83.3},"weight":60,"radius_m":250}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/zones", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, res.StatusCode)
	}
	if svc.createdZone == nil || svc.createdZone.ID != "z9" || svc.createdZone.RadiusM != 250 {
		t.Fatalf("zone was not passed correctly to service: %+v", svc.createdZone)
	}
}

func TestZonesHandler_InvalidJSON(t *testing.T) {
	h := NewHandler(quietLogger(), &fakeSafetyService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/zones", strings.NewReader("{"))
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, res.StatusCode)
	}
}

func TestZonesHandler_ListZones(t *testing.T) {
	svc := &fakeSafetyService{zones: []model.RiskZone{{ID: "zone1"}, {ID: "zone2"}}}
	h := NewHandler(quietLogger(), svc)

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/zones", nil))
	defer res.Body.Close()

	var body struct {
		Items []model.RiskZone `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Items) != 2 || body.Items[1].ID != "zone2" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
}

func TestZoneByIDHandler_Delete(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "Deleted", wantStatus: http.StatusNoContent},
		{name: "Missing", err: apperr.NotFound("zone %q", "zone7"), wantStatus: http.StatusNotFound},
		{name: "StoreDown", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeSafetyService{err: tc.err}
			h := NewHandler(quietLogger(), svc)

			res := serve(h, httptest.NewRequest(http.MethodDelete, "/api/v1/zones/zone7", nil))
			defer res.Body.Close()

			if res.StatusCode != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, res.StatusCode)
			}
			if svc.deletedZone != "zone7" {
				t.Fatalf("expected zone7 to be deleted, got %q", svc.deletedZone)
			}
		})
	}
}

func TestLocationHandler_UsesHeaderUser(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	body := `{"user_id":"spoofed","latitude":17.72,"longitude":83.31}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/location/check", strings.NewReader(body))
	req.Header.Set(UserHeader, "u1")

	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}
	if svc.locationReq.UserID != "u1" || svc.locationReq.Latitude != 17.72 {
		t.Fatalf("unexpected request passed to service: %+v", svc.locationReq)
	}

	var resp model.LocationResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.ZoneIDs) != 1 || resp.ZoneIDs[0] != "zone2" {
		t.Fatalf("unexpected zone ids: %v", resp.ZoneIDs)
	}
}

func TestLocationHandler_InvalidCoordinates(t *testing.T) {
	svc := &fakeSafetyService{err: apperr.InvalidArgument("latitude 120 out of range")}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/location/check", strings.NewReader(`{"latitude":120,"longitude":0}`))
	req.Header.Set(UserHeader, "u1")
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, res.StatusCode)
	}
}

func TestLocationHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(quietLogger(), &fakeSafetyService{})

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/location/check", nil))
	defer res.Body.Close()

	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, res.StatusCode)
	}
}

func TestLocationResetHandler(t *testing.T) {
	h := NewHandler(quietLogger(), &fakeSafetyService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/location/reset", nil)
	res := serve(h, req)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d without user, got %d", http.StatusBadRequest, res.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/location/reset", nil)
	req.Header.Set(UserHeader, "u1")
	res = serve(h, req)
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, res.StatusCode)
	}
}

func TestLocationStreamHandler(t *testing.T) {
	h := NewHandler(quietLogger(), &fakeSafetyService{})

	body := "{\"latitude\":17.1,\"longitude\":83.1}\n{\"latitude\":17.2,\"longitude\":83.2}\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/location/stream", strings.NewReader(body))
	req.Header.Set(UserHeader, "u1")

	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}

	var got []model.LocationResponse
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		var resp model.LocationResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("bad stream line %q: %v", scanner.Text(), err)
		}
		got = append(got, resp)
	}

	if len(got) != 2 || got[0].Latitude != 17.1 || got[1].Longitude != 83.2 || got[1].UserID != "u1" {
		t.Fatalf("unexpected stream: %+v", got)
	}
}

func TestRoutePlanHandler(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	body := `{"origin":{"lat":17.70,"lng":83.30},"address":"RK Beach"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/plan", strings.NewReader(body))
	req.Header.Set(UserHeader, "u1")

	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}
	if svc.routeReq.Address != "RK Beach" || svc.routeReq.UserID != "u1" {
		t.Fatalf("unexpected request passed to service: %+v", svc.routeReq)
	}

	var resp model.RouteResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.SaferIndex != 1 {
		t.Fatalf("expected safer index 1, got %d", resp.SaferIndex)
	}
}

func TestRoutePlanHandler_UnknownAddress(t *testing.T) {
	svc := &fakeSafetyService{err: apperr.NotFound("address %q", "Atlantis")}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/routes/plan", strings.NewReader(`{"origin":{"lat":1,"lng":1},"address":"Atlantis"}`))
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, res.StatusCode)
	}
}

func TestContactsHandler(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", strings.NewReader(`{"name":"Asha","phone":"+91"}`))
	req.Header.Set(UserHeader, "u1")
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, res.StatusCode)
	}
	var created model.Contact
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if created.UserID != "u1" || created.ID != "c1" {
		t.Fatalf("unexpected contact: %+v", created)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/contacts/c1", nil)
	req.Header.Set(UserHeader, "u1")
	res2 := serve(h, req)
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, res2.StatusCode)
	}
}

func TestReportsNearHandler(t *testing.T) {
	svc := &fakeSafetyService{reports: []model.ActivityReport{{ID: "r1", Comment: "dark alley"}}}
	h := NewHandler(quietLogger(), svc)

	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/near?lat=17.7&lng=83.3&radius=250", nil))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}
	if svc.nearPoint.Lat != 17.7 || svc.nearRadius != 250 {
		t.Fatalf("unexpected query passed to service: %+v radius=%v", svc.nearPoint, svc.nearRadius)
	}

	res2 := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/near?lat=17.7&lng=83.3", nil))
	defer res2.Body.Close()
	if svc.nearRadius != defaultNearRadiusM {
		t.Fatalf("expected default radius, got %v", svc.nearRadius)
	}

	res3 := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/near?lat=north", nil))
	defer res3.Body.Close()
	if res3.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, res3.StatusCode)
	}
}

func TestReportsStreamHandler(t *testing.T) {
	updates := make(chan []model.ActivityReport, 2)
	updates <- []model.ActivityReport{}
	updates <- []model.ActivityReport{{ID: "r1", Comment: "broken streetlight", Timestamp: time.Unix(0, 0).UTC()}}
	close(updates)

	h := NewHandler(quietLogger(), &fakeSafetyService{reportUpdates: updates})
	res := serve(h, httptest.NewRequest(http.MethodGet, "/api/v1/reports/stream", nil))
	defer res.Body.Close()

	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	events := strings.Count(string(data), "event: reports\n")
	if events != 2 || !strings.Contains(string(data), "broken streetlight") {
		t.Fatalf("unexpected stream body: %s", data)
	}
}

func TestTrackingHandler(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tracking", strings.NewReader(`{"duration_seconds":600}`))
	req.Header.Set(UserHeader, "u1")
	res := serve(h, req)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, res.StatusCode)
	}
	if svc.trackingUser != "u1" || svc.trackingSecs != 600 {
		t.Fatalf("unexpected start: user=%q secs=%d", svc.trackingUser, svc.trackingSecs)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tracking", nil)
	req.Header.Set(UserHeader, "u1")
	res2 := serve(h, req)
	defer res2.Body.Close()
	if svc.trackingSecs != 0 {
		t.Fatalf("empty body should use default duration, got %d", svc.trackingSecs)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tracking", nil)
	req.Header.Set(UserHeader, "u1")
	res3 := serve(h, req)
	defer res3.Body.Close()
	var status model.TrackingStatus
	if err := json.NewDecoder(res3.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !status.Active || status.RemainingSeconds != 42 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestTrackingHandler_StopWithoutSession(t *testing.T) {
	svc := &fakeSafetyService{err: apperr.NotFound("no active tracking session")}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/tracking", nil)
	req.Header.Set(UserHeader, "u1")
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, res.StatusCode)
	}
}

func TestSOSHandler(t *testing.T) {
	svc := &fakeSafetyService{}
	h := NewHandler(quietLogger(), svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sos", strings.NewReader(`{"lat":17.72,"lng":83.31}`))
	req.Header.Set(UserHeader, "u1")
	res := serve(h, req)
	defer res.Body.Close()

	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, res.StatusCode)
	}
	if svc.sosLocation.Lat != 17.72 || svc.sosLocation.Lng != 83.31 {
		t.Fatalf("unexpected SOS location: %+v", svc.sosLocation)
	}
}
