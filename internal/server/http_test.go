package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/hospital-locator/internal/backend"
	"github.com/stuartshay/hospital-locator/internal/calculator"
	"github.com/stuartshay/hospital-locator/internal/directory"
	"github.com/stuartshay/hospital-locator/internal/eventloop"
	"github.com/stuartshay/hospital-locator/internal/geolocate"
	"github.com/stuartshay/hospital-locator/internal/history"
	"github.com/stuartshay/hospital-locator/internal/mapview"
	"github.com/stuartshay/hospital-locator/internal/notify"
	"github.com/stuartshay/hospital-locator/internal/ui"
)

const settleTimeout = 3 * time.Second

var chennai = calculator.Coordinate{Latitude: 13.0827, Longitude: 80.2707, AccuracyMeters: 20}

const hospitalsJSON = `{"hospitals": [
	{"id": 11, "name": "Apollo Greams Road", "address": "21 Greams Lane", "city": "Chennai", "state": "Tamil Nadu",
	 "contact_phone": "044-2829 3333", "contact_email": "", "emergency_contact": "1066",
	 "latitude": "13.0632", "longitude": "80.2518", "distance": 2.9,
	 "blood_stock": {"B+": {"units": 18, "available": true}}, "blood_bank_available": true, "is_partner": true},
	{"id": 12, "name": "Government General Hospital", "address": "Park Town", "city": "Chennai", "state": "Tamil Nadu",
	 "contact_phone": "", "contact_email": "", "emergency_contact": "",
	 "latitude": "13.0818", "longitude": "80.2773", "distance": 0.7,
	 "blood_stock": {}, "blood_bank_available": true, "is_partner": true}
], "total_found": 2, "search_radius_km": 10, "last_updated": "2026-10-16T09:00:00Z"}`

// fakeBackend answers the hospital and notification endpoints.
func fakeBackend(t *testing.T) *backend.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+directory.NearbyHospitalsPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(hospitalsJSON))
	})
	mux.HandleFunc("POST "+notify.NotifyPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"job_id": 42, "status": "queued", "message": "queued", "estimated_delivery": "2-5 minutes"}`))
	})
	mux.HandleFunc("GET /api/notification-status/42/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 42, "status": "COMPLETED", "notification_type": "BOTH", "retry_count": 0,
			"error_message": "", "created_at": "2026-10-16T09:00:00Z", "updated_at": "2026-10-16T09:00:03Z",
			"completed_at": "2026-10-16T09:00:03Z"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := backend.NewClient(backend.Options{BaseURL: srv.URL, CSRFToken: "token"})
	require.NoError(t, err)
	return client
}

type fakeHistory struct {
	healthErr error
}

func (f *fakeHistory) RecentSearches(ctx context.Context, limit int) ([]history.SearchRecord, error) {
	return []history.SearchRecord{{ID: 1, RadiusKM: 10, HospitalsFound: 2}}, nil
}

func (f *fakeHistory) RecentNotifications(ctx context.Context, limit int) ([]history.NotificationRecord, error) {
	return nil, errors.New("relation does not exist")
}

func (f *fakeHistory) HealthCheck(ctx context.Context) error { return f.healthErr }

type testServer struct {
	handler http.Handler
	ctl     *ui.Controller
	loop    *eventloop.Loop
}

func setupTestServer(t *testing.T, hist HistoryReader) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := fakeBackend(t)
	loop := eventloop.New(eventloop.Options{})
	t.Cleanup(func() { _ = loop.Shutdown(time.Second) })

	surface := mapview.NewMemorySurface()
	view := ui.NewSnapshotView()
	ctl, err := ui.New(ui.Deps{
		Loop:      loop,
		Locator:   geolocate.NewLocator(geolocate.StaticProvider{Coordinate: chennai}, geolocate.DefaultOptions()),
		Directory: directory.New(client, []int{5, 10, 25, 50}),
		Notifier: notify.New(client, notify.Options{
			InitialDelay: time.Millisecond, Interval: time.Millisecond, MaxAttempts: 3,
		}),
		Map:             mapview.New(surface),
		View:            view,
		DefaultRadiusKM: 10,
	})
	require.NoError(t, err)
	t.Cleanup(ctl.Close)

	opts := Options{
		ServiceName: "hospital-locator",
		Controller:  ctl,
		Loop:        loop,
		View:        view,
		Surface:     surface,
	}
	if hist != nil {
		opts.History = hist
	}
	return &testServer{handler: NewHTTPServer(opts).Handler(), ctl: ctl, loop: loop}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	require.NoError(t, s.ctl.Settle(ctx))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type stateBody struct {
	Session struct {
		State    string `json:"state"`
		RadiusKM int    `json:"radius_km"`
		Job      *struct {
			Status string `json:"status"`
		} `json:"job"`
	} `json:"session"`
	Hospitals []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"hospitals"`
	View struct {
		Banner struct {
			Text string `json:"text"`
		} `json:"banner"`
	} `json:"view"`
}

func TestHealthz(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"hospital-locator"}`, rec.Body.String())
}

func TestHealthz_HistoryDown(t *testing.T) {
	s := setupTestServer(t, &fakeHistory{healthErr: errors.New("connection refused")})

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestState_Initial(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[stateBody](t, rec)
	assert.Equal(t, "idle", body.Session.State)
	assert.Equal(t, 10, body.Session.RadiusKM)
	assert.NotNil(t, body.Hospitals)
	assert.Empty(t, body.Hospitals)
}

func TestLocateFlow(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/actions/locate", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	taskID := decode[map[string]string](t, rec)["task_id"]
	require.NotEmpty(t, taskID)

	s.settle(t)

	rec = s.do(t, http.MethodGet, "/api/state", "")
	body := decode[stateBody](t, rec)
	assert.Equal(t, "hospitals_ready", body.Session.State)
	require.Len(t, body.Hospitals, 2)
	assert.Equal(t, "Apollo Greams Road", body.Hospitals[0].Name)
	assert.Equal(t, "Found 2 partner hospitals within 10 km.", body.View.Banner.Text)

	rec = s.do(t, http.MethodGet, "/api/tasks/"+taskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	task := decode[eventloop.Task](t, rec)
	assert.Equal(t, eventloop.StatusCompleted, task.Status)
	assert.Equal(t, "get-location", task.Name)

	rec = s.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "leaflet@1.9.4")
	assert.Contains(t, rec.Body.String(), "Government General Hospital")
}

func TestNotifyFlow(t *testing.T) {
	s := setupTestServer(t, nil)

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/actions/locate", "").Code)
	s.settle(t)

	rec := s.do(t, http.MethodPost, "/api/actions/notify", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.settle(t)

	body := decode[stateBody](t, s.do(t, http.MethodGet, "/api/state", ""))
	require.NotNil(t, body.Session.Job)
	assert.Equal(t, "COMPLETED", body.Session.Job.Status)
	assert.Equal(t, "Notifications sent successfully! Check your SMS and email.", body.View.Banner.Text)
}

func TestSetRadius(t *testing.T) {
	s := setupTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid radius", `{"radius_km": 25}`, http.StatusAccepted},
		{"radius not offered", `{"radius_km": 7}`, http.StatusBadRequest},
		{"missing radius", `{}`, http.StatusBadRequest},
		{"malformed body", `{"radius_km":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/actions/radius", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	s.settle(t)
	body := decode[stateBody](t, s.do(t, http.MethodGet, "/api/state", ""))
	assert.Equal(t, 25, body.Session.RadiusKM)
}

func TestSelectHospital_BadID(t *testing.T) {
	s := setupTestServer(t, nil)

	for _, id := range []string{"abc", "0", "-4"} {
		rec := s.do(t, http.MethodPost, "/api/actions/select/"+id, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "id %s", id)
	}
	assert.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/actions/select/11", "").Code)
}

func TestTasks(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/tasks/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/actions/style", "").Code)
	s.settle(t)

	rec = s.do(t, http.MethodGet, "/api/tasks?status=completed&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Tasks []eventloop.Task `json:"tasks"`
		Stats map[string]int   `json:"stats"`
	}](t, rec)
	require.NotEmpty(t, body.Tasks)
	assert.Equal(t, "cycle-map-style", body.Tasks[0].Name)
	assert.Positive(t, body.Stats["completed"])
}

func TestExport(t *testing.T) {
	s := setupTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/export.xlsx", "").Code)

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/actions/locate", "").Code)
	s.settle(t)

	rec := s.do(t, http.MethodGet, "/api/export.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "_10km.xlsx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	rec = s.do(t, http.MethodGet, "/api/export.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Apollo Greams Road")
}

func TestHistoryRoutes(t *testing.T) {
	without := setupTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, without.do(t, http.MethodGet, "/api/history/searches", "").Code)

	s := setupTestServer(t, &fakeHistory{})
	rec := s.do(t, http.MethodGet, "/api/history/searches?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hospitals_found":2`)

	rec = s.do(t, http.MethodGet, "/api/history/notifications", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, fmt.Sprintf(`{"error":%q}`, "relation does not exist"), rec.Body.String())
}
