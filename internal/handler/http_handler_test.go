package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/eyetracking"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/facedetect"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/httpc"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/screens"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/tracker"
)

type stubTracker struct {
	startErr    error
	stopErr     error
	calErr      error
	startDetail map[string]any
	snap        tracker.Snapshot
}

func (s *stubTracker) Start(_ context.Context, details map[string]any) (string, error) {
	s.startDetail = details
	if s.startErr != nil {
		return "", s.startErr
	}
	return "session-1", nil
}

func (s *stubTracker) Stop(context.Context) error             { return s.stopErr }
func (s *stubTracker) Calibrate(context.Context) error        { return s.calErr }
func (s *stubTracker) ResetCalibration(context.Context) error { return nil }
func (s *stubTracker) Snapshot() tracker.Snapshot             { return s.snap }

type stubSettings struct {
	current eyetracking.Settings
	updated *eyetracking.Settings
	err     error
}

func (s *stubSettings) Settings(context.Context) (eyetracking.Settings, error) {
	return s.current, s.err
}

func (s *stubSettings) UpdateSettings(_ context.Context, in eyetracking.Settings) (eyetracking.Response, error) {
	s.updated = &in
	return eyetracking.Response{"status": "ok"}, s.err
}

type stubFaces struct{}

func (stubFaces) Snapshot() facedetect.Snapshot {
	n := 1
	return facedetect.Snapshot{Status: facedetect.StatusGood, Message: facedetect.StatusGood.Message(), FaceCount: &n}
}

type stubScreens struct {
	refreshErr error
	refreshes  int
}

func (s *stubScreens) Snapshot() screens.Snapshot {
	n := 2
	w := "Please disconnect additional monitors before starting the interview"
	return screens.Snapshot{ScreenCount: &n, Warning: &w}
}

func (s *stubScreens) Refresh(context.Context) (*screens.ScreenResponse, error) {
	s.refreshes++
	return nil, s.refreshErr
}

type stubAlerts struct {
	recent []alerts.Alert
	limit  int
}

func (s *stubAlerts) Recent(limit int) []alerts.Alert {
	s.limit = limit
	return s.recent
}

func (s *stubAlerts) Total() int { return len(s.recent) }

type stubValidator struct {
	allow bool
}

func (v stubValidator) ValidateAPIKey(_ context.Context, key string) (string, error) {
	if key != "valid-key-123456" {
		return "", errors.New("invalid API key")
	}
	return "proctor-1", nil
}

func (v stubValidator) CheckRateLimit(context.Context, string) bool { return v.allow }

type fixture struct {
	tracker  *stubTracker
	settings *stubSettings
	screens  *stubScreens
	alerts   *stubAlerts
	router   http.Handler
}

func newFixture(validator KeyValidator) *fixture {
	f := &fixture{
		tracker:  &stubTracker{},
		settings: &stubSettings{current: eyetracking.Settings{Sensitivity: 0.5, Threshold: 30}},
		screens:  &stubScreens{},
		alerts:   &stubAlerts{},
	}
	h := NewHTTPHandler(f.tracker, f.settings, stubFaces{}, f.screens, f.alerts)
	f.router = NewRouter(h, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	}), validator)
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(nil)

	if rec := f.do("GET", "/health", ""); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}
	if rec := f.do("GET", "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

func TestStartTracking(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("POST", "/v1/tracking/start", "",
		"User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["session_id"] != "session-1" {
		t.Errorf("body = %v", body)
	}
	if f.tracker.startDetail["browser"] != "Chrome" {
		t.Errorf("client details = %v", f.tracker.startDetail)
	}
}

func TestTrackingConflicts(t *testing.T) {
	f := newFixture(nil)
	f.tracker.startErr = tracker.ErrAlreadyTracking
	f.tracker.stopErr = tracker.ErrNotTracking
	f.tracker.calErr = tracker.ErrNotTracking

	for _, path := range []string{"/v1/tracking/start", "/v1/tracking/stop", "/v1/tracking/calibrate"} {
		rec := f.do("POST", path, "")
		if rec.Code != http.StatusConflict {
			t.Errorf("%s status = %d, want 409", path, rec.Code)
		}
		if body := decode(t, rec); body["success"] != false || body["error"] == "" {
			t.Errorf("%s body = %v", path, body)
		}
	}
}

func TestBackendErrorIsBadGateway(t *testing.T) {
	f := newFixture(nil)
	f.tracker.startErr = &httpc.APIError{Service: "eyetracking", Endpoint: "/start", StatusCode: 500, Message: "camera not found"}

	rec := f.do("POST", "/v1/tracking/start", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if body := decode(t, rec); !strings.Contains(body["error"].(string), "camera not found") {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStopAndCalibration(t *testing.T) {
	f := newFixture(nil)

	for _, path := range []string{"/v1/tracking/stop", "/v1/tracking/calibrate", "/v1/tracking/calibration/reset"} {
		if rec := f.do("POST", path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("GET", "/v1/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	if body := decode(t, rec); body["sensitivity"] != 0.5 || body["threshold"] != float64(30) {
		t.Errorf("GET body = %v", body)
	}

	rec = f.do("POST", "/v1/settings", `{"sensitivity":0.8,"threshold":40}`, "Content-Type", "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d body = %s", rec.Code, rec.Body.String())
	}
	if f.settings.updated == nil || f.settings.updated.Sensitivity != 0.8 || f.settings.updated.Threshold != 40 {
		t.Errorf("updated = %+v", f.settings.updated)
	}

	if rec := f.do("POST", "/v1/settings", `{bad`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(nil)
	f.tracker.snap = tracker.Snapshot{Tracking: true, SessionID: "session-1"}

	rec := f.do("GET", "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	tracking := body["tracking"].(map[string]interface{})
	if tracking["tracking"] != true || tracking["session_id"] != "session-1" {
		t.Errorf("tracking = %v", tracking)
	}
	faces := body["faces"].(map[string]interface{})
	if faces["status"] != "good" {
		t.Errorf("faces = %v", faces)
	}
	scr := body["screens"].(map[string]interface{})
	if scr["screen_count"] != float64(2) {
		t.Errorf("screens = %v", scr)
	}
}

func TestDisabledMonitors(t *testing.T) {
	h := NewHTTPHandler(&stubTracker{}, &stubSettings{}, nil, nil, &stubAlerts{})
	router := NewRouter(h, nil, nil)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/v1/faces"},
		{"GET", "/v1/screens"},
		{"POST", "/v1/screens/refresh"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/status", nil))
	body := decode(t, rec)
	if body["faces"] != nil || body["screens"] != nil {
		t.Errorf("disabled monitors should be null: %v", body)
	}
}

func TestRefreshScreens(t *testing.T) {
	f := newFixture(nil)

	if rec := f.do("POST", "/v1/screens/refresh", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if f.screens.refreshes != 1 {
		t.Errorf("refreshes = %d", f.screens.refreshes)
	}

	f.screens.refreshErr = errors.New("connection refused")
	if rec := f.do("POST", "/v1/screens/refresh", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("failed refresh status = %d, want 502", rec.Code)
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(nil)
	f.alerts.recent = []alerts.Alert{alerts.New(alerts.TypeEyeStrain, alerts.SeverityCritical, "Eye Strain Warning", "")}

	rec := f.do("GET", "/v1/alerts?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.alerts.limit != 5 {
		t.Errorf("limit = %d", f.alerts.limit)
	}
	body := decode(t, rec)
	list := body["alerts"].([]interface{})
	if len(list) != 1 || body["total"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	if rec := f.do("GET", "/v1/alerts?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(stubValidator{allow: true})

	if rec := f.do("GET", "/v1/status", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d, want 401", rec.Code)
	}
	if rec := f.do("GET", "/v1/status", "", "X-API-Key", "valid-key-123456"); rec.Code != http.StatusOK {
		t.Errorf("valid key = %d, want 200", rec.Code)
	}
	if rec := f.do("GET", "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health should not need a key, got %d", rec.Code)
	}

	limited := newFixture(stubValidator{allow: false})
	if rec := limited.do("GET", "/v1/status", "", "X-API-Key", "valid-key-123456"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("rate limited = %d, want 429", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(nil)

	rec := f.do("OPTIONS", "/v1/tracking/start", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-API-Key") {
		t.Errorf("allow headers = %q", got)
	}
}
