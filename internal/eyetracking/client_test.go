package eyetracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/httpc"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.EyeTrackingConfig{BaseURL: srv.URL + "/api/"})
}

func TestClient_Endpoints(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		call   func(c *Client) error
	}{
		{"start", http.MethodPost, "/api/start", func(c *Client) error { _, err := c.StartTracking(context.Background()); return err }},
		{"stop", http.MethodPost, "/api/stop", func(c *Client) error { _, err := c.StopTracking(context.Background()); return err }},
		{"status", http.MethodGet, "/api/status", func(c *Client) error { _, err := c.Status(context.Background()); return err }},
		{"calibrate", http.MethodPost, "/api/start_calibration", func(c *Client) error { _, err := c.StartCalibration(context.Background()); return err }},
		{"reset calibration", http.MethodPost, "/api/reset_calibration", func(c *Client) error { _, err := c.ResetCalibration(context.Background()); return err }},
		{"shutdown", http.MethodPost, "/api/shutdown", func(c *Client) error { _, err := c.Shutdown(context.Background()); return err }},
		{"docs", http.MethodGet, "/api", func(c *Client) error { _, err := c.Docs(context.Background()); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotPath string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				gotMethod, gotPath = r.Method, r.URL.Path
				w.Write([]byte(`{"message":"ok"}`))
			})

			if err := tt.call(c); err != nil {
				t.Fatalf("call: %v", err)
			}
			if gotMethod != tt.method || gotPath != tt.path {
				t.Errorf("request = %s %s, want %s %s", gotMethod, gotPath, tt.method, tt.path)
			}
		})
	}
}

func TestClient_RawData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"x": 412.5, "y": 300, "blink": false}`))
	})

	g, err := c.RawData(context.Background())
	if err != nil {
		t.Fatalf("RawData: %v", err)
	}
	if !g.HasGaze() || *g.X != 412.5 || *g.Y != 300 {
		t.Errorf("gaze = %+v", g)
	}
	if len(g.Raw) == 0 {
		t.Error("Raw should hold the original document")
	}
}

func TestClient_RawDataWithoutGaze(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "no face"}`))
	})

	g, err := c.RawData(context.Background())
	if err != nil {
		t.Fatalf("RawData: %v", err)
	}
	if g.HasGaze() {
		t.Error("HasGaze should be false when x/y are missing")
	}
}

func TestClient_Settings(t *testing.T) {
	var posted Settings
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			json.NewDecoder(r.Body).Decode(&posted)
			w.Write([]byte(`{"message":"updated"}`))
			return
		}
		w.Write([]byte(`{"sensitivity": 0.5, "threshold": 40}`))
	})

	s, err := c.Settings(context.Background())
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.Sensitivity != 0.5 || s.Threshold != 40 {
		t.Errorf("settings = %+v", s)
	}

	resp, err := c.UpdateSettings(context.Background(), Settings{Sensitivity: 0.8, Threshold: 50})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if posted.Sensitivity != 0.8 || posted.Threshold != 50 {
		t.Errorf("posted = %+v", posted)
	}
	if resp["message"] != "updated" {
		t.Errorf("response = %v", resp)
	}
}

func TestClient_Frame(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xd9}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpeg)
	})

	got, err := c.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if string(got) != string(jpeg) {
		t.Errorf("frame = %v", got)
	}
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"already tracking"}`))
	})

	_, err := c.StartTracking(context.Background())
	var apiErr *httpc.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *httpc.APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "already tracking" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_EmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	resp, err := c.StopTracking(context.Background())
	if err != nil {
		t.Fatalf("StopTracking: %v", err)
	}
	if resp == nil {
		t.Error("expected empty, non-nil response")
	}
}
