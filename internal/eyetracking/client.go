// Package eyetracking is a client for the eye-tracking backend's REST API.
package eyetracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/httpc"
)

const serviceName = "eyetracking"

// maxFrameBytes caps a single /frame download.
const maxFrameBytes = 8 << 20

// Response is an untyped JSON document returned by the backend.
type Response map[string]any

// RawGaze is the latest gaze estimate from /raw_data. X and Y are nil when the
// backend has no estimate (no face, not calibrated).
type RawGaze struct {
	X   *float64        `json:"x"`
	Y   *float64        `json:"y"`
	Raw json.RawMessage `json:"-"`
}

// HasGaze reports whether both coordinates are present.
func (g RawGaze) HasGaze() bool {
	return g.X != nil && g.Y != nil
}

// Settings are the tunables exposed by /settings.
type Settings struct {
	Sensitivity float64 `json:"sensitivity"`
	Threshold   float64 `json:"threshold"`
}

// Client talks to the eye-tracking backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the configured base URL.
func NewClient(cfg config.EyeTrackingConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpc.NewClient(cfg.Timeout),
	}
}

// StartTracking starts gaze tracking on the backend.
func (c *Client) StartTracking(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodPost, "/start", nil)
}

// StopTracking stops gaze tracking on the backend.
func (c *Client) StopTracking(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodPost, "/stop", nil)
}

// Status returns the backend's tracking status document.
func (c *Client) Status(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodGet, "/status", nil)
}

// RawData returns the latest gaze estimate.
func (c *Client) RawData(ctx context.Context) (RawGaze, error) {
	body, err := c.do(ctx, http.MethodGet, "/raw_data", nil)
	if err != nil {
		return RawGaze{}, err
	}

	var g RawGaze
	if err := json.Unmarshal(body, &g); err != nil {
		return RawGaze{}, fmt.Errorf("eyetracking: decode raw_data: %w", err)
	}
	g.Raw = body
	return g, nil
}

// Frame returns the backend's current annotated camera frame as JPEG bytes.
func (c *Client) Frame(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/frame", nil)
}

// StartCalibration begins the backend's calibration routine.
func (c *Client) StartCalibration(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodPost, "/start_calibration", nil)
}

// ResetCalibration discards the backend's calibration.
func (c *Client) ResetCalibration(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodPost, "/reset_calibration", nil)
}

// Settings fetches the current settings.
func (c *Client) Settings(ctx context.Context) (Settings, error) {
	body, err := c.do(ctx, http.MethodGet, "/settings", nil)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := json.Unmarshal(body, &s); err != nil {
		return Settings{}, fmt.Errorf("eyetracking: decode settings: %w", err)
	}
	return s, nil
}

// UpdateSettings replaces the backend settings.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (Response, error) {
	return c.doJSON(ctx, http.MethodPost, "/settings", s)
}

// Shutdown asks the backend process to exit.
func (c *Client) Shutdown(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodPost, "/shutdown", nil)
}

// Docs returns the backend's API index.
func (c *Client) Docs(ctx context.Context) (Response, error) {
	return c.doJSON(ctx, http.MethodGet, "", nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (Response, error) {
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Response{}, nil
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("eyetracking: decode %s: %w", path, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("eyetracking: marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("eyetracking: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eyetracking: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := httpc.CheckResponse(resp, serviceName, path); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, fmt.Errorf("eyetracking: read %s: %w", path, err)
	}
	return body, nil
}
