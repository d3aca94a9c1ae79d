package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/enricher"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/eyetracking"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/facedetect"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/screens"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/tracker"
)

type Tracker interface {
	Start(ctx context.Context, details map[string]any) (string, error)
	Stop(ctx context.Context) error
	Calibrate(ctx context.Context) error
	ResetCalibration(ctx context.Context) error
	Snapshot() tracker.Snapshot
}

type SettingsClient interface {
	Settings(ctx context.Context) (eyetracking.Settings, error)
	UpdateSettings(ctx context.Context, s eyetracking.Settings) (eyetracking.Response, error)
}

type FaceStatus interface {
	Snapshot() facedetect.Snapshot
}

type ScreenStatus interface {
	Snapshot() screens.Snapshot
	Refresh(ctx context.Context) (*screens.ScreenResponse, error)
}

type AlertLog interface {
	Recent(limit int) []alerts.Alert
	Total() int
}

// HTTPHandler serves the agent's control API. faces and screens are nil
// when their monitors are disabled.
type HTTPHandler struct {
	tracker  Tracker
	settings SettingsClient
	faces    FaceStatus
	screens  ScreenStatus
	alerts   AlertLog
}

func NewHTTPHandler(t Tracker, s SettingsClient, f FaceStatus, sc ScreenStatus, a AlertLog) *HTTPHandler {
	return &HTTPHandler{
		tracker:  t,
		settings: s,
		faces:    f,
		screens:  sc,
		alerts:   a,
	}
}

type StatusResponse struct {
	Tracking    tracker.Snapshot     `json:"tracking"`
	Faces       *facedetect.Snapshot `json:"faces"`
	Screens     *screens.Snapshot    `json:"screens"`
	AlertsTotal int                  `json:"alerts_total"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (h *HTTPHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Tracking:    h.tracker.Snapshot(),
		AlertsTotal: h.alerts.Total(),
	}
	if h.faces != nil {
		snap := h.faces.Snapshot()
		resp.Faces = &snap
	}
	if h.screens != nil {
		snap := h.screens.Snapshot()
		resp.Screens = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HandleStartTracking(w http.ResponseWriter, r *http.Request) {
	client := enricher.FromRequest(r)

	sessionID, err := h.tracker.Start(r.Context(), client.Details())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
		"message":    "Eye movement tracking is now active",
	})
}

func (h *HTTPHandler) HandleStopTracking(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Eye movement tracking has been stopped",
	})
}

func (h *HTTPHandler) HandleCalibrate(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Calibrate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Please follow the on-screen instructions",
	})
}

func (h *HTTPHandler) HandleResetCalibration(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.ResetCalibration(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Calibration reset",
	})
}

func (h *HTTPHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *HTTPHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var s eyetracking.Settings
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON"})
		return
	}

	resp, err := h.settings.UpdateSettings(r.Context(), s)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"settings": s,
		"response": resp,
	})
}

func (h *HTTPHandler) HandleFaces(w http.ResponseWriter, r *http.Request) {
	if h.faces == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "face detection is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.faces.Snapshot())
}

func (h *HTTPHandler) HandleScreens(w http.ResponseWriter, r *http.Request) {
	if h.screens == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "screen check is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, h.screens.Snapshot())
}

func (h *HTTPHandler) HandleRefreshScreens(w http.ResponseWriter, r *http.Request) {
	if h.screens == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "screen check is disabled"})
		return
	}
	if _, err := h.screens.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.screens.Snapshot())
}

func (h *HTTPHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": h.alerts.Recent(limit),
		"total":  h.alerts.Total(),
	})
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// writeError maps tracker state errors to 409 and everything else, which
// comes from a backend, to 502.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, tracker.ErrAlreadyTracking) || errors.Is(err, tracker.ErrNotTracking) {
		status = http.StatusConflict
	} else {
		log.Error().Err(err).Msg("Backend request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
