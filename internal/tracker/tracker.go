// Package tracker runs an eye-tracking session: it drives the backend's
// start/stop/calibration endpoints and polls gaze samples into the fixation
// monitor while tracking is active.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/eyetracking"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/gaze"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/metrics"
)

// ServiceName labels eye-tracking backend calls in metrics and health.
const ServiceName = "eyetracking"

var (
	ErrAlreadyTracking = errors.New("tracker: tracking already active")
	ErrNotTracking     = errors.New("tracker: tracking not active")
)

// EyeTracker is the subset of the eye-tracking backend the tracker drives.
type EyeTracker interface {
	StartTracking(ctx context.Context) (eyetracking.Response, error)
	StopTracking(ctx context.Context) (eyetracking.Response, error)
	Status(ctx context.Context) (eyetracking.Response, error)
	RawData(ctx context.Context) (eyetracking.RawGaze, error)
	StartCalibration(ctx context.Context) (eyetracking.Response, error)
	ResetCalibration(ctx context.Context) (eyetracking.Response, error)
}

// Dispatcher receives the alerts raised by the tracker.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert alerts.Alert)
}

// HealthReporter is told the outcome of every backend call.
type HealthReporter interface {
	Report(service string, err error)
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateTracking
	stateStopping
)

// Snapshot is a point-in-time view of the tracking session.
type Snapshot struct {
	Tracking       bool                 `json:"tracking"`
	Initializing   bool                 `json:"initializing"`
	SessionID      string               `json:"session_id,omitempty"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	Status         eyetracking.Response `json:"status,omitempty"`
	StatusAt       *time.Time           `json:"status_at,omitempty"`
	LastGaze       *gaze.Sample         `json:"last_gaze,omitempty"`
	Samples        int                  `json:"samples"`
	InvalidSamples int                  `json:"invalid_samples"`
	Warnings       int                  `json:"warnings"`
}

// Tracker owns the fixation monitor for the lifetime of the agent. The
// monitor is only touched by the polling goroutine, and reset while that
// goroutine is not running.
type Tracker struct {
	client     EyeTracker
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	health     HealthReporter
	monitor    *gaze.FixationMonitor

	rawInterval    time.Duration
	statusInterval time.Duration
	now            func() time.Time

	mu             sync.Mutex
	state          state
	sessionID      string
	startedAt      time.Time
	lastStatus     eyetracking.Response
	statusAt       time.Time
	lastGaze       *gaze.Sample
	samples        int
	invalidSamples int
	warnings       int
	cancel         context.CancelFunc
	done           chan struct{}
}

// New creates a tracker. m and health may be nil.
func New(cfg *config.Config, client EyeTracker, dispatcher Dispatcher, m *metrics.Metrics, health HealthReporter) *Tracker {
	return &Tracker{
		client:         client,
		dispatcher:     dispatcher,
		metrics:        m,
		health:         health,
		monitor:        gaze.NewFixationMonitor(cfg.Fixation),
		rawInterval:    cfg.EyeTracking.RawDataInterval,
		statusInterval: cfg.EyeTracking.StatusInterval,
		now:            time.Now,
	}
}

// Start begins a tracking session. details are attached to the session's
// tracking_started alert (e.g. the requesting client).
func (t *Tracker) Start(ctx context.Context, details map[string]any) (string, error) {
	t.mu.Lock()
	if t.state != stateIdle {
		t.mu.Unlock()
		return "", ErrAlreadyTracking
	}
	t.state = stateStarting
	t.mu.Unlock()

	_, err := t.client.StartTracking(ctx)
	t.observe(err)
	if err != nil {
		t.mu.Lock()
		t.state = stateIdle
		t.mu.Unlock()

		log.Error().Err(err).Msg("Failed to start tracking")
		t.dispatcher.Dispatch(ctx, alerts.New(alerts.TypeTrackingError, alerts.SeverityCritical,
			"Error", "Failed to start tracking. Please try again.").
			WithDetails(map[string]any{"error": err.Error(), "action": "start"}))
		return "", err
	}

	sessionID := uuid.New().String()
	startedAt := t.now()

	// The polling goroutine is not running yet, so the monitor is ours
	t.monitor.Reset()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	t.mu.Lock()
	t.state = stateTracking
	t.sessionID = sessionID
	t.startedAt = startedAt
	t.lastStatus = nil
	t.statusAt = time.Time{}
	t.lastGaze = nil
	t.samples, t.invalidSamples, t.warnings = 0, 0, 0
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.metrics.SetTracking(true)
	log.Info().Str("session_id", sessionID).Msg("Tracking started")

	t.dispatcher.Dispatch(ctx, alerts.New(alerts.TypeTrackingStarted, alerts.SeverityInfo,
		"Tracking Started", "Eye movement tracking is now active").
		WithSession(sessionID).
		WithDetails(details))

	go t.run(loopCtx, sessionID, startedAt, done)

	return sessionID, nil
}

// Stop ends the active session and resets the fixation monitor.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.state != stateTracking {
		t.mu.Unlock()
		return ErrNotTracking
	}
	t.state = stateStopping
	sessionID := t.sessionID
	t.mu.Unlock()

	_, err := t.client.StopTracking(ctx)
	t.observe(err)
	if err != nil {
		t.mu.Lock()
		t.state = stateTracking
		t.mu.Unlock()

		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to stop tracking")
		t.dispatcher.Dispatch(ctx, alerts.New(alerts.TypeTrackingError, alerts.SeverityCritical,
			"Error", "Failed to stop tracking. Please try again.").
			WithSession(sessionID).
			WithDetails(map[string]any{"error": err.Error(), "action": "stop"}))
		return err
	}

	t.stopLoop()
	return nil
}

// Close ends any active session on shutdown. The backend is asked to stop
// but a failure there does not keep the loop running.
func (t *Tracker) Close(ctx context.Context) {
	t.mu.Lock()
	active := t.state == stateTracking
	if active {
		t.state = stateStopping
	}
	t.mu.Unlock()
	if !active {
		return
	}

	if _, err := t.client.StopTracking(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop backend tracking on shutdown")
	}
	t.stopLoop()
}

func (t *Tracker) stopLoop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	sessionID := t.sessionID
	summary := map[string]any{
		"samples":         t.samples,
		"invalid_samples": t.invalidSamples,
		"warnings":        t.warnings,
		"duration_ms":     t.now().Sub(t.startedAt).Milliseconds(),
	}
	t.mu.Unlock()

	cancel()
	<-done

	// Loop has exited; no stale fixation survives into the next session
	t.monitor.Reset()

	t.mu.Lock()
	t.state = stateIdle
	t.sessionID = ""
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	t.metrics.SetTracking(false)
	log.Info().Str("session_id", sessionID).Msg("Tracking stopped")

	t.dispatcher.Dispatch(context.Background(), alerts.New(alerts.TypeTrackingStopped, alerts.SeverityInfo,
		"Tracking Stopped", "Eye movement tracking has been stopped").
		WithSession(sessionID).
		WithDetails(summary))
}

// Calibrate starts backend calibration. Only allowed while tracking.
func (t *Tracker) Calibrate(ctx context.Context) error {
	t.mu.Lock()
	tracking := t.state == stateTracking
	sessionID := t.sessionID
	t.mu.Unlock()
	if !tracking {
		return ErrNotTracking
	}

	_, err := t.client.StartCalibration(ctx)
	t.observe(err)
	if err != nil {
		t.dispatcher.Dispatch(ctx, alerts.New(alerts.TypeTrackingError, alerts.SeverityCritical,
			"Error", "Failed to start calibration").
			WithSession(sessionID).
			WithDetails(map[string]any{"error": err.Error(), "action": "calibrate"}))
		return err
	}

	t.dispatcher.Dispatch(ctx, alerts.New(alerts.TypeCalibrationStarted, alerts.SeverityInfo,
		"Calibration Started", "Please follow the on-screen instructions").
		WithSession(sessionID))
	return nil
}

// ResetCalibration discards the backend calibration.
func (t *Tracker) ResetCalibration(ctx context.Context) error {
	_, err := t.client.ResetCalibration(ctx)
	t.observe(err)
	return err
}

// SessionID returns the active session ID, or "" when idle.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateTracking && t.state != stateStopping {
		return ""
	}
	return t.sessionID
}

// Snapshot returns the current session view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Tracking:       t.state == stateTracking || t.state == stateStopping,
		Initializing:   t.state == stateStarting,
		Samples:        t.samples,
		InvalidSamples: t.invalidSamples,
		Warnings:       t.warnings,
	}
	if snap.Tracking {
		snap.SessionID = t.sessionID
		startedAt := t.startedAt
		snap.StartedAt = &startedAt
		snap.Status = t.lastStatus
		if !t.statusAt.IsZero() {
			statusAt := t.statusAt
			snap.StatusAt = &statusAt
		}
		if t.lastGaze != nil {
			g := *t.lastGaze
			snap.LastGaze = &g
		}
	}
	return snap
}

func (t *Tracker) run(ctx context.Context, sessionID string, startedAt time.Time, done chan struct{}) {
	defer close(done)

	rawTicker := time.NewTicker(t.rawInterval)
	defer rawTicker.Stop()
	statusTicker := time.NewTicker(t.statusInterval)
	defer statusTicker.Stop()

	t.pollStatus(ctx)
	t.pollGaze(ctx, sessionID, startedAt)

	for {
		select {
		case <-ctx.Done():
			return
		case <-rawTicker.C:
			t.pollGaze(ctx, sessionID, startedAt)
		case <-statusTicker.C:
			t.pollStatus(ctx)
		}
	}
}

func (t *Tracker) pollStatus(ctx context.Context) {
	status, err := t.client.Status(ctx)
	if ctx.Err() != nil {
		return
	}
	t.observe(err)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch tracking status")
		return
	}

	t.mu.Lock()
	t.lastStatus = status
	t.statusAt = t.now()
	t.mu.Unlock()
}

// pollGaze fetches one gaze estimate and feeds it to the monitor.
func (t *Tracker) pollGaze(ctx context.Context, sessionID string, startedAt time.Time) {
	raw, err := t.client.RawData(ctx)
	if ctx.Err() != nil {
		return
	}
	t.observe(err)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch raw gaze data")
		return
	}
	if !raw.HasGaze() {
		log.Debug().Msg("No gaze estimate in raw data")
		return
	}

	sample := gaze.Sample{
		X:         *raw.X,
		Y:         *raw.Y,
		Timestamp: t.now().Sub(startedAt).Milliseconds(),
	}
	t.ingest(ctx, sessionID, sample)
}

func (t *Tracker) ingest(ctx context.Context, sessionID string, sample gaze.Sample) {
	warning, err := t.monitor.Update(sample)
	t.metrics.ObserveSample(err == nil)

	t.mu.Lock()
	t.samples++
	if err != nil {
		t.invalidSamples++
	} else {
		t.lastGaze = &sample
	}
	if warning != nil {
		t.warnings++
	}
	t.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Msg("Dropped gaze sample")
		return
	}
	if warning == nil {
		return
	}

	t.metrics.ObserveFixationWarning()
	t.dispatcher.Dispatch(ctx, alerts.New(alerts.TypeEyeStrain, alerts.SeverityCritical,
		"Eye Strain Warning",
		"You've been looking at the same spot for too long. Consider looking away briefly.").
		WithSession(sessionID).
		WithPoint(warning.Anchor.X, warning.Anchor.Y).
		WithDetails(map[string]any{
			"duration_ms": warning.DurationMs,
			"distance":    warning.Distance,
			"gaze_x":      warning.Sample.X,
			"gaze_y":      warning.Sample.Y,
		}))
}

func (t *Tracker) observe(err error) {
	t.metrics.ObserveRequest(ServiceName, err)
	if t.health != nil {
		t.health.Report(ServiceName, err)
	}
}
