package facedetect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/frames"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/metrics"
)

const maxStreamBackoff = 30 * time.Second

// Detector is the face detection backend.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) (*DetectionResult, error)
	Stream(ctx context.Context, fn func(*DetectionResult)) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, alert alerts.Alert)
}

type HealthReporter interface {
	Report(service string, err error)
}

// SessionSource names the tracking session alerts belong to.
type SessionSource interface {
	SessionID() string
}

// Snapshot is the watcher's latest verdict.
type Snapshot struct {
	Status             Status     `json:"status"`
	Message            string     `json:"message"`
	FaceCount          *int       `json:"face_count,omitempty"`
	Suspicious         bool       `json:"suspicious"`
	SuspiciousDuration *float64   `json:"suspicious_duration,omitempty"`
	Error              string     `json:"error,omitempty"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// Watcher samples frames, runs detection and raises alerts when the status
// changes. It keeps polling after errors.
type Watcher struct {
	detector   Detector
	source     frames.Source
	normalizer frames.Normalizer
	dispatcher Dispatcher
	sessions   SessionSource
	metrics    *metrics.Metrics
	health     HealthReporter

	mode     string
	interval time.Duration

	mu        sync.Mutex
	status    Status
	last      *DetectionResult
	lastErr   error
	updatedAt time.Time
}

// NewWatcher creates a watcher. sessions, m and health may be nil.
func NewWatcher(cfg config.FaceDetectionConfig, detector Detector, source frames.Source, dispatcher Dispatcher,
	sessions SessionSource, m *metrics.Metrics, health HealthReporter) *Watcher {
	return &Watcher{
		detector:   detector,
		source:     source,
		normalizer: frames.NewNormalizer(cfg),
		dispatcher: dispatcher,
		sessions:   sessions,
		metrics:    m,
		health:     health,
		mode:       cfg.Mode,
		interval:   cfg.Interval,
		status:     StatusIdle,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	log.Info().Str("mode", w.mode).Dur("interval", w.interval).Msg("Starting face detection watcher")

	if w.mode == "stream" {
		w.runStream(ctx)
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Face detection watcher stopped")
			return nil
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

func (w *Watcher) runStream(ctx context.Context) {
	backoff := w.interval
	for {
		err := w.detector.Stream(ctx, func(r *DetectionResult) {
			backoff = w.interval
			w.observe(ctx, r, nil)
		})
		if ctx.Err() != nil {
			log.Info().Msg("Face detection stream stopped")
			return
		}
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("Face detection stream failed")
			w.observe(ctx, nil, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxStreamBackoff)
	}
}

// Check runs one detection on a fresh frame and returns the new status.
func (w *Watcher) Check(ctx context.Context) Status {
	result, err := w.detect(ctx)
	if ctx.Err() != nil {
		return w.Snapshot().Status
	}
	return w.observe(ctx, result, err)
}

func (w *Watcher) detect(ctx context.Context) (*DetectionResult, error) {
	raw, err := w.source.Frame(ctx)
	if err != nil {
		return nil, err
	}
	frame, err := w.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return w.detector.Detect(ctx, frame)
}

func (w *Watcher) observe(ctx context.Context, result *DetectionResult, err error) Status {
	status := Classify(result, err)

	w.metrics.ObserveRequest(ServiceName, err)
	if w.health != nil {
		w.health.Report(ServiceName, err)
	}
	if result != nil && result.FaceCount >= 0 {
		w.metrics.SetFaces(result.FaceCount)
	}

	w.mu.Lock()
	prev := w.status
	w.status = status
	w.last = result
	w.lastErr = err
	w.updatedAt = time.Now()
	w.mu.Unlock()

	if status != prev {
		log.Info().
			Str("from", string(prev)).
			Str("to", string(status)).
			Msg("Face detection status changed")
		w.alert(ctx, status, result, err)
	}

	return status
}

func (w *Watcher) alert(ctx context.Context, status Status, result *DetectionResult, err error) {
	var a alerts.Alert
	switch status {
	case StatusWarning:
		a = alerts.New(alerts.TypeMultipleFaces, alerts.SeverityCritical,
			"Multiple Faces Detected", status.Message())
	case StatusNoFace:
		a = alerts.New(alerts.TypeNoFace, alerts.SeverityWarning,
			"No Face Detected", status.Message())
	case StatusError:
		a = alerts.New(alerts.TypeFaceDetectionError, alerts.SeverityWarning,
			"Face Detection Error", status.Message()).
			WithDetails(map[string]any{"error": err.Error()})
	default:
		return
	}

	if result != nil {
		details := map[string]any{
			"face_count": result.FaceCount,
			"suspicious": result.Suspicious,
		}
		if result.SuspiciousDuration != nil {
			details["suspicious_duration"] = *result.SuspiciousDuration
		}
		a = a.WithDetails(details)
	}
	if w.sessions != nil {
		a = a.WithSession(w.sessions.SessionID())
	}

	w.dispatcher.Dispatch(ctx, a)
}

// Snapshot returns the latest status.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := Snapshot{
		Status:  w.status,
		Message: w.status.Message(),
	}
	if w.last != nil {
		if w.last.FaceCount >= 0 {
			n := w.last.FaceCount
			snap.FaceCount = &n
		}
		snap.Suspicious = w.last.Suspicious
		snap.SuspiciousDuration = w.last.SuspiciousDuration
	}
	if w.lastErr != nil {
		snap.Error = w.lastErr.Error()
	}
	if !w.updatedAt.IsZero() {
		t := w.updatedAt
		snap.UpdatedAt = &t
	}
	return snap
}
