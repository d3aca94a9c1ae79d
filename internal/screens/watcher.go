package screens

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/alerts"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/metrics"
)

type Counter interface {
	Count(ctx context.Context) (*ScreenResponse, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, alert alerts.Alert)
}

type HealthReporter interface {
	Report(service string, err error)
}

type SessionSource interface {
	SessionID() string
}

type state int

const (
	stateUnknown state = iota
	stateOK
	stateWarning
	stateError
)

type Snapshot struct {
	ScreenCount *int       `json:"screen_count"`
	Warning     *string    `json:"warning"`
	Error       string     `json:"error,omitempty"`
	CheckedAt   *time.Time `json:"checked_at,omitempty"`
}

// Watcher re-checks the screen count on an interval and on demand, alerting
// when the machine enters the multiple-screens or unreachable state.
type Watcher struct {
	counter    Counter
	dispatcher Dispatcher
	sessions   SessionSource
	metrics    *metrics.Metrics
	health     HealthReporter
	interval   time.Duration

	mu        sync.Mutex
	state     state
	last      *ScreenResponse
	lastErr   error
	checkedAt time.Time
}

// NewWatcher creates a watcher. sessions, m and health may be nil.
func NewWatcher(cfg config.ScreensConfig, counter Counter, dispatcher Dispatcher,
	sessions SessionSource, m *metrics.Metrics, health HealthReporter) *Watcher {
	return &Watcher{
		counter:    counter,
		dispatcher: dispatcher,
		sessions:   sessions,
		metrics:    m,
		health:     health,
		interval:   cfg.Interval,
	}
}

// Run checks once, then every interval until ctx is cancelled. With a zero
// interval it returns after the first check.
func (w *Watcher) Run(ctx context.Context) error {
	w.Refresh(ctx)
	if w.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Refresh(ctx)
		}
	}
}

// Refresh checks the screen count now.
func (w *Watcher) Refresh(ctx context.Context) (*ScreenResponse, error) {
	resp, err := w.counter.Count(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	w.metrics.ObserveRequest(ServiceName, err)
	if w.health != nil {
		w.health.Report(ServiceName, err)
	}

	next := stateOK
	switch {
	case err != nil:
		next = stateError
		log.Warn().Err(err).Msg("Failed to fetch screen status")
	case resp.HasWarning():
		next = stateWarning
	}
	if resp != nil {
		w.metrics.SetScreens(resp.ScreenCount)
	}

	w.mu.Lock()
	prev := w.state
	w.state = next
	w.lastErr = err
	if resp != nil {
		w.last = resp
	}
	w.checkedAt = time.Now()
	w.mu.Unlock()

	if next != prev {
		w.alert(ctx, next, resp, err)
	}

	return resp, err
}

func (w *Watcher) alert(ctx context.Context, s state, resp *ScreenResponse, err error) {
	var a alerts.Alert
	switch s {
	case stateWarning:
		a = alerts.New(alerts.TypeMultipleScreens, alerts.SeverityCritical,
			"Multiple Screens Detected", *resp.Warning).
			WithDetails(map[string]any{"screen_count": resp.ScreenCount})
	case stateError:
		a = alerts.New(alerts.TypeScreenCheckError, alerts.SeverityCritical,
			"Failed to fetch screen status.", "Could not reach the Screen Detector API.").
			WithDetails(map[string]any{"error": err.Error()})
	default:
		return
	}

	if w.sessions != nil {
		a = a.WithSession(w.sessions.SessionID())
	}
	w.dispatcher.Dispatch(ctx, a)
}

// Snapshot returns the last known count. A failed check keeps the previous
// count and records the error.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	var snap Snapshot
	if w.last != nil {
		n := w.last.ScreenCount
		snap.ScreenCount = &n
		snap.Warning = w.last.Warning
	}
	if w.lastErr != nil {
		snap.Error = w.lastErr.Error()
	}
	if !w.checkedAt.IsZero() {
		t := w.checkedAt
		snap.CheckedAt = &t
	}
	return snap
}
