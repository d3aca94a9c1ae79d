package alerts

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogNotifier writes alerts to the global zerolog logger. It stands in for the
// dashboard's toast notifications.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	var ev *zerolog.Event
	switch alert.Severity {
	case SeverityCritical, SeverityWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}

	ev = ev.
		Str("alert_id", alert.ID.String()).
		Str("type", string(alert.Type)).
		Str("severity", string(alert.Severity)).
		Str("description", alert.Description)
	if alert.SessionID != "" {
		ev = ev.Str("session_id", alert.SessionID)
	}
	if alert.X != nil && alert.Y != nil {
		ev = ev.Float64("x", *alert.X).Float64("y", *alert.Y)
	}
	if len(alert.Details) > 0 {
		ev = ev.Interface("details", alert.Details)
	}

	ev.Msg(alert.Title)
	return nil
}
