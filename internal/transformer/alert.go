package transformer

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/storage"
)

var ErrMissingType = errors.New("transformer: alert has no type")

// TransformAlert converts an alert message from Kafka into an alerts table row.
func TransformAlert(raw map[string]interface{}) (*storage.AlertRow, error) {
	row := &storage.AlertRow{
		Type:        getString(raw, "type"),
		Severity:    getString(raw, "severity"),
		SessionID:   getString(raw, "session_id"),
		Title:       getString(raw, "title"),
		Description: getString(raw, "description"),
		X:           getFloat64Ptr(raw, "x"),
		Y:           getFloat64Ptr(raw, "y"),
	}
	if row.Type == "" {
		return nil, ErrMissingType
	}
	if row.Severity == "" {
		row.Severity = "info"
	}

	// Replace a malformed alert_id rather than drop the alert
	if v, ok := raw["alert_id"].(string); ok {
		if _, err := uuid.Parse(v); err == nil {
			row.AlertID = v
		}
	}
	if row.AlertID == "" {
		row.AlertID = uuid.New().String()
	}

	row.PublishedAt = getTime(raw, "published_at", time.Now())
	row.Timestamp = getTime(raw, "timestamp", row.PublishedAt)

	row.Details = "{}"
	if details, ok := raw["details"].(map[string]interface{}); ok && len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			row.Details = string(b)
		}
	}

	return row, nil
}

// getInt reads a JSON number from m as an int64.
func getInt(m map[string]interface{}, key string) (int64, bool) {
	if v, ok := m[key].(float64); ok {
		return int64(v), true
	}
	return 0, false
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64Ptr(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func getTime(m map[string]interface{}, key string, fallback time.Time) time.Time {
	if ms, ok := getInt(m, key); ok && ms > 0 {
		return time.UnixMilli(ms)
	}
	return fallback
}
