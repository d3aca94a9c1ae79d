package alerts

import (
	"encoding/json"
	"time"
)

// Message returns the alert in the shape published to Kafka and Redis.
// Timestamps are Unix milliseconds.
func (a Alert) Message() map[string]interface{} {
	msg := map[string]interface{}{
		"alert_id":     a.ID.String(),
		"type":         string(a.Type),
		"severity":     string(a.Severity),
		"session_id":   a.SessionID,
		"title":        a.Title,
		"description":  a.Description,
		"timestamp":    a.Timestamp.UnixMilli(),
		"published_at": time.Now().UnixMilli(),
	}

	if a.X != nil {
		msg["x"] = *a.X
	}
	if a.Y != nil {
		msg["y"] = *a.Y
	}
	if len(a.Details) > 0 {
		msg["details"] = a.Details
	}

	return msg
}

// Encode marshals the alert message to JSON.
func Encode(a Alert) ([]byte, error) {
	return json.Marshal(a.Message())
}
