package alerts

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what raised an alert.
type Type string

const (
	TypeTrackingStarted    Type = "tracking_started"
	TypeTrackingStopped    Type = "tracking_stopped"
	TypeTrackingError      Type = "tracking_error"
	TypeCalibrationStarted Type = "calibration_started"
	TypeEyeStrain          Type = "eye_strain"
	TypeMultipleFaces      Type = "multiple_faces"
	TypeNoFace             Type = "no_face"
	TypeFaceDetectionError Type = "face_detection_error"
	TypeMultipleScreens    Type = "multiple_screens"
	TypeScreenCheckError   Type = "screen_check_error"
)

// Severity mirrors the notification variants of the proctoring dashboard.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a proctoring notification
type Alert struct {
	ID          uuid.UUID      `json:"alert_id"`
	Type        Type           `json:"type"`
	Severity    Severity       `json:"severity"`
	SessionID   string         `json:"session_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Timestamp   time.Time      `json:"timestamp"`
	X           *float64       `json:"x,omitempty"`
	Y           *float64       `json:"y,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// New creates an alert stamped with a fresh ID and the current time.
func New(t Type, severity Severity, title, description string) Alert {
	return Alert{
		ID:          uuid.New(),
		Type:        t,
		Severity:    severity,
		Title:       title,
		Description: description,
		Timestamp:   time.Now(),
	}
}

// WithSession returns a copy tagged with a session ID
func (a Alert) WithSession(sessionID string) Alert {
	a.SessionID = sessionID
	return a
}

// WithPoint returns a copy carrying a screen coordinate
func (a Alert) WithPoint(x, y float64) Alert {
	a.X = &x
	a.Y = &y
	return a
}

// WithDetails returns a copy with the given details merged in.
func (a Alert) WithDetails(details map[string]any) Alert {
	merged := make(map[string]any, len(a.Details)+len(details))
	for k, v := range a.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	a.Details = merged
	return a
}
