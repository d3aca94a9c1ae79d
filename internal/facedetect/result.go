package facedetect

import "encoding/json"

// Status is the proctoring verdict for one detection.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusGood    Status = "good"
	StatusWarning Status = "warning"
	StatusNoFace  Status = "noFace"
	StatusError   Status = "error"
)

// Message is the human-readable status line shown to the proctor.
func (s Status) Message() string {
	switch s {
	case StatusGood:
		return "Only one face detected"
	case StatusWarning:
		return "Multiple faces detected! Warning!"
	case StatusNoFace:
		return "No face detected"
	case StatusError:
		return "Error: Could not process frame."
	default:
		return "Loading camera..."
	}
}

type Face struct {
	Box        []int   `json:"box"`
	Confidence float64 `json:"confidence"`
	Type       string  `json:"type"`
}

// DetectionResult is one response from the detector. FaceCount is -1 when
// the backend reported neither a count nor a face list.
type DetectionResult struct {
	FaceCount          int      `json:"face_count"`
	Suspicious         bool     `json:"suspicious"`
	SuspiciousDuration *float64 `json:"suspicious_duration,omitempty"`
	Faces              []Face   `json:"faces,omitempty"`
	AnnotatedImage     string   `json:"-"`
	Timestamp          string   `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts both detector response shapes: the current one
// (face_count, suspicious) and the older one (num_faces, multiple_people,
// cheating_duration).
func (r *DetectionResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		FaceCount          *int     `json:"face_count"`
		NumFaces           *int     `json:"num_faces"`
		Suspicious         *bool    `json:"suspicious"`
		MultiplePeople     *bool    `json:"multiple_people"`
		CheatingDetected   *bool    `json:"cheating_detected"`
		SuspiciousDuration *float64 `json:"suspicious_duration"`
		CheatingDuration   *float64 `json:"cheating_duration"`
		Faces              []Face   `json:"faces"`
		AnnotatedImage     string   `json:"annotated_image_base64"`
		AnnotatedFrame     string   `json:"annotated_frame"`
		Timestamp          string   `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = DetectionResult{
		FaceCount:      -1,
		Faces:          raw.Faces,
		AnnotatedImage: raw.AnnotatedImage,
		Timestamp:      raw.Timestamp,
	}

	switch {
	case raw.FaceCount != nil:
		r.FaceCount = *raw.FaceCount
	case raw.NumFaces != nil:
		r.FaceCount = *raw.NumFaces
	case raw.Faces != nil:
		r.FaceCount = len(raw.Faces)
	}

	for _, b := range []*bool{raw.Suspicious, raw.MultiplePeople, raw.CheatingDetected} {
		if b != nil && *b {
			r.Suspicious = true
		}
	}

	r.SuspiciousDuration = raw.SuspiciousDuration
	if r.SuspiciousDuration == nil {
		r.SuspiciousDuration = raw.CheatingDuration
	}
	if r.AnnotatedImage == "" {
		r.AnnotatedImage = raw.AnnotatedFrame
	}

	return nil
}

// Classify maps a detection outcome to a status. Any error wins; otherwise
// exactly one face is good, several is a warning and none is noFace.
func Classify(result *DetectionResult, err error) Status {
	if err != nil {
		return StatusError
	}
	if result == nil {
		return StatusIdle
	}

	switch {
	case result.FaceCount == 1:
		return StatusGood
	case result.FaceCount > 1:
		return StatusWarning
	case result.FaceCount == 0:
		return StatusNoFace
	default:
		return StatusIdle
	}
}
