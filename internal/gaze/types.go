package gaze

import (
	"errors"
	"math"
)

// ErrInvalidSample is returned for samples with non-finite coordinates or a
// timestamp earlier than the previously accepted sample. The sample is
// dropped and the monitor state is left untouched.
var ErrInvalidSample = errors.New("gaze: invalid sample")

// Sample is one gaze observation. Timestamp is in monotonic milliseconds.
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// DistanceTo returns the Euclidean distance between two samples.
func (s Sample) DistanceTo(o Sample) float64 {
	dx := s.X - o.X
	dy := s.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// FixationState is the monitor's view of the current fixation episode.
type FixationState struct {
	// LastSample is the anchor of the current episode, nil when none is set.
	LastSample *Sample
	// WarningActive is set once the episode has produced a warning.
	WarningActive bool
}

// FixationWarning is emitted once per sustained fixation episode.
type FixationWarning struct {
	Anchor     Sample
	Sample     Sample
	DurationMs int64
	Distance   float64
}
