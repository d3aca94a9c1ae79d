package gaze

import (
	"fmt"
	"math"

	"github.com/thesanjai/Online-Exam-Proctoring-System/internal/config"
)

// Default thresholds used when the config leaves them unset.
const (
	DefaultMovementThreshold = 50.0
	DefaultFixationLimitMs   = 5000
)

// FixationMonitor raises an eye-strain warning when the gaze stays within
// movementThreshold of one anchor for longer than fixationLimitMs.
//
// A monitor has a single writer: Update and Reset must not be called
// concurrently. It holds no locks.
type FixationMonitor struct {
	movementThreshold float64
	fixationLimitMs   int64

	state FixationState

	// lastTimestamp is the timestamp of the last accepted sample, used to
	// reject out-of-order delivery. hasLast guards the zero value.
	lastTimestamp int64
	hasLast       bool
}

// NewFixationMonitor creates a monitor from the fixation config.
func NewFixationMonitor(cfg config.FixationConfig) *FixationMonitor {
	m := &FixationMonitor{
		movementThreshold: cfg.MovementThreshold,
		fixationLimitMs:   cfg.LimitMs,
	}
	if m.movementThreshold <= 0 {
		m.movementThreshold = DefaultMovementThreshold
	}
	if m.fixationLimitMs <= 0 {
		m.fixationLimitMs = DefaultFixationLimitMs
	}
	return m
}

// Update feeds one sample and returns a warning when the current episode
// first exceeds the fixation limit. Samples within the movement threshold
// never move the anchor, so the duration grows from the episode start.
func (m *FixationMonitor) Update(sample Sample) (*FixationWarning, error) {
	if err := m.validate(sample); err != nil {
		return nil, err
	}
	m.lastTimestamp = sample.Timestamp
	m.hasLast = true

	anchor := m.state.LastSample
	if anchor == nil {
		m.setAnchor(sample)
		return nil, nil
	}

	distance := sample.DistanceTo(*anchor)

	// Exactly at the threshold counts as movement
	if distance >= m.movementThreshold {
		m.setAnchor(sample)
		return nil, nil
	}

	duration := sample.Timestamp - anchor.Timestamp
	if duration <= m.fixationLimitMs || m.state.WarningActive {
		return nil, nil
	}

	m.state.WarningActive = true
	return &FixationWarning{
		Anchor:     *anchor,
		Sample:     sample,
		DurationMs: duration,
		Distance:   distance,
	}, nil
}

// Reset discards the current episode. The next sample becomes a fresh anchor.
func (m *FixationMonitor) Reset() {
	m.state = FixationState{}
	m.lastTimestamp = 0
	m.hasLast = false
}

// State returns a copy of the current fixation state.
func (m *FixationMonitor) State() FixationState {
	st := m.state
	if st.LastSample != nil {
		anchor := *st.LastSample
		st.LastSample = &anchor
	}
	return st
}

func (m *FixationMonitor) setAnchor(sample Sample) {
	m.state.LastSample = &sample
	m.state.WarningActive = false
}

func (m *FixationMonitor) validate(sample Sample) error {
	if !finite(sample.X) || !finite(sample.Y) {
		return fmt.Errorf("%w: non-finite coordinates (%v, %v)", ErrInvalidSample, sample.X, sample.Y)
	}
	if m.hasLast && sample.Timestamp < m.lastTimestamp {
		return fmt.Errorf("%w: timestamp %d before %d", ErrInvalidSample, sample.Timestamp, m.lastTimestamp)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
