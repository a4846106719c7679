package vad

import "time"

// Detector defines the interface for voice activity detection.
// This interface allows for mock implementations in testing.
type Detector interface {
	// ProcessFrame consumes one frame's RMS level and returns the
	// resulting state transition.
	ProcessFrame(rms float64, now time.Time) Result

	// State returns the current detector state.
	State() State

	// Reset forces the detector back to Silence and clears all timers.
	Reset()
}
