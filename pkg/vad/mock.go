package vad

import (
	"sync"
	"time"
)

// MockDetector is a mock implementation of Detector for testing.
// It allows customizing the behavior of ProcessFrame through the
// ProcessFunc field.
type MockDetector struct {
	// ProcessFunc is called when ProcessFrame is invoked.
	// If nil, a silence result is returned.
	ProcessFunc func(rms float64, now time.Time) Result

	// ProcessCalls records the RMS level of every ProcessFrame call.
	ProcessCalls []float64

	// ResetCalled tracks if Reset was called.
	ResetCalled bool

	state State
	mu    sync.Mutex
}

// NewMockDetector creates a new MockDetector with default behavior.
func NewMockDetector() *MockDetector {
	return &MockDetector{
		ProcessCalls: make([]float64, 0),
	}
}

// NewMockDetectorWithResults creates a MockDetector that returns results in
// sequence. After all results are returned, it repeats the last one.
func NewMockDetectorWithResults(results []Result) *MockDetector {
	idx := 0
	return &MockDetector{
		ProcessFunc: func(rms float64, now time.Time) Result {
			if len(results) == 0 {
				return Result{State: StateSilence}
			}
			r := results[idx]
			if idx < len(results)-1 {
				idx++
			}
			return r
		},
		ProcessCalls: make([]float64, 0),
	}
}

// ProcessFrame implements Detector.
func (m *MockDetector) ProcessFrame(rms float64, now time.Time) Result {
	m.mu.Lock()
	m.ProcessCalls = append(m.ProcessCalls, rms)
	m.mu.Unlock()

	if m.ProcessFunc != nil {
		r := m.ProcessFunc(rms, now)
		m.mu.Lock()
		m.state = r.State
		m.mu.Unlock()
		return r
	}
	return Result{State: StateSilence}
}

// State implements Detector.
func (m *MockDetector) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reset implements Detector.
func (m *MockDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResetCalled = true
	m.state = StateSilence
}

// Ensure MockDetector implements Detector at compile time.
var _ Detector = (*MockDetector)(nil)
