package detector

import "gocv.io/x/gocv"

// MockDetector is a deterministic, scriptable Detector used by tests
// that exercise the Frame Processor, Tracker, and Photo Policy without
// a real model file. Each call to Detect returns (and then advances
// past) the next scripted result.
type MockDetector struct {
	Script []MockResult
	calls  int
}

// MockResult is one scripted response for MockDetector.Detect.
type MockResult struct {
	Detections []Detection
	Err        error
}

// NewMockDetector creates a detector that replays script in order,
// repeating the final entry once the script is exhausted.
func NewMockDetector(script ...MockResult) *MockDetector {
	return &MockDetector{Script: script}
}

// Detect returns the next scripted result.
func (m *MockDetector) Detect(_ gocv.Mat) ([]Detection, error) {
	if len(m.Script) == 0 {
		return nil, nil
	}
	idx := m.calls
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	m.calls++
	result := m.Script[idx]
	return result.Detections, result.Err
}

// SupportedClasses returns the fixed target classes.
func (m *MockDetector) SupportedClasses() []string {
	return TargetClasses
}

// Metrics reports a fixed identity with no timing data.
func (m *MockDetector) Metrics() Metrics {
	return Metrics{Name: "mock", TotalInferences: uint64(m.calls)}
}

// WarmUp is a no-op for the mock.
func (m *MockDetector) WarmUp() error { return nil }

// Close is a no-op for the mock.
func (m *MockDetector) Close() error { return nil }
