package perfmon

import (
	"testing"
	"time"
)

func TestMonitor_ResetZeroesAverageAndFPS(t *testing.T) {
	m := New(1.0, nil)

	timer := m.StartTimer()
	time.Sleep(time.Millisecond)
	m.EndTimer(timer)

	if m.AverageProcessingTimeMS() <= 0 {
		t.Fatal("expected nonzero average after processing a frame")
	}

	m.Reset()

	if m.AverageProcessingTimeMS() != 0 {
		t.Error("expected average processing time 0 after Reset")
	}
	if m.CurrentFPS() != 0 {
		t.Error("expected current FPS 0 after Reset")
	}
}

func TestMonitor_AverageAndFPSPositiveAfterProcessing(t *testing.T) {
	m := New(1.0, nil)

	timer1 := m.StartTimer()
	m.EndTimer(timer1)
	time.Sleep(5 * time.Millisecond)
	timer2 := m.StartTimer()
	m.EndTimer(timer2)

	if m.AverageProcessingTimeMS() <= 0 {
		t.Error("expected average processing time > 0")
	}
	if m.CurrentFPS() <= 0 {
		t.Error("expected current FPS > 0")
	}
}

func TestMonitor_OverflowResetDropsCountBelowSentinel(t *testing.T) {
	m := New(1.0, nil)

	timer := m.StartTimer()
	m.EndTimer(timer)
	avgBefore := m.AverageProcessingTimeMS()

	m.mu.Lock()
	m.framesProcessed = maxFrameCount
	m.mu.Unlock()

	timer2 := m.StartTimer()
	m.EndTimer(timer2)

	m.mu.Lock()
	count := m.framesProcessed
	m.mu.Unlock()

	if count >= maxFrameCount {
		t.Fatalf("expected counters reset below sentinel, got %d", count)
	}
	if avgBefore <= 0 {
		t.Fatal("expected nonzero average before overflow for this assertion to be meaningful")
	}
}

func TestMonitor_RecordCaptureIncrementsGauge(t *testing.T) {
	m := New(1.0, nil)
	m.RecordCapture()
	m.RecordCapture()

	if m.capturedGauge.Load() != 2 {
		t.Errorf("expected captured gauge 2, got %d", m.capturedGauge.Load())
	}
}
