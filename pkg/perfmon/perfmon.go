// Package perfmon tracks rolling capture/processing throughput and
// emits rate-limited warnings and periodic reports, per spec.md §4.6.
// It also exposes the same counters as Prometheus gauges, grounded on
// the pack's streaming metrics server.
package perfmon

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectsentry/objectsentry/internal/logging"
)

const (
	// maxFrameCount is the sentinel at which counters are reset to avoid
	// unbounded growth, while preserving the rolling average.
	maxFrameCount = 1_000_000_000

	lowFPSWarningRateLimit = 60 * time.Second
	fullReportInterval     = 5 * time.Minute
)

// Monitor tracks frame throughput and timing.
type Monitor struct {
	mu sync.Mutex

	framesCaptured  uint64
	framesProcessed uint64

	totalProcessingTimeMS float64
	lastProcessingTimeMS  float64

	lastEndTime time.Time
	currentFPS  float64

	minFPSWarning float64

	lastWarningAt    time.Time
	lastFullReportAt time.Time

	logger *logging.Logger
	now    func() time.Time

	registry *prometheus.Registry

	capturedGauge atomic.Uint64
	processedGauge atomic.Uint64
	fpsGaugeBits   atomic.Uint64
}

// New creates a Monitor that warns when current FPS drops below
// minFPSWarning.
func New(minFPSWarning float64, logger *logging.Logger) *Monitor {
	m := &Monitor{
		minFPSWarning: minFPSWarning,
		logger:        logger,
		now:           time.Now,
		registry:      prometheus.NewRegistry(),
	}
	m.registerGauges()
	return m
}

func (m *Monitor) registerGauges() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "objectsentry_frames_captured_total", Help: "Total frames captured."},
		func() float64 { return float64(m.capturedGauge.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "objectsentry_frames_processed_total", Help: "Total frames processed."},
		func() float64 { return float64(m.processedGauge.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "objectsentry_current_fps", Help: "Current frames-per-second."},
		func() float64 { return m.CurrentFPS() },
	))
}

// Handler returns the Prometheus HTTP handler for a supplemental
// /metrics endpoint.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCapture increments the captured-frame counter.
func (m *Monitor) RecordCapture() {
	m.mu.Lock()
	m.framesCaptured++
	if m.framesCaptured >= maxFrameCount {
		m.resetPreservingAverage()
	}
	m.mu.Unlock()
	m.capturedGauge.Store(m.framesCaptured)
}

// Timer brackets one frame's processing for StartTimer/EndTimer.
type Timer struct {
	start time.Time
}

// StartTimer begins timing a frame's processing.
func (m *Monitor) StartTimer() Timer {
	return Timer{start: m.now()}
}

// EndTimer finishes timing, updates rolling statistics, and checks the
// low-FPS threshold.
func (m *Monitor) EndTimer(t Timer) {
	now := m.now()
	elapsedMS := float64(now.Sub(t.start).Nanoseconds()) / 1e6

	m.mu.Lock()
	m.framesProcessed++
	m.lastProcessingTimeMS = elapsedMS
	m.totalProcessingTimeMS += elapsedMS

	if !m.lastEndTime.IsZero() {
		gap := now.Sub(m.lastEndTime).Seconds()
		if gap > 0 {
			m.currentFPS = 1.0 / gap
		}
	}
	m.lastEndTime = now

	if m.framesProcessed >= maxFrameCount {
		m.resetPreservingAverage()
	}

	fps := m.currentFPS
	shouldWarn := fps < m.minFPSWarning && now.Sub(m.lastWarningAt) >= lowFPSWarningRateLimit
	if shouldWarn {
		m.lastWarningAt = now
	}

	shouldReport := now.Sub(m.lastFullReportAt) >= fullReportInterval
	if shouldReport {
		m.lastFullReportAt = now
	}
	m.mu.Unlock()

	m.processedGauge.Store(m.framesProcessed)

	if shouldWarn && m.logger != nil {
		m.logger.Warnf("current FPS %.2f is below configured minimum %.2f", fps, m.minFPSWarning)
	}
	if shouldReport && m.logger != nil {
		m.logger.Infof("performance report: %s", m.reportLine())
	}
}

// resetPreservingAverage implements the overflow safeguard: seed the
// counters with 100 and the time sum with avg*100 so the rolling
// average survives the reset. Caller must hold mu.
func (m *Monitor) resetPreservingAverage() {
	avg := m.averageProcessingTimeMSLocked()
	m.framesCaptured = 100
	m.framesProcessed = 100
	m.totalProcessingTimeMS = avg * 100
	if m.logger != nil {
		m.logger.Infof("performance counters reset at overflow sentinel, average processing time preserved at %.2f ms", avg)
	}
}

func (m *Monitor) averageProcessingTimeMSLocked() float64 {
	if m.framesProcessed == 0 {
		return 0
	}
	return m.totalProcessingTimeMS / float64(m.framesProcessed)
}

// AverageProcessingTimeMS reports the rolling average processing time.
func (m *Monitor) AverageProcessingTimeMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averageProcessingTimeMSLocked()
}

// CurrentFPS reports the most recently computed FPS.
func (m *Monitor) CurrentFPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentFPS
}

// Reset clears every rolling counter back to zero.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesCaptured = 0
	m.framesProcessed = 0
	m.totalProcessingTimeMS = 0
	m.lastProcessingTimeMS = 0
	m.currentFPS = 0
	m.lastEndTime = time.Time{}
}

func (m *Monitor) reportLine() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return formatReport(m.framesCaptured, m.framesProcessed, m.averageProcessingTimeMSLocked(), m.currentFPS)
}

func formatReport(captured, processed uint64, avgMS, fps float64) string {
	return fmt.Sprintf("captured=%d processed=%d avg_processing_ms=%.2f fps=%.2f",
		captured, processed, avgMS, fps)
}
