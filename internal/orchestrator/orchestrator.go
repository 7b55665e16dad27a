//go:build cgo

// Package orchestrator owns every pipeline component and drives the
// per-iteration main loop described in spec.md §4.7.
package orchestrator

import (
	"sync/atomic"
	"time"

	"github.com/objectsentry/objectsentry/internal/config"
	"github.com/objectsentry/objectsentry/internal/logging"
	"github.com/objectsentry/objectsentry/pkg/camera"
	"github.com/objectsentry/objectsentry/pkg/eventrecorder"
	"github.com/objectsentry/objectsentry/pkg/frameprocessor"
	"github.com/objectsentry/objectsentry/pkg/perfmon"
	"github.com/objectsentry/objectsentry/pkg/streamserver"
	"github.com/objectsentry/objectsentry/pkg/tracker"
)

const (
	healthCheckInterval = 60 * time.Second
	cameraRetrySleep    = 100 * time.Millisecond
	frameGateSleep      = 10 * time.Millisecond
	burstModeFloor      = 1 * time.Millisecond
)

// cameraSource is the subset of *camera.Camera the Orchestrator drives.
// Expressed as an interface (rather than the concrete type) so the
// health-check/reconnect escalation path and the keep-alive call can
// be unit-tested against a fake camera instead of real V4L2 hardware.
type cameraSource interface {
	HealthCheck() bool
	Reconnect() error
	Capture() (camera.Frame, error)
	KeepAlive()
}

// Orchestrator owns the camera, frame processor, stream server,
// tracker, performance monitor, and event recorder, and drives the
// main loop.
type Orchestrator struct {
	cfg *config.Config

	cam       cameraSource
	processor *frameprocessor.Processor
	tracker   *tracker.Tracker
	streamSrv *streamserver.Server
	perf      *perfmon.Monitor
	recorder  *eventrecorder.Recorder
	logger    *logging.Logger

	shutdown atomic.Bool

	lastHealthCheck   time.Time
	lastIterationTime time.Time
	lastHeartbeat     time.Time

	// pending is the FIFO of not-yet-drained futures, in submission
	// order. Only the front is ever polled: a worker pool may finish
	// frames out of order, but the orchestrator must stop at the first
	// not-yet-ready future to preserve per spec.md §5's ordering
	// guarantee rather than reordering results.
	pending []frameprocessor.Future

	burstActive     bool
	previousPresent map[string]bool
}

// New wires every component together. Components are constructed by
// the caller (cmd/objectsentryd) and passed in; Orchestrator only
// sequences their use, per the one-way-ownership design spec.md §9
// calls for.
func New(cfg *config.Config, cam cameraSource, processor *frameprocessor.Processor,
	trk *tracker.Tracker, streamSrv *streamserver.Server, perf *perfmon.Monitor,
	recorder *eventrecorder.Recorder, logger *logging.Logger) *Orchestrator {

	return &Orchestrator{
		cfg:             cfg,
		cam:             cam,
		processor:       processor,
		tracker:         trk,
		streamSrv:       streamSrv,
		perf:            perf,
		recorder:        recorder,
		logger:          logger,
		previousPresent: make(map[string]bool),
	}
}

// RequestShutdown sets the cancellation flag the main loop polls.
func (o *Orchestrator) RequestShutdown() {
	o.shutdown.Store(true)
}

// Run executes the main loop until shutdown is requested or the
// camera is declared definitively unhealthy.
func (o *Orchestrator) Run() {
	frameInterval := time.Duration(1000.0/o.cfg.Processing.AnalysisRateLimit) * time.Millisecond
	heartbeatInterval := time.Duration(o.cfg.Processing.HeartbeatIntervalMinutes) * time.Minute

	o.lastHealthCheck = time.Now()
	o.lastHeartbeat = time.Now()
	o.lastIterationTime = time.Now()

	for {
		if o.shutdown.Load() {
			break
		}

		if time.Since(o.lastHealthCheck) >= healthCheckInterval {
			o.lastHealthCheck = time.Now()
			if o.checkCameraHealth() {
				break
			}
		}

		// KeepAlive no-ops unless 30s have elapsed since the last capture;
		// calling it every iteration (including while gated below on a low
		// analysis-rate-limit) is what lets it actually fire, since Capture
		// itself may not run again for much longer than 30s.
		o.cam.KeepAlive()

		if time.Since(o.lastIterationTime) < frameInterval {
			time.Sleep(frameGateSleep)
			continue
		}
		o.lastIterationTime = time.Now()

		frame, err := o.cam.Capture()
		if err != nil {
			o.logger.Warnf("capture failed: %v", err)
			time.Sleep(cameraRetrySleep)
			continue
		}
		o.perf.RecordCapture()

		timer := o.perf.StartTimer()
		o.pending = append(o.pending, o.processor.Submit(frame))
		lastReady := o.drainReady()
		o.perf.EndTimer(timer)

		if time.Since(o.lastHeartbeat) >= heartbeatInterval {
			o.lastHeartbeat = time.Now()
			o.logger.Infof("heartbeat: queue_depth=%d images_saved=%d fps=%.2f",
				o.processor.QueueDepth(), o.processor.TotalImagesSaved(), o.perf.CurrentFPS())
		}
		o.recorder.CheckAndEmit(o.cfg.Processing.SummaryIntervalMinutes)

		if o.cfg.Processing.EnableBurstMode && lastReady != nil {
			o.updateBurstMode(*lastReady)
		}

		o.rateLimitSleep(frameInterval)
	}

	// Shutdown joins every worker, so every future still in o.pending is
	// guaranteed resolved by the time it returns; drain them here purely
	// to release their Mats rather than to act on their detections.
	o.processor.Shutdown()
	for _, fut := range o.pending {
		if result := fut.Get(); result.Processed {
			result.AnnotatedFrame.Close()
		}
	}
	o.pending = nil

	if o.streamSrv != nil {
		o.streamSrv.Stop()
	}
	o.recorder.PrintFinal()
}

// checkCameraHealth runs the camera's health check and, if unhealthy,
// attempts a reconnect. It reports whether the camera is fatally
// unhealthy (reconnect failed), in which case it has already set the
// shutdown flag and logged the fatal condition — the caller's only
// remaining job is to break its loop.
func (o *Orchestrator) checkCameraHealth() (fatal bool) {
	if o.cam.HealthCheck() {
		return false
	}
	if err := o.cam.Reconnect(); err != nil {
		o.logger.Fatalf("camera unhealthy and reconnect failed: %v", err)
		o.shutdown.Store(true)
		return true
	}
	return false
}

// drainReady pops and applies every future at the front of the pending
// FIFO that has already resolved, stopping at the first one that
// hasn't — per spec.md §5, results are consumed front-to-back and a
// not-yet-ready future ends the drain for this iteration even if later
// futures (from other, faster workers) are already done. It returns
// the last applied result, for burst-mode evaluation.
func (o *Orchestrator) drainReady() *frameprocessor.FrameResult {
	var last *frameprocessor.FrameResult

	for len(o.pending) > 0 {
		result, ready := o.pending[0].TryGet()
		if !ready {
			break
		}
		o.pending = o.pending[1:]

		if result.Processed {
			o.applyResult(result)
			last = &result
		}
	}

	return last
}

func (o *Orchestrator) applyResult(result frameprocessor.FrameResult) {
	for _, d := range result.Detections {
		o.recorder.Record(d.ClassLabel, d.IsStationary, false)
	}
	for _, ev := range result.ExitEvents {
		o.recorder.Record(ev.ClassLabel, ev.IsStationary, true)
	}

	if o.streamSrv != nil {
		o.streamSrv.UpdateFrame(result.AnnotatedFrame)
	}
	result.AnnotatedFrame.Close()
}

func (o *Orchestrator) updateBurstMode(result frameprocessor.FrameResult) {
	present := make(map[string]bool)
	allStationary := true
	for _, d := range result.Detections {
		present[d.ClassLabel] = true
		if !d.IsStationary {
			allStationary = false
		}
	}

	shouldActivate := false
	for label := range present {
		if !o.previousPresent[label] {
			shouldActivate = true
		}
	}
	for _, d := range result.Detections {
		if d.IsNew {
			shouldActivate = true
		}
	}

	shouldDeactivate := len(present) == 0 || allStationary

	if shouldActivate && !o.burstActive {
		o.burstActive = true
		o.logger.Infof("burst mode activated")
	} else if shouldDeactivate && o.burstActive {
		o.burstActive = false
		o.logger.Infof("burst mode deactivated")
	}

	o.previousPresent = present
}

func (o *Orchestrator) rateLimitSleep(targetInterval time.Duration) {
	elapsed := time.Since(o.lastIterationTime)
	remaining := targetInterval - elapsed

	if o.burstActive {
		time.Sleep(burstModeFloor)
		return
	}
	if remaining > 0 {
		time.Sleep(remaining)
	}
}
