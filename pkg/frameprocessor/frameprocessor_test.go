//go:build cgo

package frameprocessor

import (
	"io"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/objectsentry/objectsentry/internal/logging"
	"github.com/objectsentry/objectsentry/pkg/camera"
	"github.com/objectsentry/objectsentry/pkg/detector"
	"github.com/objectsentry/objectsentry/pkg/photopolicy"
	"github.com/objectsentry/objectsentry/pkg/tracker"
)

func blankFrame() camera.Frame {
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	return camera.Frame{Mat: mat, Timestamp: time.Now()}
}

func newTestProcessor(t *testing.T, workers int, det detector.Detector) *Processor {
	t.Helper()
	dir := t.TempDir()
	logger := logging.New(io.Discard, logging.Error)
	policy, err := photopolicy.New(dir, logger)
	if err != nil {
		t.Fatalf("photopolicy.New: %v", err)
	}

	return New(Options{
		Workers:        workers,
		MaxQueueDepth:  10,
		PhotoPolicy:    policy,
		Tracker:        tracker.New(),
		Detector:       det,
		Logger:         logger,
		NightHourStart: 20,
		NightHourEnd:   6,
	})
}

func TestProcessor_SingleWorkerInlineReturnsReadyFuture(t *testing.T) {
	mock := detector.NewMockDetector(detector.MockResult{Detections: []detector.Detection{
		{ClassLabel: "person", Confidence: 0.8, Box: detector.Box{X: 100, Y: 100, W: 50, H: 100}},
	}})
	p := newTestProcessor(t, 1, mock)

	fut := p.Submit(blankFrame())
	result := fut.Get()

	if !result.Processed {
		t.Fatal("expected processed=true")
	}
	if len(result.Detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(result.Detections))
	}
}

func TestProcessor_SingleWorkerMatchesProcessSync(t *testing.T) {
	mock := detector.NewMockDetector(detector.MockResult{Detections: []detector.Detection{
		{ClassLabel: "car", Confidence: 0.9, Box: detector.Box{X: 0, Y: 0, W: 20, H: 20}},
	}})
	p := newTestProcessor(t, 1, mock)

	submitResult := p.Submit(blankFrame()).Get()
	syncResult := p.ProcessSync(blankFrame())

	if submitResult.Processed != syncResult.Processed {
		t.Errorf("submit.Processed=%v sync.Processed=%v, expected equal per single-worker equivalence", submitResult.Processed, syncResult.Processed)
	}
}

func TestProcessor_FiltersNonTargetClasses(t *testing.T) {
	mock := detector.NewMockDetector(detector.MockResult{Detections: []detector.Detection{
		{ClassLabel: "airplane", Confidence: 0.95, Box: detector.Box{X: 0, Y: 0, W: 20, H: 20}},
	}})
	p := newTestProcessor(t, 1, mock)

	result := p.Submit(blankFrame()).Get()
	if len(result.Detections) != 0 {
		t.Errorf("expected non-target class filtered out, got %d detections", len(result.Detections))
	}
}

func TestProcessor_MultiWorkerProcessesQueuedFrames(t *testing.T) {
	mock := detector.NewMockDetector(detector.MockResult{Detections: nil})
	p := newTestProcessor(t, 4, mock)
	defer p.Shutdown()

	var futures []Future
	for i := 0; i < 5; i++ {
		futures = append(futures, p.Submit(blankFrame()))
	}
	for _, f := range futures {
		result := f.Get()
		if !result.Processed {
			t.Error("expected every submitted frame to be processed")
		}
	}
}

func TestProcessor_SubmitAfterShutdownResolvesFuture(t *testing.T) {
	mock := detector.NewMockDetector(detector.MockResult{Detections: nil})
	p := newTestProcessor(t, 2, mock)

	fut := p.Submit(blankFrame())
	fut.Get()

	p.Shutdown()

	fut2 := p.Submit(blankFrame())
	result := fut2.Get()
	_ = result
}

func TestProcessor_QueueFullDropsNewestAndMarksUnprocessed(t *testing.T) {
	mock := detector.NewMockDetector(detector.MockResult{Detections: nil})
	dir := t.TempDir()
	logger := logging.New(io.Discard, logging.Error)
	policy, _ := photopolicy.New(dir, logger)

	p := &Processor{
		opts: Options{
			Workers:       2,
			MaxQueueDepth: 1,
			PhotoPolicy:   policy,
			Tracker:       tracker.New(),
			Detector:      mock,
			Logger:        logger,
		},
		queue: make(chan queuedFrame, 1),
	}
	// Saturate the queue manually without starting workers, to deterministically
	// force the next Submit to observe a full queue.
	p.queue <- queuedFrame{frame: blankFrame(), fut: Future{ch: make(chan FrameResult, 1)}}

	fut := p.Submit(blankFrame())
	result := fut.Get()
	if result.Processed {
		t.Error("expected drop-newest semantics to mark the dropped frame unprocessed")
	}
}
