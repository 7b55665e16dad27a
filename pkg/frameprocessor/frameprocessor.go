//go:build cgo

// Package frameprocessor runs the pipeline body — night-mode
// enhancement, detection, tracking, and photo-policy invocation — on a
// bounded worker pool, per spec.md §4.2.
package frameprocessor

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/objectsentry/objectsentry/internal/logging"
	"github.com/objectsentry/objectsentry/pkg/camera"
	"github.com/objectsentry/objectsentry/pkg/detector"
	"github.com/objectsentry/objectsentry/pkg/photopolicy"
	"github.com/objectsentry/objectsentry/pkg/tracker"
)

const (
	// nightModeLuminanceThreshold is the mean-grayscale level below which
	// a frame is treated as captured at night regardless of wall clock.
	nightModeLuminanceThreshold = 50.0

	claheClipLimit = 2.0
	claheTileSize  = 8

	// brightnessAttenuationThreshold is the mean luminance above which,
	// when enabled, a brightness-attenuation pass is applied.
	brightnessAttenuationThreshold = 200.0
)

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	CaptureTime time.Time
	Processed   bool
	Detections  []detector.Detection
	ExitEvents  []tracker.Event
	NightMode   bool

	// AnnotatedFrame is the original frame with detection boxes drawn,
	// for the caller to forward to the Stream Server's broadcast cell.
	// The caller owns it and must Close it.
	AnnotatedFrame gocv.Mat
}

// Future is the promise backing Submit's returned channel. The
// orchestrator holds a FIFO of these and drains only the ones ready at
// the front, per spec.md §5's ordering guarantees.
type Future struct {
	ch chan FrameResult
}

// Get blocks until the result is available.
func (f Future) Get() FrameResult {
	return <-f.ch
}

// TryGet returns the result without blocking if it is already
// available. A caller polling a FIFO of futures must stop at the first
// not-yet-ready one to preserve submission order.
func (f Future) TryGet() (FrameResult, bool) {
	select {
	case r := <-f.ch:
		return r, true
	default:
		return FrameResult{}, false
	}
}

// Options configures an Processor.
type Options struct {
	Workers                int
	MaxQueueDepth          int
	EnableBrightnessFilter bool
	ExtraClasses           []string
	PhotoPolicy            *photopolicy.Policy
	Tracker                *tracker.Tracker
	Detector               detector.Detector
	Logger                 *logging.Logger
	NightHourStart         int // inclusive, e.g. 20
	NightHourEnd           int // exclusive, e.g. 6 (wraps past midnight)
}

// Processor is the Frame Processor: a bounded queue plus a worker pool
// that runs process_internal for each submitted frame.
type Processor struct {
	opts Options

	queue chan queuedFrame

	mu               sync.Mutex
	shuttingDown     bool
	wg               sync.WaitGroup
	totalImagesSaved int

	brightnessFilterActive bool
}

type queuedFrame struct {
	frame camera.Frame
	fut   Future
}

// New creates a Processor and, if Workers > 1, starts its worker pool.
// With Workers == 1 no goroutines are started: submit runs inline, per
// the single/multi-worker equivalence spec.md §4.2 requires.
func New(opts Options) *Processor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxQueueDepth < 1 {
		opts.MaxQueueDepth = 10
	}

	p := &Processor{
		opts:  opts,
		queue: make(chan queuedFrame, opts.MaxQueueDepth),
	}

	if opts.Workers > 1 {
		for i := 0; i < opts.Workers; i++ {
			p.wg.Add(1)
			go p.workerLoop()
		}
	}

	return p
}

// Submit enqueues frame for processing and returns a future resolving
// to its FrameResult. With a single worker the body runs inline before
// Submit returns.
//
// Submit holds the same lock Shutdown uses to close the queue, so the
// two may be called concurrently from different goroutines without
// racing on a send-after-close panic. A Submit after Shutdown never
// touches the queue and returns a future already resolved with
// Processed=false.
func (p *Processor) Submit(frame camera.Frame) Future {
	fut := Future{ch: make(chan FrameResult, 1)}

	if p.opts.Workers == 1 {
		fut.ch <- p.processInternal(frame)
		return fut
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shuttingDown {
		frame.Close()
		fut.ch <- FrameResult{CaptureTime: frame.Timestamp, Processed: false}
		return fut
	}

	select {
	case p.queue <- queuedFrame{frame: frame, fut: fut}:
	default:
		if p.opts.Logger != nil {
			p.opts.Logger.Warnf("frame queue full, dropping newest frame")
		}
		frame.Close()
		fut.ch <- FrameResult{CaptureTime: frame.Timestamp, Processed: false}
	}

	return fut
}

// ProcessSync runs the pipeline body inline regardless of worker count,
// used by tests and by single-worker Submit.
func (p *Processor) ProcessSync(frame camera.Frame) FrameResult {
	return p.processInternal(frame)
}

// QueueDepth reports the number of frames currently queued.
func (p *Processor) QueueDepth() int {
	return len(p.queue)
}

// TotalImagesSaved reports the cumulative count of persisted photos.
func (p *Processor) TotalImagesSaved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalImagesSaved
}

// BrightnessFilterActive reports whether the most recent frame had the
// brightness-attenuation pass applied.
func (p *Processor) BrightnessFilterActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.brightnessFilterActive
}

func (p *Processor) workerLoop() {
	defer p.wg.Done()

	for {
		qf, ok := <-p.queue
		if !ok {
			return
		}
		result := p.processInternal(qf.frame)
		qf.fut.ch <- result
	}
}

// Shutdown stops accepting new work, lets the workers finish every
// frame still queued, joins every worker, and then fails any future
// left in the queue. It closes the queue
// under the same lock Submit holds while sending, so a Submit racing
// with Shutdown either completes its send before the close or observes
// shuttingDown and fails the future instead of ever sending on a
// closed channel.
func (p *Processor) Shutdown() {
	p.mu.Lock()
	if p.shuttingDown {
		p.mu.Unlock()
		return
	}
	p.shuttingDown = true
	if p.opts.Workers > 1 {
		close(p.queue)
	}
	p.mu.Unlock()

	if p.opts.Workers > 1 {
		p.wg.Wait()
	}

	for {
		select {
		case qf, ok := <-p.queue:
			if !ok {
				return
			}
			qf.fut.ch <- FrameResult{CaptureTime: qf.frame.Timestamp, Processed: false}
			qf.frame.Close()
		default:
			return
		}
	}
}

// processInternal implements spec.md §4.2's process_internal pipeline.
func (p *Processor) processInternal(frame camera.Frame) FrameResult {
	defer frame.Close()

	mat := frame.Mat

	nightMode := isNightMode(mat, p.opts.NightHourStart, p.opts.NightHourEnd)

	detectInput := mat
	var enhanced gocv.Mat
	hasEnhanced := false
	if nightMode {
		enhanced = applyCLAHE(mat)
		hasEnhanced = true
		detectInput = enhanced
	}

	brightnessActive := false
	if p.opts.EnableBrightnessFilter && meanLuminance(mat) > brightnessAttenuationThreshold {
		attenuated := attenuate(detectInput)
		if hasEnhanced {
			enhanced.Close()
		}
		enhanced = attenuated
		hasEnhanced = true
		detectInput = enhanced
		brightnessActive = true
	}

	p.mu.Lock()
	p.brightnessFilterActive = brightnessActive
	p.mu.Unlock()

	if hasEnhanced {
		defer enhanced.Close()
	}

	var detections []detector.Detection
	if p.opts.Detector != nil {
		dets, err := p.opts.Detector.Detect(detectInput)
		if err != nil {
			if p.opts.Logger != nil {
				p.opts.Logger.Warnf("detector inference failed: %v", err)
			}
		} else {
			detections = dets
		}
	}

	filtered := detections[:0]
	for _, d := range detections {
		if detector.IsTargetClass(d.ClassLabel, p.opts.ExtraClasses) {
			filtered = append(filtered, d)
		}
	}
	detections = filtered

	var exitEvents []tracker.Event
	if p.opts.Tracker != nil {
		detections, exitEvents = p.opts.Tracker.Process(detections)
	}

	if len(detections) > 0 && p.opts.PhotoPolicy != nil {
		saved, err := p.opts.PhotoPolicy.Evaluate(mat, detectInput, nightMode, detections)
		if err != nil && p.opts.Logger != nil {
			p.opts.Logger.Warnf("photo policy save failed: %v", err)
		}
		if saved {
			p.mu.Lock()
			p.totalImagesSaved++
			p.mu.Unlock()
		}
	}

	if p.opts.Logger != nil {
		for _, d := range detections {
			cx, cy := d.Box.Center()
			p.opts.Logger.Infof("detected %s at (%.0f, %.0f) confidence %.2f", d.ClassLabel, cx, cy, d.Confidence)
		}
	}

	return FrameResult{
		CaptureTime:    frame.Timestamp,
		Processed:      true,
		Detections:     detections,
		ExitEvents:     exitEvents,
		NightMode:      nightMode,
		AnnotatedFrame: photopolicy.Annotate(mat, detections),
	}
}

func isNightMode(mat gocv.Mat, hourStart, hourEnd int) bool {
	hour := time.Now().Hour()
	if hourStart != hourEnd {
		if hourStart < hourEnd {
			if hour >= hourStart && hour < hourEnd {
				return true
			}
		} else {
			if hour >= hourStart || hour < hourEnd {
				return true
			}
		}
	}
	return meanLuminance(mat) < nightModeLuminanceThreshold
}

func meanLuminance(mat gocv.Mat) float64 {
	if mat.Empty() {
		return 0
	}
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	mean := gray.Mean()
	return mean.Val1
}

// applyCLAHE enhances the lightness channel of a LAB-converted copy of
// mat, per spec.md §4.2 step 2.
func applyCLAHE(mat gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(mat, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheTileSize, claheTileSize))
	defer clahe.Close()

	enhancedL := gocv.NewMat()
	defer enhancedL.Close()
	clahe.Apply(channels[0], &enhancedL)
	enhancedL.CopyTo(&channels[0])

	merged := gocv.NewMat()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)
	merged.Close()

	return out
}

// attenuate darkens an over-bright frame to mitigate glass reflections.
func attenuate(mat gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	mat.ConvertToWithParams(&out, gocv.MatTypeCV8UC3, 0.7, 0)
	return out
}
