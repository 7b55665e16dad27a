//go:build cgo

// Package camera implements the Camera Source component: it opens a
// V4L2 video device, negotiates resolution/format, and yields
// sequential frames, with liveness probing and reconnection per
// spec.md §4.1.
package camera

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	// fourccMJPEG requests Motion JPEG transport when the device supports
	// it, for better USB bandwidth and broader driver compatibility.
	fourccMJPEG = 0x47504A4D

	// consecutiveFailureThreshold is the number of back-to-back capture
	// failures after which HealthCheck reports unhealthy.
	consecutiveFailureThreshold = 5

	// keepAliveInterval forces a read if no capture has happened recently,
	// to keep some USB drivers from suspending the device.
	keepAliveInterval = 30 * time.Second
)

// Frame is one captured image plus its capture timestamp. It is
// immutable once returned by Capture; callers that retain it across an
// asynchronous boundary should Clone it first.
type Frame struct {
	Mat       gocv.Mat
	Timestamp time.Time
}

// Clone returns a deep copy of the frame, safe to hand to a worker that
// outlives the camera's own backing buffer.
func (f Frame) Clone() Frame {
	return Frame{Mat: f.Mat.Clone(), Timestamp: f.Timestamp}
}

// Close releases the frame's backing Mat.
func (f Frame) Close() error {
	return f.Mat.Close()
}

// Camera is a V4L2-backed camera source.
type Camera struct {
	mu sync.Mutex

	deviceID int
	width    int
	height   int

	webcam *gocv.VideoCapture
	opened bool

	consecutiveFailures int
	lastCaptureAt        time.Time
}

// New creates an unopened camera source.
func New() *Camera {
	return &Camera{}
}

// Initialize opens the device and negotiates the requested resolution.
// The driver's actual chosen mode may differ; callers should compare
// against ActualResolution and warn if it does.
func (c *Camera) Initialize(deviceID, width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera already initialized")
	}

	webcam, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("opening camera device %d: %w", deviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("camera device %d not found or unavailable", deviceID)
	}

	// Prefer MJPEG transport; minimize buffering to reduce latency.
	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
	webcam.Set(gocv.VideoCaptureBufferSize, 1)

	if width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	actualWidth := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	actualHeight := int(webcam.Get(gocv.VideoCaptureFrameHeight))

	// Warm up: some cameras need a discarded first read before frames
	// stabilize.
	warmup := gocv.NewMat()
	webcam.Read(&warmup)
	warmup.Close()

	c.deviceID = deviceID
	c.width = actualWidth
	c.height = actualHeight
	c.webcam = webcam
	c.opened = true
	c.consecutiveFailures = 0
	c.lastCaptureAt = time.Now()

	return nil
}

// ActualResolution reports the resolution the driver actually chose.
func (c *Camera) ActualResolution() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Capture reads one frame from the device.
func (c *Camera) Capture() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return Frame{}, fmt.Errorf("camera not initialized")
	}

	mat := gocv.NewMat()
	ok := c.webcam.Read(&mat)
	if !ok || mat.Empty() {
		mat.Close()
		c.consecutiveFailures++
		return Frame{}, fmt.Errorf("failed to read frame from camera %d", c.deviceID)
	}

	c.consecutiveFailures = 0
	c.lastCaptureAt = time.Now()
	return Frame{Mat: mat, Timestamp: time.Now()}, nil
}

// HealthCheck reports whether the camera is healthy. It is intended to
// be polled once a minute by the Orchestrator.
func (c *Camera) HealthCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened && c.consecutiveFailures < consecutiveFailureThreshold
}

// Reconnect closes and reopens the device, resetting the failure counter.
func (c *Camera) Reconnect() error {
	c.mu.Lock()
	deviceID, width, height := c.deviceID, c.width, c.height
	if c.webcam != nil {
		c.webcam.Close()
	}
	c.opened = false
	c.mu.Unlock()

	return c.Initialize(deviceID, width, height)
}

// KeepAlive forces a throwaway read if no capture has happened recently,
// preventing some USB drivers from suspending the device.
func (c *Camera) KeepAlive() {
	c.mu.Lock()
	idle := time.Since(c.lastCaptureAt)
	opened := c.opened
	c.mu.Unlock()

	if opened && idle >= keepAliveInterval {
		c.mu.Lock()
		mat := gocv.NewMat()
		c.webcam.Read(&mat)
		mat.Close()
		c.lastCaptureAt = time.Now()
		c.mu.Unlock()
	}
}

// Release closes the device.
func (c *Camera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}
	c.opened = false
	if c.webcam != nil {
		return c.webcam.Close()
	}
	return nil
}
