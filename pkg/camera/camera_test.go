//go:build cgo

package camera

import "testing"

func TestCamera_Initialize(t *testing.T) {
	c := New()

	err := c.Initialize(0, 640, 480)
	if err != nil {
		t.Skipf("skipping: no camera available: %v", err)
	}
	defer c.Release()

	width, height := c.ActualResolution()
	if width <= 0 || height <= 0 {
		t.Errorf("invalid resolution: %dx%d", width, height)
	}
}

func TestCamera_Capture(t *testing.T) {
	c := New()

	if err := c.Initialize(0, 640, 480); err != nil {
		t.Skipf("skipping: no camera available: %v", err)
	}
	defer c.Release()

	frame, err := c.Capture()
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	defer frame.Close()

	if frame.Mat.Empty() {
		t.Error("expected non-empty frame")
	}
	if !c.HealthCheck() {
		t.Error("expected camera to report healthy after a successful capture")
	}
}

func TestCamera_HealthCheck_UnopenedIsUnhealthy(t *testing.T) {
	c := New()
	if c.HealthCheck() {
		t.Error("expected unopened camera to be unhealthy")
	}
}

func TestCamera_Capture_BeforeInitialize(t *testing.T) {
	c := New()
	if _, err := c.Capture(); err == nil {
		t.Error("expected error capturing from uninitialized camera")
	}
}
