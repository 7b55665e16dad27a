//go:build cgo

package photopolicy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/objectsentry/objectsentry/pkg/detector"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	dir := t.TempDir()
	p, err := New(dir, nil)
	require.NoError(t, err)
	return p
}

func blankFrame() gocv.Mat {
	return gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
}

func TestPolicy_SavesOnNewType(t *testing.T) {
	p := newTestPolicy(t)
	frame := blankFrame()
	defer frame.Close()

	dets := []detector.Detection{{ClassLabel: "person", Confidence: 0.8, Box: detector.Box{X: 100, Y: 100, W: 50, H: 100}}}
	saved, err := p.Evaluate(frame, frame, false, dets)
	require.NoError(t, err)
	assert.True(t, saved, "expected save on first-ever sighting of a class")

	entries, _ := os.ReadDir(p.outputDir)
	assert.Len(t, entries, 1)
}

func TestPolicy_SkipsWithinThrottleWindow(t *testing.T) {
	p := newTestPolicy(t)
	frame := blankFrame()
	defer frame.Close()

	dets := []detector.Detection{{ClassLabel: "car", Confidence: 0.9, Box: detector.Box{X: 10, Y: 10, W: 20, H: 20}}}
	_, err := p.Evaluate(frame, frame, false, dets)
	require.NoError(t, err)

	saved, err := p.Evaluate(frame, frame, false, dets)
	require.NoError(t, err)
	assert.False(t, saved, "expected throttled second save of identical unchanged state to be skipped")
}

func TestPolicy_SavesOnNewInstance(t *testing.T) {
	p := newTestPolicy(t)
	frame := blankFrame()
	defer frame.Close()

	one := []detector.Detection{{ClassLabel: "person", Confidence: 0.7, Box: detector.Box{X: 0, Y: 0, W: 10, H: 10}}}
	_, err := p.Evaluate(frame, frame, false, one)
	require.NoError(t, err)

	two := []detector.Detection{
		{ClassLabel: "person", Confidence: 0.7, Box: detector.Box{X: 0, Y: 0, W: 10, H: 10}},
		{ClassLabel: "person", Confidence: 0.7, Box: detector.Box{X: 200, Y: 200, W: 10, H: 10}},
	}
	saved, err := p.Evaluate(frame, frame, false, two)
	require.NoError(t, err)
	assert.True(t, saved, "expected save when person count grows from 1 to 2")
}

func TestPolicy_SavesAfterThrottleElapses(t *testing.T) {
	p := newTestPolicy(t)
	fakeNow := time.Now()
	p.now = func() time.Time { return fakeNow }

	frame := blankFrame()
	defer frame.Close()

	dets := []detector.Detection{{ClassLabel: "dog", Confidence: 0.6, Box: detector.Box{X: 0, Y: 0, W: 10, H: 10}}}
	_, err := p.Evaluate(frame, frame, false, dets)
	require.NoError(t, err)

	fakeNow = fakeNow.Add(11 * time.Second)
	saved, err := p.Evaluate(frame, frame, false, dets)
	require.NoError(t, err)
	assert.True(t, saved, "expected save once 10s throttle window has elapsed")
}

func TestPolicy_NightModeSavesTwoFiles(t *testing.T) {
	p := newTestPolicy(t)
	frame := blankFrame()
	defer frame.Close()

	dets := []detector.Detection{{ClassLabel: "cat", Confidence: 0.5, Box: detector.Box{X: 0, Y: 0, W: 10, H: 10}}}
	_, err := p.Evaluate(frame, frame, true, dets)
	require.NoError(t, err)

	entries, _ := os.ReadDir(p.outputDir)
	assert.Len(t, entries, 2, "expected original + night-enhanced files")
}

func TestLabelText_StationaryFormat(t *testing.T) {
	d := detector.Detection{
		ClassLabel:                "car",
		Confidence:                0.91,
		IsStationary:              true,
		StationaryDurationSeconds: 120,
	}

	assert.Equal(t, "car (91%), stationary for 2 min", labelText(d))
}

func TestLabelText_NonStationary(t *testing.T) {
	d := detector.Detection{ClassLabel: "person", Confidence: 0.75}
	assert.Equal(t, "person (75%)", labelText(d))
}

func TestFilename_SortsAndDedupesClasses(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC)
	got := filename(ts, map[string]int{"car": 2, "bus": 1}, false)
	assert.Equal(t, "2026-03-04 150405 bus car detected.jpg", got)
}

func TestFilename_NightEnhancedSuffix(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC)
	got := filename(ts, map[string]int{"person": 1}, true)
	assert.Equal(t, "2026-03-04 150405 person detected night-enhanced.jpg", got)
}

func TestPolicy_OutputDirCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "detections")
	_, err := New(dir, nil)
	require.NoError(t, err)

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr, "expected output directory created")
}
