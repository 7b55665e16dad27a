//go:build cgo

package detector

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	inputWidth  = 640
	inputHeight = 640
	scaleFactor = 1.0 / 255.0
)

// ONNXDetector runs a YOLO-family object detection model loaded from an
// ONNX file via gocv's DNN module. It realizes the "Detector Capability"
// described in spec.md §2 as an opaque, swappable backend.
type ONNXDetector struct {
	mu sync.Mutex

	net           gocv.Net
	classNames    []string
	confThreshold float64

	name            string
	totalInferences uint64
	totalLatencyMS  float64
}

// NewONNXDetector loads a model and its class-name file. When enableGPU is
// set, inference prefers the CUDA backend/target; gocv falls back to CPU
// on its own if no CUDA-capable build is present.
func NewONNXDetector(modelPath, classesPath string, confThreshold float64, name string, enableGPU bool) (*ONNXDetector, error) {
	classNames, err := loadClassNames(classesPath)
	if err != nil {
		return nil, fmt.Errorf("loading class names: %w", err)
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model from %s", modelPath)
	}
	if enableGPU {
		net.SetPreferableBackend(gocv.NetBackendCUDA)
		net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	return &ONNXDetector{
		net:           net,
		classNames:    classNames,
		confThreshold: confThreshold,
		name:          name,
	}, nil
}

func loadClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var names []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				names = append(names, string(data[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(data) {
		names = append(names, string(data[start:]))
	}
	return names, nil
}

// Detect runs a forward pass and returns post-processed detections.
func (d *ONNXDetector) Detect(frame gocv.Mat) ([]Detection, error) {
	if frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()

	blob := gocv.BlobFromImage(frame, scaleFactor, image.Pt(inputWidth, inputHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	detections := d.postProcess(frame, output)

	elapsed := time.Since(start)
	d.totalInferences++
	d.totalLatencyMS += float64(elapsed.Microseconds()) / 1000.0

	return detections, nil
}

// postProcess decodes YOLO's [1, N, 5+C] output tensor into Detections,
// mirroring the confidence*class-score gating and center-to-corner
// bounding box conversion of the original detector.
func (d *ONNXDetector) postProcess(frame gocv.Mat, output gocv.Mat) []Detection {
	sizes := output.Size()
	if len(sizes) != 3 {
		return nil
	}

	numDetections := sizes[1]
	numClasses := sizes[2] - 5
	if numClasses <= 0 {
		return nil
	}

	frameW := float64(frame.Cols())
	frameH := float64(frame.Rows())

	var detections []Detection
	for i := 0; i < numDetections; i++ {
		objConf := float64(output.GetFloatAt3(0, i, 4))
		if objConf < d.confThreshold {
			continue
		}

		maxScore := 0.0
		maxClassID := -1
		for c := 0; c < numClasses; c++ {
			score := float64(output.GetFloatAt3(0, i, 5+c))
			if score > maxScore {
				maxScore = score
				maxClassID = c
			}
		}

		finalConf := objConf * maxScore
		if finalConf < d.confThreshold || maxClassID < 0 || maxClassID >= len(d.classNames) {
			continue
		}

		cx := float64(output.GetFloatAt3(0, i, 0))
		cy := float64(output.GetFloatAt3(0, i, 1))
		w := float64(output.GetFloatAt3(0, i, 2))
		h := float64(output.GetFloatAt3(0, i, 3))

		x1 := (cx - w/2) * frameW / inputWidth
		y1 := (cy - h/2) * frameH / inputHeight
		x2 := (cx + w/2) * frameW / inputWidth
		y2 := (cy + h/2) * frameH / inputHeight

		detections = append(detections, Detection{
			ClassLabel: d.classNames[maxClassID],
			Confidence: finalConf,
			ClassID:    maxClassID,
			Box: Box{
				X: int(x1),
				Y: int(y1),
				W: int(x2 - x1),
				H: int(y2 - y1),
			},
		})
	}

	return detections
}

// SupportedClasses returns every class name the loaded model can emit.
func (d *ONNXDetector) SupportedClasses() []string {
	return d.classNames
}

// Metrics reports rolling inference performance.
func (d *ONNXDetector) Metrics() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()

	avg := 0.0
	if d.totalInferences > 0 {
		avg = d.totalLatencyMS / float64(d.totalInferences)
	}
	return Metrics{
		Name:             d.name,
		AverageLatencyMS: avg,
		TotalInferences:  d.totalInferences,
	}
}

// WarmUp runs one inference pass against a blank frame to page in weights.
func (d *ONNXDetector) WarmUp() error {
	warmup := gocv.NewMatWithSize(inputHeight, inputWidth, gocv.MatTypeCV8UC3)
	defer warmup.Close()
	_, err := d.Detect(warmup)
	return err
}

// Close releases the underlying network handle.
func (d *ONNXDetector) Close() error {
	return d.net.Close()
}
