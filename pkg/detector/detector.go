// Package detector defines the opaque object-detection capability the
// rest of the pipeline drives. The model itself is out of scope for
// this repository (see spec.md §1 non-goals); only the capability
// surface and two concrete backends — a gocv DNN-backed model and a
// deterministic mock for tests — live here.
package detector

import "gocv.io/x/gocv"

// Box is an axis-aligned bounding box in image coordinates.
type Box struct {
	X, Y, W, H int
}

// Center returns the box's center point.
func (b Box) Center() (x, y float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// Detection is a single detector result, later enriched by the tracker.
type Detection struct {
	ClassLabel string
	Confidence float64
	Box        Box
	ClassID    int

	// IsStationary, StationaryDurationSeconds, and IsNew are populated by
	// the tracker's enrichment step, not by the detector.
	IsStationary              bool
	StationaryDurationSeconds int
	IsNew                     bool
}

// Metrics reports detector identity and rolling inference performance.
type Metrics struct {
	Name             string
	AverageLatencyMS float64
	TotalInferences  uint64
}

// Detector is the capability interface every detection backend implements.
type Detector interface {
	// Detect runs inference on one frame and returns zero or more detections.
	Detect(frame gocv.Mat) ([]Detection, error)
	// SupportedClasses lists every class label the backend can emit.
	SupportedClasses() []string
	// Metrics reports rolling performance figures for this backend.
	Metrics() Metrics
	// WarmUp runs a throwaway inference pass to page in weights/buffers.
	WarmUp() error
	// Close releases backend resources (network handles, buffers).
	Close() error
}

// TargetClasses is the fixed set of classes the pipeline acts on, per
// spec.md §4.2 step 5. Operators may extend this via configuration.
var TargetClasses = []string{
	"person", "car", "truck", "bus", "motorcycle", "bicycle", "cat", "dog",
}

// IsTargetClass reports whether label is in the fixed target set or in
// the operator-supplied extra set.
func IsTargetClass(label string, extra []string) bool {
	for _, c := range TargetClasses {
		if c == label {
			return true
		}
	}
	for _, c := range extra {
		if c == label {
			return true
		}
	}
	return false
}
