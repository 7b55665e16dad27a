// Package tracker maintains per-object identity across frames: it
// matches new detections against existing tracked objects, judges
// stationarity from recent movement history, and emits an exit event
// for each object it purges. It emits no event when an object is
// created.
package tracker

import (
	"math"
	"sync"
	"time"

	"github.com/objectsentry/objectsentry/pkg/detector"
)

const (
	// maxPositionHistory is N from spec.md §3: the tracker keeps at most
	// this many recent centers, oldest-first.
	maxPositionHistory = 10

	// matchRadiusPixels is the maximum Euclidean distance between a new
	// detection's center and an existing tracked object's center for
	// them to be considered the same object.
	matchRadiusPixels = 100.0

	// retentionFrames is how many consecutive frames a tracked object
	// may go unmatched before it is purged.
	retentionFrames = 30

	// stationaryHistoryMin is the minimum position-history length before
	// stationarity is judged at all.
	stationaryHistoryMin = 3

	// stationaryDisplacementPixels is the average consecutive-point
	// displacement at or below which an object is judged stationary.
	stationaryDisplacementPixels = 10.0
)

// Point is a 2D coordinate.
type Point struct {
	X, Y float64
}

func (p Point) distance(other Point) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// TrackedObject is per-identity state maintained across frames.
type TrackedObject struct {
	ID         uint64
	ClassLabel string

	Center          Point
	PreviousCenter  Point
	PositionHistory []Point

	PresentInLastFrame   bool
	FramesSinceDetection int
	IsNew                bool

	IsStationary              bool
	StationarySince           time.Time
	StationaryDurationSeconds int

	createdAt  time.Time
	createdSeq uint64
}

// Event is a DetectionEvent for a class. The tracker generates only
// exit events (IsExit=true), one per purged object.
type Event struct {
	ClassLabel   string
	Timestamp    time.Time
	IsStationary bool
	IsExit       bool
}

// Tracker maintains the collection of TrackedObjects. All mutation is
// serialized by mu: a single lock guards one critical section per
// frame, so Update and Enrich must be called back-to-back from the
// same goroutine without releasing the lock in between — callers
// achieve this via Process.
type Tracker struct {
	mu      sync.Mutex
	objects []*TrackedObject
	nextID  uint64
	nextSeq uint64

	now func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{now: time.Now}
}

// Process runs Update followed by Enrich as one critical section, the
// only sequencing spec.md §5 permits: the tracker must not be entered
// concurrently by two workers, so every frame's tracking work happens
// under a single lock acquisition.
func (t *Tracker) Process(detections []detector.Detection) ([]detector.Detection, []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.update(detections)
	t.enrich(detections)
	return detections, events
}

// update implements spec.md §4.3 Tracker.update. Caller must hold mu.
func (t *Tracker) update(detections []detector.Detection) []Event {
	now := t.now()

	for _, obj := range t.objects {
		obj.PresentInLastFrame = false
		obj.FramesSinceDetection++
	}

	for i := range detections {
		det := &detections[i]
		cx, cy := det.Box.Center()
		center := Point{X: cx, Y: cy}

		match := t.findMatch(det.ClassLabel, center)
		if match != nil {
			match.PreviousCenter = match.Center
			match.Center = center
			match.PositionHistory = appendHistory(match.PositionHistory, center)
			match.PresentInLastFrame = true
			match.FramesSinceDetection = 0
			match.IsNew = false
			continue
		}

		t.nextID++
		t.nextSeq++
		t.objects = append(t.objects, &TrackedObject{
			ID:                  t.nextID,
			ClassLabel:          det.ClassLabel,
			Center:              center,
			PreviousCenter:      center,
			PositionHistory:     []Point{center},
			PresentInLastFrame:  true,
			FramesSinceDetection: 0,
			IsNew:               true,
			StationarySince:     now,
			createdAt:           now,
			createdSeq:          t.nextSeq,
		})
	}

	var events []Event
	kept := t.objects[:0]
	for _, obj := range t.objects {
		if obj.FramesSinceDetection > retentionFrames {
			events = append(events, Event{
				ClassLabel: obj.ClassLabel,
				Timestamp:  now,
				IsStationary: obj.IsStationary,
				IsExit:     true,
			})
			continue
		}
		kept = append(kept, obj)
	}
	t.objects = kept

	return events
}

// findMatch finds the nearest existing object of the same class within
// matchRadiusPixels, breaking distance ties by smaller
// FramesSinceDetection then by creation order. Caller must hold mu.
func (t *Tracker) findMatch(classLabel string, center Point) *TrackedObject {
	var best *TrackedObject
	var bestDist float64

	for _, obj := range t.objects {
		if obj.ClassLabel != classLabel {
			continue
		}
		dist := obj.Center.distance(center)
		if dist > matchRadiusPixels {
			continue
		}

		if best == nil {
			best, bestDist = obj, dist
			continue
		}
		if dist < bestDist {
			best, bestDist = obj, dist
			continue
		}
		if dist == bestDist {
			if obj.FramesSinceDetection < best.FramesSinceDetection {
				best = obj
			} else if obj.FramesSinceDetection == best.FramesSinceDetection && obj.createdSeq < best.createdSeq {
				best = obj
			}
		}
	}

	return best
}

func appendHistory(history []Point, center Point) []Point {
	history = append(history, center)
	if len(history) > maxPositionHistory {
		history = history[len(history)-maxPositionHistory:]
	}
	return history
}

// enrich implements spec.md §4.3 Tracker.enrich. Caller must hold mu.
func (t *Tracker) enrich(detections []detector.Detection) {
	now := t.now()

	for i := range detections {
		det := &detections[i]
		cx, cy := det.Box.Center()
		center := Point{X: cx, Y: cy}

		obj := t.findExact(det.ClassLabel, center)
		if obj == nil {
			continue
		}

		wasStationary := obj.IsStationary
		obj.IsStationary = isStationary(obj.PositionHistory)

		if obj.IsStationary && !wasStationary {
			obj.StationarySince = now
		} else if !obj.IsStationary && wasStationary {
			obj.StationarySince = time.Time{}
		}

		if obj.IsStationary {
			obj.StationaryDurationSeconds = int(now.Sub(obj.StationarySince).Seconds())
		} else {
			obj.StationaryDurationSeconds = 0
		}

		det.IsStationary = obj.IsStationary
		det.StationaryDurationSeconds = obj.StationaryDurationSeconds
		det.IsNew = obj.IsNew && obj.FramesSinceDetection == 0
	}
}

// findExact locates the tracked object that was just updated to sit
// exactly at center (the object update() matched this detection to).
func (t *Tracker) findExact(classLabel string, center Point) *TrackedObject {
	for _, obj := range t.objects {
		if obj.ClassLabel == classLabel && obj.Center == center {
			return obj
		}
	}
	return nil
}

func isStationary(history []Point) bool {
	if len(history) < stationaryHistoryMin {
		return false
	}

	var total float64
	for i := 1; i < len(history); i++ {
		total += history[i-1].distance(history[i])
	}
	avg := total / float64(len(history)-1)
	return avg <= stationaryDisplacementPixels
}

// Snapshot returns a copy of every currently-tracked object, safe for
// the Orchestrator to inspect for burst-mode decisions without holding
// the tracker's lock.
func (t *Tracker) Snapshot() []TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrackedObject, len(t.objects))
	for i, obj := range t.objects {
		out[i] = *obj
	}
	return out
}

// Count returns the number of currently-tracked objects.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.objects)
}
