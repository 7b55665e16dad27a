//go:build cgo

// Package photopolicy decides when to persist an annotated snapshot to
// disk and performs that persistence, per spec.md §4.4.
package photopolicy

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/objectsentry/objectsentry/internal/logging"
	"github.com/objectsentry/objectsentry/pkg/detector"
)

// throttleInterval is the minimum gap between saves absent a new type,
// new instance, or newly-created tracked object.
const throttleInterval = 10 * time.Second

// Policy implements the save-now/skip decision and the annotation and
// persistence of saved photos.
type Policy struct {
	mu sync.Mutex

	outputDir string
	logger    *logging.Logger
	now       func() time.Time

	lastSaveTime    time.Time
	lastSavedCounts map[string]int
}

// New creates a Policy that writes into outputDir, creating it if
// necessary.
func New(outputDir string, logger *logging.Logger) (*Policy, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &Policy{
		outputDir:       outputDir,
		logger:          logger,
		now:             time.Now,
		lastSavedCounts: make(map[string]int),
	}, nil
}

// Evaluate applies the decision rule and, if it fires, annotates and
// writes the photo(s). original is the unmodified captured frame;
// detectInput is whatever frame (possibly CLAHE-enhanced) detection
// actually ran against. It reports whether a save occurred.
func (p *Policy) Evaluate(original, detectInput gocv.Mat, nightMode bool, detections []detector.Detection) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	currentCounts := countByClass(detections)

	if !p.shouldSave(currentCounts, detections) {
		return false, nil
	}

	now := p.now()
	base := filepath.Join(p.outputDir, filename(now, currentCounts, false))

	annotated := annotate(original, detections)
	defer annotated.Close()
	if ok := gocv.IMWrite(base, annotated); !ok {
		return false, fmt.Errorf("writing %s", base)
	}
	if p.logger != nil {
		p.logger.Infof("saved photo %s", base)
	}

	if nightMode {
		nightPath := filepath.Join(p.outputDir, filename(now, currentCounts, true))
		nightAnnotated := annotate(detectInput, detections)
		defer nightAnnotated.Close()
		if ok := gocv.IMWrite(nightPath, nightAnnotated); !ok {
			return true, fmt.Errorf("writing %s", nightPath)
		}
		if p.logger != nil {
			p.logger.Infof("saved night-enhanced photo %s", nightPath)
		}
	}

	p.lastSaveTime = now
	p.lastSavedCounts = currentCounts

	p.cleanupIfNeeded()

	return true, nil
}

// shouldSave implements the first-match-wins decision rule. Caller
// must hold mu.
func (p *Policy) shouldSave(currentCounts map[string]int, detections []detector.Detection) bool {
	for class := range currentCounts {
		if _, existed := p.lastSavedCounts[class]; !existed {
			return true
		}
	}

	for class, count := range currentCounts {
		if count > p.lastSavedCounts[class] {
			return true
		}
	}

	for _, d := range detections {
		if d.IsNew {
			return true
		}
	}

	if p.now().Sub(p.lastSaveTime) >= throttleInterval {
		return true
	}

	return false
}

func countByClass(detections []detector.Detection) map[string]int {
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.ClassLabel]++
	}
	return counts
}

func filename(t time.Time, counts map[string]int, nightEnhanced bool) string {
	classes := make([]string, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Strings(classes)

	suffix := ""
	if nightEnhanced {
		suffix = " night-enhanced"
	}

	return fmt.Sprintf("%s %s detected%s.jpg",
		t.Format("2006-01-02 150405"), strings.Join(classes, " "), suffix)
}

// classColor maps a class label to its annotation color (BGR order),
// per spec.md §4.4's color table.
func classColor(class string) color.RGBA {
	switch class {
	case "person":
		return color.RGBA{B: 0, G: 255, R: 0}
	case "cat":
		return color.RGBA{B: 0, G: 0, R: 255}
	case "dog":
		return color.RGBA{B: 255, G: 0, R: 0}
	case "car", "truck", "bus":
		return color.RGBA{B: 0, G: 255, R: 255}
	case "motorcycle", "bicycle":
		return color.RGBA{B: 255, G: 0, R: 255}
	case "bird":
		return color.RGBA{B: 255, G: 255, R: 0}
	case "bear":
		return color.RGBA{B: 0, G: 128, R: 128}
	case "chair":
		return color.RGBA{B: 128, G: 0, R: 128}
	case "book":
		return color.RGBA{B: 255, G: 128, R: 0}
	default:
		return color.RGBA{B: 255, G: 255, R: 255}
	}
}

// Annotate returns a clone of src with one rectangle and label per
// detection, for callers (e.g. the stream server's broadcast frame)
// that need the same rendering Photo Policy uses for saved photos.
func Annotate(src gocv.Mat, detections []detector.Detection) gocv.Mat {
	return annotate(src, detections)
}

// annotate returns a clone of src with one rectangle and label per
// detection.
func annotate(src gocv.Mat, detections []detector.Detection) gocv.Mat {
	out := src.Clone()

	for _, d := range detections {
		c := classColor(d.ClassLabel)
		rect := image.Rect(d.Box.X, d.Box.Y, d.Box.X+d.Box.W, d.Box.Y+d.Box.H)
		gocv.Rectangle(&out, rect, c, 2)

		text := labelText(d)
		drawLabel(&out, text, d.Box.X, d.Box.Y, c)
	}

	return out
}

// labelText formats the per-detection label, matching the exact
// "car (91%), stationary for 2 min" shape spec.md §8 requires.
func labelText(d detector.Detection) string {
	base := fmt.Sprintf("%s (%d%%)", d.ClassLabel, int(d.Confidence*100))
	if !d.IsStationary {
		return base
	}

	n := d.StationaryDurationSeconds
	if n < 60 {
		return fmt.Sprintf("%s, stationary for %d sec", base, n)
	}
	return fmt.Sprintf("%s, stationary for %d min", base, n/60)
}

const (
	labelFontScale  = 0.6
	labelThickness  = 1
	labelLineHeight = 22
)

func drawLabel(mat *gocv.Mat, text string, x, y int, c color.RGBA) {
	font := gocv.FontHersheySimplex
	size := gocv.GetTextSize(text, font, labelFontScale, labelThickness)

	top := y - labelLineHeight
	below := top < 0
	if below {
		top = y + 4
	}

	bgRect := image.Rect(x, top, x+size.X+8, top+labelLineHeight)
	gocv.Rectangle(mat, bgRect, c, -1)

	textY := top + labelLineHeight - 6
	gocv.PutText(mat, text, image.Pt(x+4, textY), font, labelFontScale, color.RGBA{0, 0, 0, 0}, labelThickness)
}

// cleanupIfNeeded deletes the oldest 20% of .jpg files in the output
// directory when free disk space is critically low. Caller must hold
// mu.
func (p *Policy) cleanupIfNeeded() {
	low, err := isDiskCritical(p.outputDir)
	if err != nil || !low {
		return
	}

	entries, err := os.ReadDir(p.outputDir)
	if err != nil {
		return
	}

	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var jpgs []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jpg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		jpgs = append(jpgs, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}

	sort.Slice(jpgs, func(i, j int) bool { return jpgs[i].modTime.Before(jpgs[j].modTime) })

	toDelete := len(jpgs) / 5
	for i := 0; i < toDelete; i++ {
		path := filepath.Join(p.outputDir, jpgs[i].name)
		if err := os.Remove(path); err == nil && p.logger != nil {
			p.logger.Infof("removed old detection photo %s to free disk space", path)
		}
	}
}
