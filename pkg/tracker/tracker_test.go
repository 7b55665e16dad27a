package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectsentry/objectsentry/pkg/detector"
)

func boxAt(x, y int) detector.Box {
	return detector.Box{X: x, Y: y, W: 20, H: 20}
}

func TestTracker_NewObjectIsMarkedNew(t *testing.T) {
	tr := New()

	dets := []detector.Detection{{ClassLabel: "person", Box: boxAt(100, 100)}}
	tr.Process(dets)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].IsNew)
}

func TestTracker_MatchesWithinRadius(t *testing.T) {
	tr := New()

	tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(100, 100)}})
	tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(110, 100)}})

	assert.Equal(t, 1, tr.Count())
}

func TestTracker_DoesNotMatchAcrossClasses(t *testing.T) {
	tr := New()

	tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(100, 100)}})
	tr.Process([]detector.Detection{{ClassLabel: "car", Box: boxAt(100, 100)}})

	assert.Equal(t, 2, tr.Count())
}

func TestTracker_DoesNotMatchBeyondRadius(t *testing.T) {
	tr := New()

	tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(0, 0)}})
	tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(500, 500)}})

	assert.Equal(t, 2, tr.Count())
}

func TestTracker_StationaryAfterThreeIdenticalFrames(t *testing.T) {
	tr := New()

	var result []detector.Detection
	for i := 0; i < 3; i++ {
		result, _ = tr.Process([]detector.Detection{{ClassLabel: "car", Box: boxAt(200, 200)}})
	}

	require.Equal(t, 1, tr.Count())
	require.Len(t, result, 1)
	assert.True(t, result[0].IsStationary)
}

func TestTracker_NotStationaryBeforeThreeFrames(t *testing.T) {
	tr := New()

	var result []detector.Detection
	for i := 0; i < 2; i++ {
		result, _ = tr.Process([]detector.Detection{{ClassLabel: "car", Box: boxAt(200, 200)}})
	}

	require.Len(t, result, 1)
	assert.False(t, result[0].IsStationary)
}

func TestTracker_MovingObjectNotStationary(t *testing.T) {
	tr := New()

	var result []detector.Detection
	for i := 0; i < 5; i++ {
		result, _ = tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(100+i*50, 100)}})
	}

	require.Len(t, result, 1)
	assert.False(t, result[0].IsStationary)
}

func TestTracker_PurgeAfterRetentionFramesEmitsExitEvent(t *testing.T) {
	tr := New()

	tr.Process([]detector.Detection{{ClassLabel: "dog", Box: boxAt(50, 50)}})

	var events []Event
	for i := 0; i < retentionFrames+1; i++ {
		_, events = tr.Process(nil)
	}

	require.Equal(t, 0, tr.Count())

	found := false
	for _, ev := range events {
		if ev.ClassLabel == "dog" && ev.IsExit {
			found = true
		}
	}
	assert.True(t, found, "expected an exit event for the purged dog")
}

func TestTracker_PositionHistoryCappedAtTen(t *testing.T) {
	tr := New()

	for i := 0; i < 25; i++ {
		tr.Process([]detector.Detection{{ClassLabel: "person", Box: boxAt(100, 100+i)}})
	}

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Len(t, snap[0].PositionHistory, maxPositionHistory)
}

func TestTracker_StationaryDurationGrowsOverTime(t *testing.T) {
	tr := New()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fakeNow }

	for i := 0; i < 3; i++ {
		tr.Process([]detector.Detection{{ClassLabel: "car", Box: boxAt(300, 300)}})
	}

	fakeNow = fakeNow.Add(2 * time.Minute)
	result, _ := tr.Process([]detector.Detection{{ClassLabel: "car", Box: boxAt(300, 300)}})

	require.Len(t, result, 1)
	assert.GreaterOrEqual(t, result[0].StationaryDurationSeconds, 120)
}
