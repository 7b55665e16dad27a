package eventrecorder

import (
	"strings"
	"testing"
	"time"
)

func TestRecorder_RecordFormsTotalOrder(t *testing.T) {
	r := New(nil)
	fakeNow := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fakeNow }

	r.Record("person", false, false)
	fakeNow = fakeNow.Add(time.Second)
	r.Record("car", false, false)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lifetime) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(r.lifetime))
	}
	if r.lifetime[0].ClassLabel != "person" || r.lifetime[1].ClassLabel != "car" {
		t.Error("expected events recorded in call order")
	}
}

func TestRecorder_PrintPeriodicClearsPeriodBuffer(t *testing.T) {
	r := New(nil)
	r.Record("dog", false, false)

	r.PrintPeriodic()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.period) != 0 {
		t.Errorf("expected period buffer cleared, got %d entries", len(r.period))
	}
}

func TestRecorder_PrintFinalStillShowsEventsAfterPeriodicClear(t *testing.T) {
	r := New(nil)
	r.Record("dog", false, false)
	r.PrintPeriodic()

	final := r.PrintFinal()
	if !strings.Contains(final, "dog") {
		t.Errorf("expected final summary to still mention dog, got: %s", final)
	}
}

func TestPluralize_PersonIsIrregular(t *testing.T) {
	if got := pluralize("person", 2); got != "people" {
		t.Errorf("pluralize(person, 2) = %q, want people", got)
	}
	if got := pluralize("person", 1); got != "person" {
		t.Errorf("pluralize(person, 1) = %q, want person", got)
	}
}

func TestPluralize_RegularAppendsS(t *testing.T) {
	if got := pluralize("car", 3); got != "cars" {
		t.Errorf("pluralize(car, 3) = %q, want cars", got)
	}
}

func TestFormatTimeline_ExitEvent(t *testing.T) {
	events := []Event{
		{ClassLabel: "dog", Timestamp: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC), IsExit: true},
	}
	line := formatTimeline(events)
	if !strings.Contains(line, "at 09:30, dog left") {
		t.Errorf("expected exit line, got: %s", line)
	}
}

func TestFormatTimeline_CollapsesStationaryRun(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{ClassLabel: "car", Timestamp: base, IsStationary: true},
		{ClassLabel: "car", Timestamp: base.Add(time.Minute), IsStationary: true},
		{ClassLabel: "car", Timestamp: base.Add(2 * time.Minute), IsStationary: true},
	}
	line := formatTimeline(events)
	if !strings.Contains(line, "from 09:00-09:02 car was present") {
		t.Errorf("expected collapsed stationary range, got: %s", line)
	}
}

func TestRecorder_CheckAndEmitRespectsInterval(t *testing.T) {
	var captured string
	r := New(func(s string) { captured = s })
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }
	r.periodStart = fakeNow

	r.Record("cat", false, false)
	r.CheckAndEmit(60)
	if captured != "" {
		t.Error("expected no emit before interval elapses")
	}

	fakeNow = fakeNow.Add(61 * time.Minute)
	r.CheckAndEmit(60)
	if captured == "" {
		t.Error("expected emit once interval has elapsed")
	}
}
