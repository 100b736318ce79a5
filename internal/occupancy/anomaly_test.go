package occupancy

import (
	"testing"
	"time"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(testTopology(t), DefaultParams())
}

func TestDetectorFlagsLongActivation(t *testing.T) {
	d := newTestDetector(t)

	d.ObserveEvent(SensorEvent{SensorID: "motion_living", Active: true, Timestamp: at(0)})

	d.Expire(at(100 * time.Second))
	if got := len(d.Records()); got != 0 {
		t.Fatalf("expected no records below threshold, got %d", got)
	}

	d.Expire(at(300 * time.Second))
	records := d.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record at threshold, got %d", len(records))
	}
	rec := records[0]
	if rec.Kind != AnomalyStuckSensor {
		t.Errorf("expected stuck_sensor, got %s", rec.Kind)
	}
	if rec.SensorID != "motion_living" {
		t.Errorf("expected motion_living, got %s", rec.SensorID)
	}
	if rec.Area != "living" {
		t.Errorf("expected area living, got %s", rec.Area)
	}
	if rec.ID == "" {
		t.Error("expected a record id")
	}
}

func TestDetectorFlagsSpanOnLateDeactivation(t *testing.T) {
	d := newTestDetector(t)

	// No tick ever observed the span; the deactivation itself reveals it
	d.ObserveEvent(SensorEvent{SensorID: "motion_kitchen", Active: true, Timestamp: at(0)})
	d.ObserveEvent(SensorEvent{SensorID: "motion_kitchen", Active: false, Timestamp: at(400 * time.Second)})

	records := d.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Kind != AnomalyStuckSensor {
		t.Errorf("expected stuck_sensor, got %s", records[0].Kind)
	}
}

func TestDetectorFlagsOncePerSpan(t *testing.T) {
	d := newTestDetector(t)

	d.ObserveEvent(SensorEvent{SensorID: "motion_living", Active: true, Timestamp: at(0)})
	d.Expire(at(301 * time.Second))
	d.Expire(at(600 * time.Second))
	d.ObserveEvent(SensorEvent{SensorID: "motion_living", Active: false, Timestamp: at(700 * time.Second)})

	if got := len(d.Records()); got != 1 {
		t.Errorf("expected 1 record for one span, got %d", got)
	}
}

func TestDetectorRepeatedActivationsDoNotAccumulate(t *testing.T) {
	d := newTestDetector(t)

	// Re-sent active states within one span keep the original start time
	d.ObserveEvent(SensorEvent{SensorID: "motion_living", Active: true, Timestamp: at(0)})
	d.ObserveEvent(SensorEvent{SensorID: "motion_living", Active: true, Timestamp: at(200 * time.Second)})
	d.Expire(at(301 * time.Second))

	if got := len(d.Records()); got != 1 {
		t.Errorf("expected span measured from first activation, got %d records", got)
	}
}

func TestDetectorDrainAndReset(t *testing.T) {
	d := newTestDetector(t)

	d.RecordImpossibleAppearance("living", "motion_living", at(0))
	d.RecordCountMismatch("kitchen", at(1*time.Second), "test mismatch")

	drained := d.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained records, got %d", len(drained))
	}
	if got := len(d.Records()); got != 0 {
		t.Errorf("expected empty buffer after drain, got %d", got)
	}

	d.ObserveEvent(SensorEvent{SensorID: "motion_living", Active: true, Timestamp: at(0)})
	d.Reset()
	d.Expire(at(301 * time.Second))
	if got := len(d.Records()); got != 0 {
		t.Errorf("expected reset to drop activation tracking, got %d records", got)
	}
}

func TestDetectorSuspiciousTransitionRecord(t *testing.T) {
	d := newTestDetector(t)

	d.RecordSuspiciousTransition(Transition{
		Kind:        TransitionSingle,
		Source:      "entrance",
		Destination: "backyard",
		Count:       1,
		At:          at(0),
	}, 0)

	records := d.Records()
	if len(records) != 1 || records[0].Kind != AnomalySuspiciousTransition {
		t.Fatalf("expected suspicious_transition record, got %v", records)
	}
	if records[0].Area != "backyard" {
		t.Errorf("expected destination area on record, got %s", records[0].Area)
	}
}
