package occupancy

import (
	"errors"
	"testing"
	"time"

	"github.com/saaga0h/jeeves-presence/internal/topology"
)

const testTopologyYAML = `
areas:
  bedroom: {}
  hallway: {}
  living: {}
  kitchen: {}
  entrance:
    exit_capable: true
  backyard:
    indoors: false
    exit_capable: true

adjacency:
  bedroom: [hallway]
  hallway: [living]
  living: [kitchen, entrance]
  kitchen: [backyard]
  entrance: [backyard]

sensors:
  motion_bedroom: {type: motion, area: bedroom}
  motion_hallway: {type: motion, area: hallway}
  motion_living: {type: motion, area: living}
  motion_kitchen: {type: motion, area: kitchen}
  motion_entrance: {type: motion, area: entrance}
  magnetic_backdoor: {type: magnetic, area: [entrance, backyard]}
  magnetic_kitchen_door: {type: magnetic, area: [kitchen, backyard]}
  camera_backyard: {type: camera_motion, area: backyard}
  person_living: {type: camera_person, area: living}
`

func testTopology(t *testing.T) *topology.Topology {
	t.Helper()
	doc, err := topology.Parse([]byte(testTopologyYAML))
	if err != nil {
		t.Fatalf("failed to parse test topology: %v", err)
	}
	topo, err := topology.New(doc)
	if err != nil {
		t.Fatalf("failed to build test topology: %v", err)
	}
	return topo
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(testTopology(t), DefaultParams())
}

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return t0.Add(offset)
}

func process(t *testing.T, e *Engine, sensorID string, active bool, when time.Time) {
	t.Helper()
	err := e.ProcessEvent(SensorEvent{SensorID: sensorID, Active: active, Timestamp: when})
	if err != nil {
		t.Fatalf("ProcessEvent(%s, %t): %v", sensorID, active, err)
	}
}

func wantArea(t *testing.T, e *Engine, areaID string, occupants int, confidence float64, phase Phase) {
	t.Helper()
	snap, ok := e.Snapshot(areaID)
	if !ok {
		t.Fatalf("unknown area %q", areaID)
	}
	if snap.Occupants != occupants {
		t.Errorf("%s: expected %d occupants, got %d", areaID, occupants, snap.Occupants)
	}
	if snap.Confidence != confidence {
		t.Errorf("%s: expected confidence %f, got %f", areaID, confidence, snap.Confidence)
	}
	if snap.Phase != phase {
		t.Errorf("%s: expected phase %s, got %s", areaID, phase, snap.Phase)
	}
}

func TestEngineStartsVacant(t *testing.T) {
	e := newTestEngine(t)

	for _, snap := range e.Snapshots() {
		if snap.Occupants != 0 || snap.Confidence != 0.05 || snap.Phase != PhaseVacant {
			t.Errorf("area %s not vacant at start: %+v", snap.Area, snap)
		}
	}
}

func TestSimpleTransition(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("bedroom", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_bedroom", true, at(0))
	wantArea(t, e, "bedroom", 1, 0.95, PhaseConfirmed)

	process(t, e, "motion_bedroom", false, at(1*time.Second))
	process(t, e, "motion_hallway", true, at(2*time.Second))

	wantArea(t, e, "hallway", 1, 0.95, PhaseConfirmed)

	bedroom, _ := e.Snapshot("bedroom")
	if bedroom.Occupants != 0 {
		t.Errorf("bedroom: expected 0 occupants after transition, got %d", bedroom.Occupants)
	}
	if bedroom.Confidence != 0.70 {
		t.Errorf("bedroom: expected handoff confidence 0.70, got %f", bedroom.Confidence)
	}

	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("expected no anomalies, got %v", anomalies)
	}
}

func TestGroupTransitionNeverSplits(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 3); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_living", true, at(0))
	process(t, e, "motion_living", false, at(1*time.Second))
	process(t, e, "motion_kitchen", true, at(2*time.Second))

	kitchen, _ := e.Snapshot("kitchen")
	living, _ := e.Snapshot("living")
	if kitchen.Occupants != 3 {
		t.Errorf("kitchen: expected the whole group of 3, got %d", kitchen.Occupants)
	}
	if living.Occupants != 0 {
		t.Errorf("living: expected 0 occupants, got %d", living.Occupants)
	}
}

func TestSleepingOccupantIsNotDecayedToVacant(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("bedroom", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_bedroom", true, at(0))
	process(t, e, "motion_bedroom", false, at(1*time.Second))

	// Hours of stillness: motion clears, confidence decays, but the occupant
	// and the occupied-decaying phase remain.
	e.Tick(at(8 * time.Hour))

	wantArea(t, e, "bedroom", 1, 0.75, PhaseDecaying)
}

func TestExitCapableAreaClearsOnMotionStop(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("entrance", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_entrance", true, at(0))
	process(t, e, "motion_entrance", false, at(1*time.Second))

	// Before the clear window elapses nothing has changed
	e.Tick(at(3 * time.Second))
	entrance, _ := e.Snapshot("entrance")
	if entrance.Occupants != 1 {
		t.Fatalf("entrance cleared before the clear window elapsed")
	}

	// After the window the occupant has left the monitored space
	e.Tick(at(10 * time.Second))
	wantArea(t, e, "entrance", 0, 0.05, PhaseVacant)
}

func TestInteriorAreaRetainsOccupantsOnMotionStop(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("kitchen", 2); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_kitchen", true, at(0))
	process(t, e, "motion_kitchen", false, at(1*time.Second))
	e.Tick(at(60 * time.Second))

	wantArea(t, e, "kitchen", 2, 0.75, PhaseDecaying)
}

func TestEntryFromUnmonitoredSpace(t *testing.T) {
	e := newTestEngine(t)

	process(t, e, "motion_entrance", true, at(0))

	wantArea(t, e, "entrance", 1, 0.95, PhaseConfirmed)
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("entry through an exit-capable area is not an anomaly, got %v", anomalies)
	}
}

func TestRenewedMotionCancelsPendingClear(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("entrance", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_entrance", true, at(0))
	process(t, e, "motion_entrance", false, at(1*time.Second))
	process(t, e, "motion_entrance", true, at(3*time.Second))

	// The deactivation at t+1 would have cleared at t+6; renewed motion
	// cancelled it.
	e.Tick(at(8 * time.Second))
	wantArea(t, e, "entrance", 1, 0.95, PhaseConfirmed)
}

func TestBridgingSensorMovesExactlyOne(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("entrance", 2); err != nil {
		t.Fatal(err)
	}

	process(t, e, "magnetic_backdoor", true, at(0))

	entrance, _ := e.Snapshot("entrance")
	backyard, _ := e.Snapshot("backyard")
	if entrance.Occupants != 1 {
		t.Errorf("entrance: expected 1 occupant left, got %d", entrance.Occupants)
	}
	if backyard.Occupants != 1 {
		t.Errorf("backyard: expected exactly 1 occupant, got %d", backyard.Occupants)
	}
}

func TestBridgingReplayIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("entrance", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "magnetic_backdoor", true, at(0))
	process(t, e, "magnetic_backdoor", false, at(1*time.Second))
	process(t, e, "magnetic_backdoor", true, at(2*time.Second))

	backyard, _ := e.Snapshot("backyard")
	if backyard.Occupants != 1 {
		t.Errorf("backyard: replayed crossing duplicated the occupant, got %d", backyard.Occupants)
	}
}

func TestBridgeWithNoPresenceIsEntryFromOutside(t *testing.T) {
	e := newTestEngine(t)

	// Both sides of the backdoor are exit-capable, so the crossing is an
	// arrival from unmonitored space landing in the first-listed side.
	process(t, e, "magnetic_backdoor", true, at(0))

	wantArea(t, e, "entrance", 1, 0.95, PhaseConfirmed)
	backyard, _ := e.Snapshot("backyard")
	if backyard.Occupants != 0 {
		t.Errorf("backyard: expected 0 occupants, got %d", backyard.Occupants)
	}

	// An arrival through a door to the outside is an entry, never an
	// impossible appearance, so the grace window has nothing to report.
	e.Tick(at(10 * time.Second))
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("expected no anomalies after grace window, got %v", anomalies)
	}
	wantArea(t, e, "entrance", 1, 0.95, PhaseConfirmed)
}

func TestBridgeWithNoPresenceLandsInInteriorSide(t *testing.T) {
	e := newTestEngine(t)

	// kitchen is interior, backyard exit-capable: the arrival lands on the
	// interior side of the boundary.
	process(t, e, "magnetic_kitchen_door", true, at(0))

	wantArea(t, e, "kitchen", 1, 0.95, PhaseConfirmed)
	backyard, _ := e.Snapshot("backyard")
	if backyard.Occupants != 0 {
		t.Errorf("backyard: expected 0 occupants, got %d", backyard.Occupants)
	}

	e.Tick(at(10 * time.Second))
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("expected no anomalies after grace window, got %v", anomalies)
	}
}

func TestBridgeOverEmptiedSourceIsSuspicious(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("entrance", 1); err != nil {
		t.Fatal(err)
	}

	// The occupant moves entrance -> living, then the backdoor opens while
	// entrance still holds residual confidence above the floor. The bridge
	// resolves entrance as the origin, but entrance is already empty.
	process(t, e, "motion_entrance", true, at(0))
	process(t, e, "motion_entrance", false, at(500*time.Millisecond))
	process(t, e, "motion_living", true, at(1*time.Second))
	process(t, e, "magnetic_backdoor", true, at(2*time.Second))

	anomalies := e.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d: %v", len(anomalies), anomalies)
	}
	if anomalies[0].Kind != AnomalySuspiciousTransition {
		t.Errorf("expected suspicious_transition, got %s", anomalies[0].Kind)
	}
	if anomalies[0].Area != "backyard" {
		t.Errorf("expected anomaly in backyard, got %s", anomalies[0].Area)
	}

	// The destination still receives the crossing; no occupant is invented in
	// the source.
	backyard, _ := e.Snapshot("backyard")
	entrance, _ := e.Snapshot("entrance")
	living, _ := e.Snapshot("living")
	if backyard.Occupants != 1 || entrance.Occupants != 0 || living.Occupants != 1 {
		t.Errorf("expected backyard=1 entrance=0 living=1, got backyard=%d entrance=%d living=%d",
			backyard.Occupants, entrance.Occupants, living.Occupants)
	}
}

func TestChainHopDegradesConfidence(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("hallway", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_hallway", true, at(0))
	process(t, e, "motion_hallway", false, at(500*time.Millisecond))
	process(t, e, "motion_living", true, at(1*time.Second))

	// Occupant is now in living; hallway keeps recent motion but no one.
	process(t, e, "motion_bedroom", true, at(2*time.Second))

	bedroom, _ := e.Snapshot("bedroom")
	living, _ := e.Snapshot("living")
	if bedroom.Occupants != 1 {
		t.Fatalf("bedroom: expected chain hop to deliver the occupant, got %d", bedroom.Occupants)
	}
	if living.Occupants != 0 {
		t.Errorf("living: expected 0 occupants after chain hop, got %d", living.Occupants)
	}
	if bedroom.Confidence != 0.85 {
		t.Errorf("bedroom: expected two-hop confidence 0.85, got %f", bedroom.Confidence)
	}
}

func TestImpossibleAppearanceAfterGraceWindow(t *testing.T) {
	e := newTestEngine(t)

	process(t, e, "motion_living", true, at(0))

	// Provisional occupant immediately, anomaly only after the grace window
	wantArea(t, e, "living", 1, 0.95, PhaseConfirmed)
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Fatalf("anomaly reported before grace window expired: %v", anomalies)
	}

	e.Tick(at(6 * time.Second))

	anomalies := e.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Kind != AnomalyImpossibleAppearance {
		t.Errorf("expected impossible_appearance, got %s", anomalies[0].Kind)
	}
	if anomalies[0].Area != "living" {
		t.Errorf("expected anomaly in living, got %s", anomalies[0].Area)
	}

	// The provisional occupant stays regardless
	living, _ := e.Snapshot("living")
	if living.Occupants != 1 {
		t.Errorf("living: provisional occupant removed, got %d", living.Occupants)
	}
}

func TestReconfirmedAppearanceStillFlagged(t *testing.T) {
	e := newTestEngine(t)

	// Unexplained appearance in an interior area, then the same sensor fires
	// again within the grace window. Re-confirmation in the same area does not
	// explain where the presence came from, so the grace window still expires
	// into an anomaly.
	process(t, e, "motion_living", true, at(0))
	process(t, e, "motion_living", false, at(1*time.Second))
	process(t, e, "motion_living", true, at(3*time.Second))

	e.Tick(at(20 * time.Second))

	anomalies := e.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d: %v", len(anomalies), anomalies)
	}
	if anomalies[0].Kind != AnomalyImpossibleAppearance {
		t.Errorf("expected impossible_appearance, got %s", anomalies[0].Kind)
	}
	if anomalies[0].Area != "living" {
		t.Errorf("expected anomaly in living, got %s", anomalies[0].Area)
	}

	living, _ := e.Snapshot("living")
	if living.Occupants != 1 {
		t.Errorf("living: provisional occupant removed, got %d", living.Occupants)
	}
}

func TestAppearanceReclassifiedFromOccupiedNeighbor(t *testing.T) {
	e := newTestEngine(t)
	// kitchen holds an occupant but has seen no recent motion, so the
	// appearance in living cannot be resolved immediately.
	if err := e.SetOccupancy("kitchen", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_living", true, at(0))
	e.Tick(at(6 * time.Second))

	// At grace expiry the occupied neighbor explains the appearance: the
	// occupant moved quietly, no anomaly.
	kitchen, _ := e.Snapshot("kitchen")
	living, _ := e.Snapshot("living")
	if kitchen.Occupants != 0 {
		t.Errorf("kitchen: expected occupant reclassified away, got %d", kitchen.Occupants)
	}
	if living.Occupants != 1 {
		t.Errorf("living: expected 1 occupant, got %d", living.Occupants)
	}
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("expected no anomalies after reclassification, got %v", anomalies)
	}
}

func TestLingeringMotionAfterGroupMove(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 2); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_living", true, at(0))
	process(t, e, "motion_kitchen", true, at(1*time.Second))

	kitchen, _ := e.Snapshot("kitchen")
	if kitchen.Occupants != 2 {
		t.Fatalf("expected group of 2 in kitchen, got %d", kitchen.Occupants)
	}

	// Motion in the emptied source: one of the group never left
	process(t, e, "motion_living", true, at(2*time.Second))

	kitchen, _ = e.Snapshot("kitchen")
	living, _ := e.Snapshot("living")
	if kitchen.Occupants != 1 || living.Occupants != 1 {
		t.Errorf("expected 1/1 split after lingering motion, got kitchen=%d living=%d",
			kitchen.Occupants, living.Occupants)
	}

	anomalies := e.Anomalies()
	if len(anomalies) != 1 || anomalies[0].Kind != AnomalyCountMismatch {
		t.Errorf("expected a count_mismatch anomaly, got %v", anomalies)
	}
}

func TestStuckSensorFlaggedOncePerActivation(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_living", true, at(0))

	e.Tick(at(301 * time.Second))
	anomalies := e.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Kind != AnomalyStuckSensor {
		t.Errorf("expected stuck_sensor, got %s", anomalies[0].Kind)
	}
	if anomalies[0].SensorID != "motion_living" {
		t.Errorf("expected motion_living, got %s", anomalies[0].SensorID)
	}

	// More time and even the deactivation produce no second record
	e.Tick(at(400 * time.Second))
	process(t, e, "motion_living", false, at(500*time.Second))
	if got := len(e.Anomalies()); got != 1 {
		t.Errorf("expected still 1 anomaly, got %d", got)
	}

	// A fresh activation span can be flagged again
	process(t, e, "motion_living", true, at(600*time.Second))
	e.Tick(at(901 * time.Second))
	if got := len(e.Anomalies()); got != 2 {
		t.Errorf("expected 2 anomalies after second long span, got %d", got)
	}
}

func TestPersonDetectionConfirmsOccupancy(t *testing.T) {
	e := newTestEngine(t)

	process(t, e, "person_living", true, at(0))

	wantArea(t, e, "living", 1, 0.95, PhaseConfirmed)
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("person detection is direct evidence, expected no anomalies, got %v", anomalies)
	}

	// Grace never fires for person-confirmed presence
	e.Tick(at(10 * time.Second))
	if anomalies := e.Anomalies(); len(anomalies) != 0 {
		t.Errorf("expected no anomalies after grace window, got %v", anomalies)
	}
}

func TestPersonDetectionDoesNotStackOccupants(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 2); err != nil {
		t.Fatal(err)
	}

	process(t, e, "person_living", true, at(0))

	living, _ := e.Snapshot("living")
	if living.Occupants != 2 {
		t.Errorf("expected existing count preserved, got %d", living.Occupants)
	}
}

func TestMalformedEventsLeaveStateUntouched(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 1); err != nil {
		t.Fatal(err)
	}
	before := e.Snapshots()

	tests := []struct {
		name string
		ev   SensorEvent
	}{
		{"unknown sensor", SensorEvent{SensorID: "motion_attic", Active: true, Timestamp: at(0)}},
		{"missing timestamp", SensorEvent{SensorID: "motion_living", Active: true}},
	}

	for _, tt := range tests {
		err := e.ProcessEvent(tt.ev)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		var merr *MalformedEventError
		if !errors.As(err, &merr) {
			t.Errorf("%s: expected MalformedEventError, got %T", tt.name, err)
		}
	}

	after := e.Snapshots()
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("state changed by malformed event: %+v != %+v", before[i], after[i])
		}
	}
}

func TestOutOfOrderEventRejected(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_living", true, at(10*time.Second))

	err := e.ProcessEvent(SensorEvent{
		SensorID:  "motion_living",
		Active:    false,
		Timestamp: at(5 * time.Second),
	})
	var merr *MalformedEventError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedEventError for out-of-order event, got %v", err)
	}
}

func TestEqualTimestampsAccepted(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 1); err != nil {
		t.Fatal(err)
	}

	// Ordering is non-decreasing: two events sharing a timestamp are valid.
	process(t, e, "motion_living", true, at(0))
	process(t, e, "motion_living", false, at(0))

	e.Tick(at(60 * time.Second))
	wantArea(t, e, "living", 1, 0.75, PhaseDecaying)
}

func TestTickDoesNotAdvanceEventOrdering(t *testing.T) {
	e := newTestEngine(t)
	if err := e.SetOccupancy("living", 1); err != nil {
		t.Fatal(err)
	}

	process(t, e, "motion_living", true, at(0))

	// The host ticker runs on its own clock. A device whose clock lags the
	// ticker still gets its events accepted; ordering binds events to each
	// other, not to tick times.
	e.Tick(at(10 * time.Second))
	process(t, e, "motion_living", false, at(8*time.Second))

	// The late deactivation took effect: the clear fires at its deadline.
	e.Tick(at(60 * time.Second))
	wantArea(t, e, "living", 1, 0.75, PhaseDecaying)
}

func TestSetOccupancyValidation(t *testing.T) {
	e := newTestEngine(t)

	if err := e.SetOccupancy("attic", 1); err == nil {
		t.Error("expected error for unknown area")
	}
	if err := e.SetOccupancy("living", -1); err == nil {
		t.Error("expected error for negative count")
	}

	if err := e.SetOccupancy("living", 2); err != nil {
		t.Fatal(err)
	}
	wantArea(t, e, "living", 2, 0.95, PhaseConfirmed)

	if err := e.SetOccupancy("living", 0); err != nil {
		t.Fatal(err)
	}
	wantArea(t, e, "living", 0, 0.05, PhaseVacant)
}

func TestConsumeDirtyTracksMutatedAreas(t *testing.T) {
	e := newTestEngine(t)

	if dirty := e.ConsumeDirty(); dirty != nil {
		t.Errorf("expected no dirty areas initially, got %v", dirty)
	}

	if err := e.SetOccupancy("bedroom", 1); err != nil {
		t.Fatal(err)
	}
	process(t, e, "motion_bedroom", true, at(0))
	process(t, e, "motion_bedroom", false, at(1*time.Second))
	process(t, e, "motion_hallway", true, at(2*time.Second))

	dirty := e.ConsumeDirty()
	want := map[string]bool{"bedroom": true, "hallway": true}
	for _, id := range dirty {
		delete(want, id)
	}
	if len(want) != 0 {
		t.Errorf("missing dirty areas %v in %v", want, dirty)
	}

	if dirty := e.ConsumeDirty(); dirty != nil {
		t.Errorf("expected dirty set consumed, got %v", dirty)
	}
}

func TestDrainAnomaliesConsumesRecords(t *testing.T) {
	e := newTestEngine(t)

	process(t, e, "motion_living", true, at(0))
	e.Tick(at(6 * time.Second))

	if got := len(e.DrainAnomalies()); got != 1 {
		t.Fatalf("expected 1 drained anomaly, got %d", got)
	}
	if got := len(e.Anomalies()); got != 0 {
		t.Errorf("expected buffer empty after drain, got %d", got)
	}
}
