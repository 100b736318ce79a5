package occupancy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saaga0h/jeeves-presence/internal/topology"
)

// Detector accumulates anomaly records. Detection never blocks or rejects
// event processing; records are drained by the caller and published out of
// band.
type Detector struct {
	topo   *topology.Topology
	params Params

	activations map[string]*sensorActivation
	records     []AnomalyRecord
}

// sensorActivation tracks one sensor's current activation span
type sensorActivation struct {
	since   time.Time
	active  bool
	flagged bool
}

// NewDetector creates a detector over the given topology
func NewDetector(topo *topology.Topology, params Params) *Detector {
	return &Detector{
		topo:        topo,
		params:      params.withDefaults(),
		activations: make(map[string]*sensorActivation),
	}
}

// ObserveEvent feeds a sensor event into stuck-sensor tracking. A sensor
// active past the long-activation threshold is flagged exactly once per
// activation span.
func (d *Detector) ObserveEvent(ev SensorEvent) {
	act := d.activations[ev.SensorID]
	if act == nil {
		act = &sensorActivation{}
		d.activations[ev.SensorID] = act
	}

	if ev.Active {
		if !act.active {
			act.since = ev.Timestamp
			act.flagged = false
		}
		act.active = true
		d.checkStuck(ev.SensorID, act, ev.Timestamp)
		return
	}

	// Catch a span that crossed the threshold but was never flagged because
	// no intervening event or tick observed it.
	if act.active {
		d.checkStuck(ev.SensorID, act, ev.Timestamp)
	}
	act.active = false
}

// Expire flags any in-flight activation that has crossed the long-activation
// threshold by now. Called from the engine's time advancement.
func (d *Detector) Expire(now time.Time) {
	for sensorID, act := range d.activations {
		if act.active {
			d.checkStuck(sensorID, act, now)
		}
	}
}

func (d *Detector) checkStuck(sensorID string, act *sensorActivation, now time.Time) {
	if act.flagged || act.since.IsZero() {
		return
	}
	held := now.Sub(act.since)
	if held < d.params.LongActivation {
		return
	}
	act.flagged = true

	area := ""
	if s, ok := d.topo.Sensor(sensorID); ok && len(s.Areas) > 0 {
		area = s.Areas[0]
	}
	d.append(AnomalyRecord{
		ID:        uuid.New().String(),
		Kind:      AnomalyStuckSensor,
		Area:      area,
		SensorID:  sensorID,
		Timestamp: now,
		Detail:    fmt.Sprintf("sensor active for %s, threshold %s", held.Round(time.Second), d.params.LongActivation),
	})
}

// RecordImpossibleAppearance reports an unexplained interior appearance whose
// grace window expired without a plausible origin emerging.
func (d *Detector) RecordImpossibleAppearance(area, sensorID string, at time.Time) {
	d.append(AnomalyRecord{
		ID:        uuid.New().String(),
		Kind:      AnomalyImpossibleAppearance,
		Area:      area,
		SensorID:  sensorID,
		Timestamp: at,
		Detail:    fmt.Sprintf("presence appeared in interior area %q with no adjacent origin", area),
	})
}

// RecordSuspiciousTransition reports a resolved transition that had to invent
// occupants because the source held fewer than the move required.
func (d *Detector) RecordSuspiciousTransition(t Transition, available int) {
	d.append(AnomalyRecord{
		ID:        uuid.New().String(),
		Kind:      AnomalySuspiciousTransition,
		Area:      t.Destination,
		Timestamp: t.At,
		Detail:    fmt.Sprintf("transition %s -> %s moved %d but source held %d", t.Source, t.Destination, t.Count, available),
	})
}

// RecordCountMismatch reports an occupant-count inconsistency found by the
// resolver, such as lingering motion behind a group move.
func (d *Detector) RecordCountMismatch(area string, at time.Time, detail string) {
	d.append(AnomalyRecord{
		ID:        uuid.New().String(),
		Kind:      AnomalyCountMismatch,
		Area:      area,
		Timestamp: at,
		Detail:    detail,
	})
}

func (d *Detector) append(rec AnomalyRecord) {
	d.records = append(d.records, rec)
}

// Records returns the accumulated anomaly records without consuming them
func (d *Detector) Records() []AnomalyRecord {
	out := make([]AnomalyRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Drain returns the accumulated records and clears the buffer
func (d *Detector) Drain() []AnomalyRecord {
	out := d.records
	d.records = nil
	return out
}

// Reset clears all records and activation tracking
func (d *Detector) Reset() {
	d.records = nil
	d.activations = make(map[string]*sensorActivation)
}
