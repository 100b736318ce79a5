package occupancy

import (
	"fmt"
	"sort"
	"time"

	"github.com/saaga0h/jeeves-presence/internal/topology"
)

// maxRecentTransitions bounds the replay/lingering history
const maxRecentTransitions = 32

// Engine is the occupancy state machine. It consumes sensor events in
// non-decreasing timestamp order and maintains per-area confidence, occupant
// counts and phases. All time-dependent behavior is deadline based: deadlines
// are applied when the next event arrives or when Tick is called, never from
// background timers. The engine is not safe for concurrent use; callers
// serialize access.
type Engine struct {
	topo     *topology.Topology
	params   Params
	model    *ConfidenceModel
	resolver *Resolver
	detector *Detector

	states  map[string]*areaState
	pending []pendingAppearance
	recent  []resolvedTransition
	dirty   map[string]bool

	lastEventTime time.Time
}

// NewEngine creates an engine with every area vacant
func NewEngine(topo *topology.Topology, params Params) *Engine {
	params = params.withDefaults()
	e := &Engine{
		topo:     topo,
		params:   params,
		model:    NewConfidenceModel(params),
		resolver: NewResolver(topo, params),
		detector: NewDetector(topo, params),
		states:   make(map[string]*areaState),
		dirty:    make(map[string]bool),
	}
	for _, a := range topo.Areas() {
		e.states[a.ID] = newAreaState(params.FloorConfidence)
	}
	return e
}

// areaState implements stateReader
func (e *Engine) areaState(id string) *areaState {
	return e.states[id]
}

// recentTransitions implements stateReader
func (e *Engine) recentTransitions() []resolvedTransition {
	return e.recent
}

// ProcessEvent consumes one sensor event. Malformed events are rejected with
// a MalformedEventError and leave all state untouched; anomalies detected
// while processing are recorded, never returned as errors.
func (e *Engine) ProcessEvent(ev SensorEvent) error {
	sensor, ok := e.topo.Sensor(ev.SensorID)
	if !ok {
		return &MalformedEventError{SensorID: ev.SensorID, Reason: "unknown sensor"}
	}
	if ev.Timestamp.IsZero() {
		return &MalformedEventError{SensorID: ev.SensorID, Reason: "missing timestamp"}
	}
	if ev.Timestamp.Before(e.lastEventTime) {
		return &MalformedEventError{
			SensorID: ev.SensorID,
			Reason:   fmt.Sprintf("timestamp %s precedes last event %s", ev.Timestamp.Format(time.RFC3339), e.lastEventTime.Format(time.RFC3339)),
		}
	}

	e.advance(ev.Timestamp)
	e.lastEventTime = ev.Timestamp
	e.detector.ObserveEvent(ev)

	if ev.Active {
		e.applyActivation(sensor, ev)
	} else {
		e.applyDeactivation(sensor, ev)
	}
	return nil
}

// Tick fires any deadlines due at or before now without consuming an event.
// The host calls this periodically so clears and grace expiries do not wait
// for the next sensor event. Tick never advances the event-order watermark:
// ordering is enforced between events only, so a device clock lagging the
// host ticker does not get its events rejected.
func (e *Engine) Tick(now time.Time) {
	if now.Before(e.lastEventTime) {
		return
	}
	e.advance(now)
}

// advance applies every deadline due at or before t, in chronological order,
// then refreshes decay curves up to t.
func (e *Engine) advance(t time.Time) {
	for {
		kind, areaIdx, when := e.nextDeadline()
		if when.IsZero() || when.After(t) {
			break
		}
		switch kind {
		case deadlineClear:
			e.fireClear(areaIdx, when)
		case deadlineGrace:
			e.fireGrace(when)
		}
	}
	e.detector.Expire(t)
	e.refreshDecay(t)
}

type deadlineKind int

const (
	deadlineNone deadlineKind = iota
	deadlineClear
	deadlineGrace
)

// nextDeadline returns the earliest pending deadline
func (e *Engine) nextDeadline() (deadlineKind, string, time.Time) {
	kind := deadlineNone
	area := ""
	var when time.Time

	for id, st := range e.states {
		if st.clearDeadline.IsZero() {
			continue
		}
		if when.IsZero() || st.clearDeadline.Before(when) || (st.clearDeadline.Equal(when) && id < area) {
			kind, area, when = deadlineClear, id, st.clearDeadline
		}
	}
	for _, p := range e.pending {
		if when.IsZero() || p.deadline.Before(when) {
			kind, area, when = deadlineGrace, "", p.deadline
		}
	}
	return kind, area, when
}

// fireClear makes a pending motion-clear effective
func (e *Engine) fireClear(areaID string, at time.Time) {
	st := e.states[areaID]
	st.clearDeadline = time.Time{}
	st.clearedAt = at
	st.lastEvent = at
	e.dirty[areaID] = true

	if !st.occupied() {
		st.decayFrom = st.confidence
		st.confidence = e.model.DecayTowardVacant(st.decayFrom, 0)
		st.phase = PhaseVacant
		e.settleVacant(st)
		return
	}

	if e.topo.IsExitCapable(areaID) {
		// Motion stopping in an exit-capable area means the occupants left
		// the monitored space.
		count := st.occupants
		st.occupants = 0
		st.confidence = e.model.Floor()
		st.phase = PhaseVacant
		st.decayFrom = e.model.Floor()
		e.rememberTransition(resolvedTransition{
			kind:   TransitionExit,
			source: areaID,
			count:  count,
			at:     at,
		})
		return
	}

	st.decayFrom = st.confidence
	st.confidence = e.model.DecayOnClear(st.decayFrom, 0)
	st.phase = PhaseDecaying
}

// settleVacant pins an unoccupied area at the floor once decay has run out
func (e *Engine) settleVacant(st *areaState) {
	if st.confidence <= e.model.Floor() {
		st.confidence = e.model.Floor()
		st.phase = PhaseVacant
		st.clearedAt = time.Time{}
	}
}

// fireGrace resolves the oldest due pending appearance: reclassify it as a
// transition from an occupied neighbor if one exists, otherwise report it.
func (e *Engine) fireGrace(at time.Time) {
	idx := -1
	for i, p := range e.pending {
		if !p.deadline.After(at) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)

	origin := e.occupiedNeighbor(p.area)
	if origin != "" {
		// Evidence caught up: an adjacent area held occupants all along, so
		// the appearance was a quiet hop, not an anomaly.
		src := e.states[origin]
		src.occupants--
		src.lastEvent = p.at
		if !src.occupied() {
			e.beginVacantDecay(src, at)
		}
		e.dirty[origin] = true
		e.rememberTransition(resolvedTransition{
			kind:        TransitionSingle,
			source:      origin,
			destination: p.area,
			count:       1,
			at:          p.at,
		})
		return
	}

	e.detector.RecordImpossibleAppearance(p.area, p.sensorID, at)
}

// occupiedNeighbor returns an adjacent occupied area, preferring the one with
// the highest confidence.
func (e *Engine) occupiedNeighbor(areaID string) string {
	best := ""
	bestConf := 0.0
	for _, n := range e.topo.Neighbors(areaID) {
		st := e.states[n]
		if st != nil && st.occupied() && st.confidence > bestConf {
			best, bestConf = n, st.confidence
		}
	}
	return best
}

// refreshDecay recomputes the confidence of every area sitting on a decay
// curve, anchored at its last clear.
func (e *Engine) refreshDecay(t time.Time) {
	for id, st := range e.states {
		if st.clearedAt.IsZero() {
			continue
		}
		elapsed := t.Sub(st.clearedAt)
		if elapsed < 0 {
			continue
		}
		var v float64
		if st.occupied() {
			v = e.model.DecayOnClear(st.decayFrom, elapsed)
		} else {
			v = e.model.DecayTowardVacant(st.decayFrom, elapsed)
		}
		if v != st.confidence {
			st.confidence = v
			e.dirty[id] = true
		}
		if !st.occupied() {
			e.settleVacant(st)
		}
	}
}

// applyActivation routes an activation through the resolver and applies the
// resulting transitions.
func (e *Engine) applyActivation(sensor topology.Sensor, ev SensorEvent) {
	if sensor.Bridging() {
		e.touchAreas(sensor.Areas, ev.Timestamp, false)
		res := e.resolver.ResolveBridge(sensor, ev, e)
		e.applyResolution(sensor, ev, res)
		return
	}

	areaID := sensor.Areas[0]
	st := e.states[areaID]

	if sensor.Kind == topology.KindCameraPerson {
		// Person detection is direct evidence: at least one occupant,
		// confirmed, regardless of what the graph would have inferred.
		st.lastEvent = ev.Timestamp
		st.lastMotion = ev.Timestamp
		st.hasMotion = true
		st.cancelClear()
		st.clearedAt = time.Time{}
		if st.occupants < 1 {
			st.occupants = 1
		}
		st.confidence = e.model.Confirmed()
		st.phase = PhaseConfirmed
		e.dirty[areaID] = true
		e.cancelPending(areaID)
		return
	}

	res := e.resolver.ResolveActivation(areaID, ev, e)
	e.touchAreas(sensor.Areas, ev.Timestamp, true)
	e.applyResolution(sensor, ev, res)
}

// touchAreas records the event on each bound area. Motion-bearing sensors
// also stamp lastMotion; a contact sensor on a boundary does not count as
// motion inside either area.
func (e *Engine) touchAreas(areas []string, at time.Time, motion bool) {
	for _, id := range areas {
		st := e.states[id]
		st.lastEvent = at
		if motion {
			st.lastMotion = at
			st.hasMotion = true
			st.cancelClear()
		}
		e.dirty[id] = true
	}
}

// applyResolution applies a resolver verdict to engine state
func (e *Engine) applyResolution(sensor topology.Sensor, ev SensorEvent, res Resolution) {
	switch res.Class {
	case ClassConfirmation:
		// A pending appearance is NOT cancelled here: motion repeating in
		// the same area is the same unexplained presence, not the adjacent
		// corroboration that would explain where it came from.
		areaID := sensor.Areas[0]
		st := e.states[areaID]
		st.confidence = e.model.RiseOnConfirmation(st.confidence)
		st.phase = PhaseConfirmed
		st.clearedAt = time.Time{}
		e.dirty[areaID] = true

	case ClassReplay, ClassIgnored:
		// Nothing beyond the lastEvent/lastMotion stamps already applied.

	case ClassLingering:
		for _, t := range res.Transitions {
			e.applyTransition(sensor.ID, t)
		}
		if len(res.Transitions) > 0 {
			t := res.Transitions[0]
			e.detector.RecordCountMismatch(t.Destination, t.At,
				fmt.Sprintf("motion in %q after a group move to %q, one occupant moved back", t.Destination, t.Source))
		}

	case ClassUnexplained:
		for _, t := range res.Transitions {
			e.applyTransition(sensor.ID, t)
		}
		area := res.Transitions[0].Destination
		e.pending = append(e.pending, pendingAppearance{
			area:     area,
			sensorID: ev.SensorID,
			at:       ev.Timestamp,
			deadline: ev.Timestamp.Add(e.params.GraceWindow),
		})

	default:
		for _, t := range res.Transitions {
			e.applyTransition(sensor.ID, t)
		}
	}
}

// applyTransition is the single mutation point for occupant movement
func (e *Engine) applyTransition(sensorID string, t Transition) {
	if t.Source != "" {
		src := e.states[t.Source]
		moved := t.Count
		if moved > src.occupants {
			e.detector.RecordSuspiciousTransition(t, src.occupants)
			moved = src.occupants
		}
		src.occupants -= moved
		src.lastEvent = t.At
		src.confidence, _ = e.model.TransferOnTransition(src.confidence)
		if src.occupied() {
			src.phase = PhaseDecaying
			src.clearedAt = t.At
			src.decayFrom = src.confidence
		} else if t.Kind != TransitionExit {
			e.beginVacantDecay(src, t.At)
		}
		e.dirty[t.Source] = true
	}

	if t.Destination != "" {
		dst := e.states[t.Destination]
		dst.occupants += t.Count
		dst.lastEvent = t.At
		dst.cancelClear()
		dst.clearedAt = time.Time{}
		if t.Kind == TransitionChainHop {
			dst.confidence = e.model.ChainConfidence(t.Hops)
		} else {
			dst.confidence = e.model.Confirmed()
		}
		dst.phase = PhaseConfirmed
		e.dirty[t.Destination] = true
		e.cancelPending(t.Destination)
	}

	e.rememberTransition(resolvedTransition{
		kind:        t.Kind,
		sensorID:    sensorID,
		source:      t.Source,
		destination: t.Destination,
		count:       t.Count,
		at:          t.At,
	})
}

// beginVacantDecay starts the fall toward the floor for an emptied area.
// Phase follows the occupant count: no occupants means vacant, even while
// residual confidence drains.
func (e *Engine) beginVacantDecay(st *areaState, at time.Time) {
	st.clearedAt = at
	st.decayFrom = st.confidence
	st.phase = PhaseVacant
}

// applyDeactivation handles a sensor going inactive. Contact sensors closing
// carry no occupancy information; motion sensors schedule a clear deadline
// that becomes effective after the clear window unless motion resumes.
func (e *Engine) applyDeactivation(sensor topology.Sensor, ev SensorEvent) {
	if sensor.Kind == topology.KindMagnetic {
		for _, id := range sensor.Areas {
			e.states[id].lastEvent = ev.Timestamp
		}
		return
	}

	for _, id := range sensor.Areas {
		st := e.states[id]
		st.lastEvent = ev.Timestamp
		st.hasMotion = false
		st.clearDeadline = ev.Timestamp.Add(e.params.MotionClearWindow)
		e.dirty[id] = true
	}
}

// cancelPending drops any pending appearance for the area; subsequent direct
// evidence supersedes the provisional record.
func (e *Engine) cancelPending(areaID string) {
	out := e.pending[:0]
	for _, p := range e.pending {
		if p.area != areaID {
			out = append(out, p)
		}
	}
	e.pending = out
}

func (e *Engine) rememberTransition(rt resolvedTransition) {
	e.recent = append(e.recent, rt)
	if len(e.recent) > maxRecentTransitions {
		e.recent = e.recent[len(e.recent)-maxRecentTransitions:]
	}
}

// SetOccupancy overrides the tracked occupant count of an area. Host control
// for corrections and scenario setup; confidence follows the count.
func (e *Engine) SetOccupancy(areaID string, count int) error {
	st, ok := e.states[areaID]
	if !ok {
		return fmt.Errorf("unknown area: %q", areaID)
	}
	if count < 0 {
		return fmt.Errorf("occupant count must be non-negative, got %d", count)
	}
	st.occupants = count
	st.cancelClear()
	st.clearedAt = time.Time{}
	if count > 0 {
		st.confidence = e.model.Confirmed()
		st.phase = PhaseConfirmed
	} else {
		st.confidence = e.model.Floor()
		st.phase = PhaseVacant
	}
	e.dirty[areaID] = true
	e.cancelPending(areaID)
	return nil
}

// Snapshot returns the current view of one area
func (e *Engine) Snapshot(areaID string) (AreaSnapshot, bool) {
	st, ok := e.states[areaID]
	if !ok {
		return AreaSnapshot{}, false
	}
	return st.snapshot(areaID), true
}

// Snapshots returns the current view of every area, sorted by id
func (e *Engine) Snapshots() []AreaSnapshot {
	out := make([]AreaSnapshot, 0, len(e.states))
	for id, st := range e.states {
		out = append(out, st.snapshot(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Area < out[j].Area })
	return out
}

// ConsumeDirty returns the areas mutated since the last call and resets the
// dirty set. The host publishes snapshots for exactly these areas.
func (e *Engine) ConsumeDirty() []string {
	if len(e.dirty) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.dirty))
	for id := range e.dirty {
		out = append(out, id)
	}
	sort.Strings(out)
	e.dirty = make(map[string]bool)
	return out
}

// Anomalies returns accumulated anomaly records without consuming them
func (e *Engine) Anomalies() []AnomalyRecord {
	return e.detector.Records()
}

// DrainAnomalies returns and clears accumulated anomaly records
func (e *Engine) DrainAnomalies() []AnomalyRecord {
	return e.detector.Drain()
}

// ResetAnomalies clears anomaly records and stuck-sensor tracking
func (e *Engine) ResetAnomalies() {
	e.detector.Reset()
}
