package occupancy

import (
	"time"
)

// areaState is the mutable per-area record. Only the engine mutates it, and
// only through Engine.apply* methods.
type areaState struct {
	confidence float64
	occupants  int
	phase      Phase

	// lastEvent is the timestamp of the last event that touched this area
	lastEvent time.Time
	// lastMotion is the timestamp of the last activation seen in this area,
	// used for transition correlation and chain look-back
	lastMotion time.Time
	// hasMotion is true between an activation and its deactivation
	hasMotion bool

	// clearDeadline, when non-zero, is the instant the pending motion-clear
	// becomes effective. A new activation cancels it; a new deactivation
	// replaces it.
	clearDeadline time.Time
	// clearedAt is the instant the last effective clear fired, anchoring
	// decay curves
	clearedAt time.Time
	// decayFrom is the confidence at clearedAt, the starting point of the
	// current decay curve
	decayFrom float64
}

func newAreaState(floor float64) *areaState {
	return &areaState{
		confidence: floor,
		phase:      PhaseVacant,
	}
}

// occupied reports whether the area currently tracks at least one occupant
func (s *areaState) occupied() bool {
	return s.occupants > 0
}

// motionWithin reports whether the area has ongoing motion or saw an
// activation in the window ending at now.
func (s *areaState) motionWithin(now time.Time, window time.Duration) bool {
	if s.hasMotion {
		return true
	}
	if s.lastMotion.IsZero() {
		return false
	}
	return !s.lastMotion.Before(now.Add(-window))
}

// cancelClear drops any pending motion-clear deadline
func (s *areaState) cancelClear() {
	s.clearDeadline = time.Time{}
}

// snapshot returns the externally visible view of the area
func (s *areaState) snapshot(areaID string) AreaSnapshot {
	return AreaSnapshot{
		Area:       areaID,
		Confidence: s.confidence,
		Occupants:  s.occupants,
		Phase:      s.phase,
		LastEvent:  s.lastEvent,
	}
}

// pendingAppearance tracks an unexplained activation awaiting retroactive
// reclassification. If no adjacent occupied area produces a plausible origin
// before the grace deadline, the appearance is reported as an anomaly; the
// provisional occupant stays either way.
type pendingAppearance struct {
	area     string
	sensorID string
	at       time.Time
	deadline time.Time
}

// resolvedTransition is a bounded-history record used to recognize replayed
// bridging events and lingering motion in an emptied source.
type resolvedTransition struct {
	kind        TransitionKind
	sensorID    string
	source      string
	destination string
	count       int
	at          time.Time
}
