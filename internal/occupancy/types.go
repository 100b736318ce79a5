package occupancy

import (
	"fmt"
	"time"
)

// Phase is the per-area occupancy state machine phase
type Phase string

const (
	// PhaseVacant means confidence sits at the floor and no occupants are tracked
	PhaseVacant Phase = "vacant"
	// PhaseConfirmed means presence is corroborated by current or recent motion
	PhaseConfirmed Phase = "occupied_confirmed"
	// PhaseDecaying means motion cleared without a transition; occupants are
	// retained while confidence decays toward the decayed-occupied floor
	PhaseDecaying Phase = "occupied_decaying"
)

// SensorEvent is a single sensor state change, consumed in non-decreasing
// timestamp order.
type SensorEvent struct {
	SensorID  string
	Active    bool
	Timestamp time.Time
}

// TransitionKind classifies an inferred occupant movement
type TransitionKind string

const (
	// TransitionSingle moves one occupant between adjacent areas
	TransitionSingle TransitionKind = "single"
	// TransitionGroup moves an unsplittable occupant group as a whole
	TransitionGroup TransitionKind = "group"
	// TransitionChainHop moves occupants along a chain of recently-active areas
	TransitionChainHop TransitionKind = "chain_hop"
	// TransitionEntry brings an occupant in from unmonitored space
	TransitionEntry TransitionKind = "entry"
	// TransitionExit removes occupants to unmonitored space
	TransitionExit TransitionKind = "exit"
)

// Transition is an inferred occupant movement between areas. An empty Source
// means the occupant came from outside; an empty Destination means they left.
type Transition struct {
	Kind        TransitionKind
	Source      string
	Destination string
	Count       int
	Hops        int
	At          time.Time
}

// AnomalyKind classifies a reported inconsistency between the sensor data and
// the adjacency/occupancy model.
type AnomalyKind string

const (
	AnomalyStuckSensor          AnomalyKind = "stuck_sensor"
	AnomalyImpossibleAppearance AnomalyKind = "impossible_appearance"
	AnomalySuspiciousTransition AnomalyKind = "suspicious_transition"
	AnomalyCountMismatch        AnomalyKind = "count_mismatch"
)

// AnomalyRecord is an append-only observation; it never halts processing.
type AnomalyRecord struct {
	ID        string      `json:"id"`
	Kind      AnomalyKind `json:"kind"`
	Area      string      `json:"area,omitempty"`
	SensorID  string      `json:"sensor_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail"`
}

// AreaSnapshot is the externally visible occupancy state of one area
type AreaSnapshot struct {
	Area       string    `json:"area"`
	Confidence float64   `json:"confidence"`
	Occupants  int       `json:"occupants"`
	Phase      Phase     `json:"phase"`
	LastEvent  time.Time `json:"last_event"`
}

// Params holds the tunable thresholds and calibration points of the engine
type Params struct {
	// MotionClearWindow is both the motion-clearing delay and the transition
	// correlation window
	MotionClearWindow time.Duration
	// LongActivation is the stuck-sensor threshold
	LongActivation time.Duration
	// GraceWindow bounds retroactive reclassification of unexplained
	// appearances
	GraceWindow time.Duration
	// MaxChainDepth bounds the look-back across chains of recently-active
	// areas
	MaxChainDepth int

	// Confidence calibration points
	FloorConfidence     float64 // vacant
	HandoffConfidence   float64 // transition source immediately after a hop
	DecayedConfidence   float64 // occupied but motion cleared
	ConfirmedConfidence float64 // corroborated presence
}

// DefaultParams returns the default engine calibration
func DefaultParams() Params {
	return Params{
		MotionClearWindow:   5 * time.Second,
		LongActivation:      300 * time.Second,
		GraceWindow:         5 * time.Second,
		MaxChainDepth:       3,
		FloorConfidence:     0.05,
		HandoffConfidence:   0.70,
		DecayedConfidence:   0.75,
		ConfirmedConfidence: 0.95,
	}
}

// withDefaults fills zero-valued fields so partially specified params stay
// usable in tests.
func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.MotionClearWindow <= 0 {
		p.MotionClearWindow = def.MotionClearWindow
	}
	if p.LongActivation <= 0 {
		p.LongActivation = def.LongActivation
	}
	if p.GraceWindow <= 0 {
		p.GraceWindow = def.GraceWindow
	}
	if p.MaxChainDepth <= 0 {
		p.MaxChainDepth = def.MaxChainDepth
	}
	if p.FloorConfidence <= 0 {
		p.FloorConfidence = def.FloorConfidence
	}
	if p.HandoffConfidence <= 0 {
		p.HandoffConfidence = def.HandoffConfidence
	}
	if p.DecayedConfidence <= 0 {
		p.DecayedConfidence = def.DecayedConfidence
	}
	if p.ConfirmedConfidence <= 0 {
		p.ConfirmedConfidence = def.ConfirmedConfidence
	}
	return p
}

// MalformedEventError reports an event that was rejected without mutating
// engine state.
type MalformedEventError struct {
	SensorID string
	Reason   string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event from sensor %q: %s", e.SensorID, e.Reason)
}
