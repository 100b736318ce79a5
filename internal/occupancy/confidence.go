package occupancy

import (
	"math"
	"time"
)

// snapEpsilon collapses a decayed value onto its asymptote once the remaining
// distance is imperceptible.
const snapEpsilon = 0.005

// decayRateOccupied shapes the fall from confirmed toward decayed-occupied
// after motion clears.
const decayRateOccupied = 1.0

// decayRateVacant shapes the fall toward the floor once an area has no
// occupants left.
const decayRateVacant = 2.0

// ConfidenceModel maps occupancy evidence to confidence values. All outputs
// are clamped to [floor, confirmed]; callers never see values outside that
// band. The model is pure: it holds calibration points only, no area state.
type ConfidenceModel struct {
	params Params
}

// NewConfidenceModel creates a confidence model from engine params
func NewConfidenceModel(params Params) *ConfidenceModel {
	return &ConfidenceModel{params: params.withDefaults()}
}

// Clamp restricts a confidence value to the legal band
func (m *ConfidenceModel) Clamp(v float64) float64 {
	if v < m.params.FloorConfidence {
		return m.params.FloorConfidence
	}
	if v > m.params.ConfirmedConfidence {
		return m.params.ConfirmedConfidence
	}
	return v
}

// Floor returns the vacant confidence
func (m *ConfidenceModel) Floor() float64 {
	return m.params.FloorConfidence
}

// Confirmed returns the corroborated-presence confidence
func (m *ConfidenceModel) Confirmed() float64 {
	return m.params.ConfirmedConfidence
}

// RiseOnConfirmation returns the confidence after direct sensor confirmation.
// Confirmation saturates in one step regardless of the previous value.
func (m *ConfidenceModel) RiseOnConfirmation(prev float64) float64 {
	return m.params.ConfirmedConfidence
}

// DecayOnClear returns the confidence after motion cleared in an area that
// still holds occupants. The value falls exponentially from the previous
// confidence toward the decayed-occupied level and never below it, so a
// sleeping occupant is not decayed into vacancy.
func (m *ConfidenceModel) DecayOnClear(prev float64, elapsed time.Duration) float64 {
	target := m.params.DecayedConfidence
	if prev <= target {
		return m.Clamp(prev)
	}
	v := target + (prev-target)*math.Exp(-decayRateOccupied*elapsed.Seconds())
	if v-target < snapEpsilon {
		v = target
	}
	return m.Clamp(v)
}

// DecayTowardVacant returns the confidence of an area with no occupants,
// falling toward the floor. Used after exits and after the last occupant
// leaves through a transition.
func (m *ConfidenceModel) DecayTowardVacant(prev float64, elapsed time.Duration) float64 {
	floor := m.params.FloorConfidence
	if prev <= floor {
		return floor
	}
	v := floor + (prev-floor)*math.Exp(-decayRateVacant*elapsed.Seconds())
	if v-floor < snapEpsilon {
		v = floor
	}
	return m.Clamp(v)
}

// TransferOnTransition returns the source and destination confidences after a
// resolved transition. The destination is confirmed; the source keeps a
// handoff level until its clear deadline fires, reflecting that the hop was
// inferred rather than directly observed on the source side.
func (m *ConfidenceModel) TransferOnTransition(srcConf float64) (src, dst float64) {
	return m.params.HandoffConfidence, m.params.ConfirmedConfidence
}

// ChainConfidence returns the destination confidence of a chain hop. Each hop
// beyond the first degrades the value, bottoming out at the decayed-occupied
// level; a chain never produces less certainty than plain decayed presence.
func (m *ConfidenceModel) ChainConfidence(hops int) float64 {
	if hops <= 1 {
		return m.params.ConfirmedConfidence
	}
	v := m.params.ConfirmedConfidence - 0.10*float64(hops-1)
	if v < m.params.DecayedConfidence {
		v = m.params.DecayedConfidence
	}
	return m.Clamp(v)
}
