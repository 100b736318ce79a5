package occupancy

import (
	"github.com/saaga0h/jeeves-presence/internal/topology"
)

// Classification is the resolver's verdict on a single activation
type Classification string

const (
	// ClassConfirmation re-confirms presence in an already occupied area
	ClassConfirmation Classification = "confirmation"
	// ClassTransition explains the activation as movement from an adjacent
	// or chain-reachable occupied area
	ClassTransition Classification = "transition"
	// ClassEntry explains the activation as arrival from unmonitored space
	ClassEntry Classification = "entry"
	// ClassUnexplained admits a provisional occupant with no plausible
	// origin; subject to retroactive reclassification within the grace window
	ClassUnexplained Classification = "unexplained"
	// ClassReplay recognizes a repeated bridging event already resolved
	ClassReplay Classification = "replay"
	// ClassLingering explains motion in the emptied source of a recent group
	// move as an occupant who stayed behind
	ClassLingering Classification = "lingering"
	// ClassIgnored means the activation needs no occupancy change
	ClassIgnored Classification = "ignored"
)

// Resolution carries the verdict and the transitions to apply, in order
type Resolution struct {
	Class       Classification
	Transitions []Transition
}

// Resolver turns sensor activations into occupancy movements using the
// adjacency graph and the recent activity of each area. It is read-only over
// engine state; the engine applies what the resolver returns.
type Resolver struct {
	topo   *topology.Topology
	params Params
}

// NewResolver creates a resolver over the given topology
func NewResolver(topo *topology.Topology, params Params) *Resolver {
	return &Resolver{topo: topo, params: params.withDefaults()}
}

// stateReader is the resolver's view of engine state
type stateReader interface {
	areaState(id string) *areaState
	recentTransitions() []resolvedTransition
}

// ResolveActivation classifies a non-bridging activation in the given area
func (r *Resolver) ResolveActivation(areaID string, ev SensorEvent, states stateReader) Resolution {
	st := states.areaState(areaID)

	if st.occupied() {
		return Resolution{Class: ClassConfirmation}
	}

	// Lingering motion: the area was just emptied by a group move. One of the
	// group did not actually leave, so move a single occupant back.
	if res, ok := r.resolveLingering(areaID, ev, states); ok {
		return res
	}

	// Look for an origin: an adjacent occupied area with recent motion, or a
	// chain of recently active areas ending in an occupied one.
	if res, ok := r.resolveFromOrigin(areaID, ev, states); ok {
		return res
	}

	if r.topo.IsExitCapable(areaID) {
		return Resolution{
			Class: ClassEntry,
			Transitions: []Transition{{
				Kind:        TransitionEntry,
				Destination: areaID,
				Count:       1,
				At:          ev.Timestamp,
			}},
		}
	}

	// Interior area with no plausible origin: admit a provisional occupant
	// and let the grace window decide whether this was real.
	return Resolution{
		Class: ClassUnexplained,
		Transitions: []Transition{{
			Kind:        TransitionEntry,
			Destination: areaID,
			Count:       1,
			At:          ev.Timestamp,
		}},
	}
}

// resolveLingering handles motion in the source of a recent group transition.
// A recent single-occupant move does not qualify; the mover plausibly
// triggered the sensor on the way out, so no occupancy change is needed.
func (r *Resolver) resolveLingering(areaID string, ev SensorEvent, states stateReader) (Resolution, bool) {
	cutoff := ev.Timestamp.Add(-r.params.MotionClearWindow)
	for i := len(states.recentTransitions()) - 1; i >= 0; i-- {
		rt := states.recentTransitions()[i]
		if rt.at.Before(cutoff) {
			break
		}
		if rt.source != areaID {
			continue
		}
		switch rt.kind {
		case TransitionGroup, TransitionChainHop:
			if rt.count < 2 {
				return Resolution{Class: ClassIgnored}, true
			}
			dst := states.areaState(rt.destination)
			if dst == nil || dst.occupants == 0 {
				return Resolution{Class: ClassIgnored}, true
			}
			return Resolution{
				Class: ClassLingering,
				Transitions: []Transition{{
					Kind:        TransitionSingle,
					Source:      rt.destination,
					Destination: areaID,
					Count:       1,
					At:          ev.Timestamp,
				}},
			}, true
		case TransitionSingle:
			return Resolution{Class: ClassIgnored}, true
		}
	}
	return Resolution{}, false
}

// resolveFromOrigin searches for an occupied area that explains the
// activation, walking adjacency through areas with motion inside the
// correlation window, up to the chain depth limit.
func (r *Resolver) resolveFromOrigin(areaID string, ev SensorEvent, states stateReader) (Resolution, bool) {
	type node struct {
		id   string
		hops int
	}

	visited := map[string]bool{areaID: true}
	queue := []node{{id: areaID, hops: 0}}

	var best *node
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hops >= r.params.MaxChainDepth {
			continue
		}
		for _, n := range r.topo.Neighbors(cur.id) {
			if visited[n] {
				continue
			}
			visited[n] = true
			st := states.areaState(n)
			if st == nil {
				continue
			}
			if st.occupied() && st.motionWithin(ev.Timestamp, r.params.MotionClearWindow) {
				cand := node{id: n, hops: cur.hops + 1}
				if best == nil || cand.hops < best.hops {
					best = &cand
				}
				continue
			}
			// Pass through intermediate areas only if they were recently
			// active themselves; an idle area breaks the chain.
			if st.motionWithin(ev.Timestamp, r.params.MotionClearWindow) {
				queue = append(queue, node{id: n, hops: cur.hops + 1})
			}
		}
	}

	if best == nil {
		return Resolution{}, false
	}

	src := states.areaState(best.id)
	t := Transition{
		Source:      best.id,
		Destination: areaID,
		Count:       src.occupants,
		Hops:        best.hops,
		At:          ev.Timestamp,
	}
	switch {
	case best.hops > 1:
		t.Kind = TransitionChainHop
	case src.occupants > 1:
		t.Kind = TransitionGroup
	default:
		t.Kind = TransitionSingle
		t.Count = 1
	}

	return Resolution{Class: ClassTransition, Transitions: []Transition{t}}, true
}

// ResolveBridge classifies an activation of a bridging sensor. A bridging
// sensor spans a boundary, so the event itself does not say which direction
// was crossed; the side with stronger evidence of presence is taken as the
// origin, and exactly one occupant moves.
func (r *Resolver) ResolveBridge(sensor topology.Sensor, ev SensorEvent, states stateReader) Resolution {
	a, b := sensor.Areas[0], sensor.Areas[1]
	sa, sb := states.areaState(a), states.areaState(b)

	// The same physical crossing often fires the sensor more than once
	// (open, bounce, reopen). A repeat within the correlation window with no
	// intervening motion on either side is the same crossing, not a new one.
	if r.isReplay(sensor.ID, ev, states, sa, sb) {
		return Resolution{Class: ClassReplay}
	}

	src, dst, ok := r.bridgeDirection(a, b, sa, sb)
	if !ok {
		// Neither side shows presence. A boundary with an exit-capable side
		// is a door to unmonitored space, so the crossing is an arrival from
		// outside: land in the interior side when there is one, otherwise in
		// the first-listed area. Only a bridge between two interior areas
		// leaves the appearance unexplained.
		if r.topo.IsExitCapable(a) || r.topo.IsExitCapable(b) {
			arrival := a
			switch {
			case r.topo.IsExitCapable(a) && !r.topo.IsExitCapable(b):
				arrival = b
			case r.topo.IsExitCapable(b) && !r.topo.IsExitCapable(a):
				arrival = a
			}
			return Resolution{
				Class: ClassEntry,
				Transitions: []Transition{{
					Kind:        TransitionEntry,
					Destination: arrival,
					Count:       1,
					At:          ev.Timestamp,
				}},
			}
		}
		return Resolution{
			Class: ClassUnexplained,
			Transitions: []Transition{{
				Kind:        TransitionEntry,
				Destination: a,
				Count:       1,
				At:          ev.Timestamp,
			}},
		}
	}

	return Resolution{
		Class: ClassTransition,
		Transitions: []Transition{{
			Kind:        TransitionSingle,
			Source:      src,
			Destination: dst,
			Count:       1,
			At:          ev.Timestamp,
		}},
	}
}

// bridgeDirection picks the origin side of a bridge crossing. Higher
// confidence wins; on a tie the side holding occupants wins; with no evidence
// on either side there is no direction.
func (r *Resolver) bridgeDirection(a, b string, sa, sb *areaState) (src, dst string, ok bool) {
	floorA := sa.confidence <= r.params.FloorConfidence && !sa.occupied()
	floorB := sb.confidence <= r.params.FloorConfidence && !sb.occupied()
	switch {
	case floorA && floorB:
		return "", "", false
	case floorB:
		return a, b, true
	case floorA:
		return b, a, true
	case sa.confidence > sb.confidence:
		return a, b, true
	case sb.confidence > sa.confidence:
		return b, a, true
	case sa.occupants >= sb.occupants:
		return a, b, true
	default:
		return b, a, true
	}
}

// isReplay reports whether this bridge activation repeats an already resolved
// crossing of the same sensor.
func (r *Resolver) isReplay(sensorID string, ev SensorEvent, states stateReader, sa, sb *areaState) bool {
	cutoff := ev.Timestamp.Add(-r.params.MotionClearWindow)
	for i := len(states.recentTransitions()) - 1; i >= 0; i-- {
		rt := states.recentTransitions()[i]
		if rt.at.Before(cutoff) {
			return false
		}
		if rt.sensorID != sensorID {
			continue
		}
		// Motion on either side after the resolved crossing means the world
		// moved on; treat the repeat as a fresh crossing.
		if sa.lastMotion.After(rt.at) || sb.lastMotion.After(rt.at) {
			return false
		}
		return true
	}
	return false
}
