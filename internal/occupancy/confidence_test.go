package occupancy

import (
	"testing"
	"time"
)

func TestConfidenceClampBounds(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	if got := m.Clamp(-1.0); got != 0.05 {
		t.Errorf("expected clamp to floor 0.05, got %f", got)
	}
	if got := m.Clamp(1.5); got != 0.95 {
		t.Errorf("expected clamp to ceiling 0.95, got %f", got)
	}
	if got := m.Clamp(0.5); got != 0.5 {
		t.Errorf("expected 0.5 to pass through, got %f", got)
	}
}

func TestRiseOnConfirmationSaturates(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	for _, prev := range []float64{0.05, 0.5, 0.75, 0.95} {
		if got := m.RiseOnConfirmation(prev); got != 0.95 {
			t.Errorf("confirmation from %f: expected 0.95, got %f", prev, got)
		}
	}
}

func TestDecayOnClearStopsAtDecayedLevel(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	// Immediately after clearing nothing has decayed yet
	if got := m.DecayOnClear(0.95, 0); got != 0.95 {
		t.Errorf("expected no decay at t=0, got %f", got)
	}

	// Partway down the curve
	mid := m.DecayOnClear(0.95, 1*time.Second)
	if mid <= 0.75 || mid >= 0.95 {
		t.Errorf("expected mid-curve value in (0.75, 0.95), got %f", mid)
	}

	// Long after clearing the value sits at the decayed level, never below.
	// A sleeping occupant stays occupied.
	for _, elapsed := range []time.Duration{10 * time.Second, time.Hour, 8 * time.Hour} {
		if got := m.DecayOnClear(0.95, elapsed); got != 0.75 {
			t.Errorf("after %s: expected 0.75, got %f", elapsed, got)
		}
	}
}

func TestDecayOnClearMonotonic(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	prev := 0.95
	for sec := 1; sec <= 10; sec++ {
		got := m.DecayOnClear(0.95, time.Duration(sec)*time.Second)
		if got > prev {
			t.Fatalf("decay not monotonic at %ds: %f > %f", sec, got, prev)
		}
		prev = got
	}
}

func TestDecayTowardVacantReachesFloor(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	if got := m.DecayTowardVacant(0.70, 0); got != 0.70 {
		t.Errorf("expected no decay at t=0, got %f", got)
	}

	if got := m.DecayTowardVacant(0.70, time.Minute); got != 0.05 {
		t.Errorf("expected floor after a minute, got %f", got)
	}

	// Already at the floor stays at the floor
	if got := m.DecayTowardVacant(0.05, time.Second); got != 0.05 {
		t.Errorf("expected floor to stay, got %f", got)
	}
}

func TestTransferOnTransition(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	src, dst := m.TransferOnTransition(0.95)
	if src != 0.70 {
		t.Errorf("expected source handoff 0.70, got %f", src)
	}
	if dst != 0.95 {
		t.Errorf("expected destination confirmed 0.95, got %f", dst)
	}
}

func TestChainConfidenceDegradesPerHop(t *testing.T) {
	m := NewConfidenceModel(DefaultParams())

	tests := []struct {
		hops int
		want float64
	}{
		{1, 0.95},
		{2, 0.85},
		{3, 0.75},
		{5, 0.75}, // bottoms out at decayed-occupied
	}
	for _, tt := range tests {
		if got := m.ChainConfidence(tt.hops); got != tt.want {
			t.Errorf("hops=%d: expected %f, got %f", tt.hops, tt.want, got)
		}
	}
}
