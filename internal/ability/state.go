package ability

import "math"

// floatTolerance is the tolerance used when comparing replicated floats.
const floatTolerance = 1e-4

// State is one entity's snapshot of one assigned ability. It is a value:
// every change builds a new State.
type State struct {
	Ability        *Ability
	Cooldown       float32
	ChargeProgress float32
	Charges        uint8
}

// NewState builds a State with a non-negative cooldown and progress.
func NewState(a *Ability, cooldown, chargeProgress float32, charges uint8) State {
	return State{
		Ability:        a,
		Cooldown:       nonNegative(cooldown),
		ChargeProgress: nonNegative(chargeProgress),
		Charges:        charges,
	}
}

// FullState is the starting state for a freshly granted ability: no
// cooldown, no progress, all charges for e.
func FullState(a *Ability, e Entity) State {
	var charges uint8
	if a.flags.HasCharges {
		charges = a.MaxCharges(e)
	}
	return NewState(a, 0, 0, charges)
}

func (s State) ID() uint16 {
	if s.Ability == nil {
		return 0
	}
	return s.Ability.id
}

func (s State) WithCooldown(v float32) State {
	s.Cooldown = nonNegative(v)
	return s
}

func (s State) WithChargeProgress(v float32) State {
	s.ChargeProgress = nonNegative(v)
	return s
}

func (s State) WithCharges(v uint8) State {
	s.Charges = v
	return s
}

// Approx reports whether s and o describe the same ability with equal counts
// and tolerantly equal floats.
func (s State) Approx(o State) bool {
	return s.ID() == o.ID() &&
		s.Charges == o.Charges &&
		approxEqual(s.Cooldown, o.Cooldown) &&
		approxEqual(s.ChargeProgress, o.ChargeProgress)
}

// SnapshotsEqual compares replication snapshots index by index.
func SnapshotsEqual(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Approx(b[i]) {
			return false
		}
	}
	return true
}

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) <= floatTolerance
}

func nonNegative(v float32) float32 {
	if v < 0 || math.IsNaN(float64(v)) {
		return 0
	}
	return v
}
