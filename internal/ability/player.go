package ability

import (
	"fmt"

	"go.uber.org/zap"
)

// SlotCount is the number of ability slots a player has.
const SlotCount = 2

// Equipment reports the reload state of the player's equipped weapon.
type Equipment interface {
	Reloading() bool
}

// ActionBlocker reports action states that block ability input.
type ActionBlocker interface {
	Staggered() bool
	Dodging() bool
	AbilitiesBlocked() bool
}

// PlayerOptions configures a PlayerHandler.
type PlayerOptions struct {
	Options
	Equipment Equipment
	Blocker   ActionBlocker
	// RegenRate is passive charge progress per second.
	RegenRate float32
	// TimeScale scales regeneration; nil means 1.
	TimeScale func() float32
}

// PlayerHandler binds two loadout slots to abilities and regenerates
// charges passively on the owning peer.
type PlayerHandler struct {
	*Handler
	slots     [SlotCount]*Ability
	equipment Equipment
	blocker   ActionBlocker
	regenRate float32
	timeScale func() float32
}

func NewPlayerHandler(e Entity, opts PlayerOptions) *PlayerHandler {
	return &PlayerHandler{
		Handler:   NewHandler(e, opts.Options),
		equipment: opts.Equipment,
		blocker:   opts.Blocker,
		regenRate: opts.RegenRate,
		timeScale: opts.TimeScale,
	}
}

// Bind replaces the slot mapping. On the owner every assigned ability is
// cleared and the configured ones are granted; observers only record the
// mapping and receive the abilities through replication.
func (p *PlayerHandler) Bind(slots [SlotCount]*Ability) {
	p.slots = slots
	if !p.isOwner() {
		return
	}
	p.states.lock()
	p.ClearAbilities(false)
	for _, a := range slots {
		if a != nil {
			p.Grant(a)
		}
	}
	p.states.unlock()
	p.commit()
}

// BindKeys resolves slot keys through the registry and binds them. An empty
// key leaves its slot unbound.
func (p *PlayerHandler) BindKeys(keys [SlotCount]string) error {
	var slots [SlotCount]*Ability
	for i, key := range keys {
		if key == "" {
			continue
		}
		a, ok := p.reg.ByKey(key)
		if !ok {
			return fmt.Errorf("slot %d: %w: %q", i, ErrUnknownAbility, key)
		}
		slots[i] = a
	}
	p.Bind(slots)
	return nil
}

// Slot returns the ability bound to slot, or nil.
func (p *PlayerHandler) Slot(slot int) *Ability {
	if slot < 0 || slot >= SlotCount {
		return nil
	}
	return p.slots[slot]
}

// SlotOf returns the slot a is bound to, or -1.
func (p *PlayerHandler) SlotOf(a *Ability) int {
	if a == nil {
		return -1
	}
	for i, s := range p.slots {
		if s != nil && s.Equal(a) {
			return i
		}
	}
	return -1
}

// UseAbility activates the ability in slot if it is usable.
func (p *PlayerHandler) UseAbility(slot int) bool {
	a := p.Slot(slot)
	if a == nil {
		p.log.Debug("use of empty slot", zap.Int("slot", slot))
		return false
	}
	if !a.Usable(p.Handler) {
		return false
	}
	return p.ActivateAbility(a)
}

// UseBlocked reports whether input should be refused before UseAbility:
// the weapon is reloading or an action state blocks abilities.
func (p *PlayerHandler) UseBlocked() bool {
	if p.equipment != nil && p.equipment.Reloading() {
		return true
	}
	if p.blocker == nil {
		return false
	}
	return p.blocker.Staggered() || p.blocker.Dodging() || p.blocker.AbilitiesBlocked()
}

// Update runs cooldown maintenance and, on the owner, passive charge
// regeneration scaled by the time scale. Both land in one snapshot push.
func (p *PlayerHandler) Update(dt float32) {
	p.states.lock()
	p.Handler.Update(dt)
	p.Regen(dt)
	p.states.unlock()
	p.commit()
}

// Regen adds dt of passive charge progress to every assigned ability. Owner
// only.
func (p *PlayerHandler) Regen(dt float32) {
	if !p.isOwner() || p.regenRate <= 0 || dt <= 0 {
		return
	}
	scale := float32(1)
	if p.timeScale != nil {
		scale = p.timeScale()
	}
	p.AddChargeProgress(dt*p.regenRate*scale, nil)
}
