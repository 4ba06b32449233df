package system

import (
	"time"

	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/world"
)

// AbilitySystem advances replica timers, cooldowns, passive charge regen and
// the shared per-ability tickers. Phase 2 (Update).
//
// Cooldown decay and regen run as one batch per player so a tick publishes
// at most one snapshot per entity. Dead players keep cooling down but do not
// regenerate.
type AbilitySystem struct {
	world *world.State
}

func NewAbilitySystem(ws *world.State) *AbilitySystem {
	return &AbilitySystem{world: ws}
}

func (s *AbilitySystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *AbilitySystem) Update(dt time.Duration) {
	sec := float32(dt.Seconds())
	s.world.AllActors(func(a *world.Actor) {
		a.Tick(sec)
		if a.Dead {
			a.Abilities.Handler.Update(sec)
			return
		}
		a.Abilities.Update(sec)
	})
	s.world.Registry().Tick(sec)
}
