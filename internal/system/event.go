package system

import (
	"time"

	"github.com/abilitynet/abilityd/internal/core/event"
	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/net"
	"github.com/abilitynet/abilityd/internal/world"
	"go.uber.org/zap"
)

// EventSystem swaps the event bus and delivers last tick's lifecycle events
// to the ability handlers. Phase 1 (PreUpdate).
type EventSystem struct {
	world *world.State
	log   *zap.Logger
}

func NewEventSystem(ws *world.State, log *zap.Logger) *EventSystem {
	s := &EventSystem{world: ws, log: log}
	bus := ws.Bus()
	event.Subscribe(bus, s.onDied)
	event.Subscribe(bus, s.onStaggered)
	event.Subscribe(bus, s.onKeyframe)
	return s
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ time.Duration) {
	bus := s.world.Bus()
	bus.SwapBuffers()
	bus.DispatchAll()
}

// Every replica runs its death purge: the owner authoritatively, observers
// for their local-only abilities.
func (s *EventSystem) onDied(ev event.EntityDied) {
	replicas := s.world.Replicas(ev.EntityID)
	if len(replicas) == 0 {
		return
	}
	for _, a := range replicas {
		a.Dead = true
		a.Anim.Stop()
		a.Abilities.OnDeath()
	}
	s.log.Info("player died", zap.String("player", replicas[0].Name))
}

func (s *EventSystem) onStaggered(ev event.EntityStaggered) {
	for _, a := range s.world.Replicas(ev.EntityID) {
		a.Stagger(ev.Duration)
		if a.IsOwner() {
			a.Abilities.EndQueuedAbility()
		}
	}
}

func (s *EventSystem) onKeyframe(ev event.ActionKeyframe) {
	p, ok := s.world.Peer(net.PeerID(ev.Peer))
	if !ok {
		return
	}
	a, ok := p.Actor(ev.EntityID)
	if !ok || a.Dead {
		return
	}
	a.Abilities.ActivateQueuedAbility()
}
