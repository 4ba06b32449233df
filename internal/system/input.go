package system

import (
	"sort"
	"time"

	"github.com/abilitynet/abilityd/internal/core/event"
	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/net"
	"github.com/abilitynet/abilityd/internal/world"
	"go.uber.org/zap"
)

// InputSystem applies queued player commands and drains inbound messages
// from remote peers into the hub. Phase 0 (Input).
type InputSystem struct {
	world      *world.State
	server     *net.Server // nil when running without a listener
	maxPerTick int
	log        *zap.Logger
	remotes    map[uint64]*net.Session
}

func NewInputSystem(ws *world.State, server *net.Server, maxPerTick int, log *zap.Logger) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 64
	}
	return &InputSystem{
		world:      ws,
		server:     server,
		maxPerTick: maxPerTick,
		log:        log,
		remotes:    make(map[uint64]*net.Session),
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	for _, c := range s.world.DrainCommands() {
		s.apply(c)
	}
	if s.server == nil {
		return
	}

	for {
		select {
		case sess := <-s.server.NewSessions():
			ep := s.world.Hub().JoinRemote(sess)
			s.remotes[sess.ID] = sess
			s.log.Info("remote peer joined",
				zap.Uint64("session", sess.ID),
				zap.Uint32("peer", uint32(ep.ID())),
			)
		default:
			goto doneNew
		}
	}
doneNew:

	for {
		select {
		case id := <-s.server.DeadSessions():
			s.dropRemote(id)
		default:
			goto doneDead
		}
	}
doneDead:

	for id, sess := range s.remotes {
		s.drain(id, sess)
	}
}

// drain routes up to maxPerTick queued messages from one remote session.
func (s *InputSystem) drain(id uint64, sess *net.Session) {
	ep, ok := s.world.Hub().PeerBySession(id)
	if !ok {
		return
	}
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			if err := s.world.Hub().Route(ep.ID(), data); err != nil {
				s.log.Debug("remote message rejected",
					zap.Uint64("session", id),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}

func (s *InputSystem) dropRemote(sessionID uint64) {
	if _, ok := s.remotes[sessionID]; !ok {
		return
	}
	delete(s.remotes, sessionID)
	if ep, ok := s.world.Hub().PeerBySession(sessionID); ok {
		s.world.RemovePeer(ep.ID())
	}
	s.log.Info("remote peer left", zap.Uint64("session", sessionID))
}

// Remotes returns the connected remote sessions ordered by session ID.
func (s *InputSystem) Remotes() []*net.Session {
	out := make([]*net.Session, 0, len(s.remotes))
	for _, sess := range s.remotes {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InputSystem) apply(c world.Command) {
	switch c.Kind {
	case world.CmdKill:
		event.Emit(s.world.Bus(), event.EntityDied{EntityID: c.Entity})
		return
	case world.CmdStagger:
		event.Emit(s.world.Bus(), event.EntityStaggered{EntityID: c.Entity, Duration: c.Duration})
		return
	case world.CmdRevive:
		s.world.Revive(c.Entity)
		return
	case world.CmdBind:
		if err := s.world.Rebind(c.Entity, c.Build); err != nil {
			s.log.Warn("rebind failed", zap.Error(err))
		}
		return
	}

	a, ok := s.world.OwnerActor(c.Entity)
	if !ok {
		s.log.Debug("command for unknown entity", zap.Stringer("entity", c.Entity))
		return
	}
	h := a.Abilities
	switch c.Kind {
	case world.CmdUseSlot:
		if h.UseBlocked() {
			s.log.Debug("ability input blocked", zap.String("player", a.Name), zap.Int("slot", c.Slot))
			return
		}
		h.UseAbility(c.Slot)
	case world.CmdDeactivate:
		h.DeactivateAbility(h.Slot(c.Slot))
	case world.CmdCancel:
		a.Anim.Stop()
		h.EndQueuedAbility()
	}
}
