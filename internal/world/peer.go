package world

import (
	"github.com/abilitynet/abilityd/internal/core/ecs"
	"github.com/abilitynet/abilityd/internal/net"
	"github.com/abilitynet/abilityd/internal/net/packet"
	"go.uber.org/zap"
)

// Peer is one local participant: its hub endpoint and its replicas of every
// spawned entity.
type Peer struct {
	ID       net.PeerID
	Endpoint *net.Endpoint

	actors *ecs.Store[Actor]
	router *packet.Registry
	log    *zap.Logger
}

func newPeer(ep *net.Endpoint, log *zap.Logger) *Peer {
	p := &Peer{
		ID:       ep.ID(),
		Endpoint: ep,
		actors:   ecs.NewStore[Actor](),
		log:      log.With(zap.Uint32("peer", uint32(ep.ID()))),
	}
	p.router = packet.NewRegistry(p.log)
	p.registerHandlers()
	return p
}

func (p *Peer) registerHandlers() {
	p.router.Register(packet.OpSnapshotUpdate, func(entity ecs.EntityID, r *packet.Reader) {
		if a := p.actor(entity); a != nil {
			a.Abilities.HandleSnapshot(r)
		}
	})
	mirror := func(entity ecs.EntityID, r *packet.Reader) {
		if a := p.actor(entity); a != nil {
			a.Abilities.HandleMirror(r.Opcode(), r)
		}
	}
	for _, op := range []byte{packet.OpMirrorActivate, packet.OpMirrorDeactivate, packet.OpMirrorInvoke, packet.OpMirrorCancel} {
		p.router.Register(op, mirror)
	}
	p.router.Register(packet.OpPersistRelay, func(entity ecs.EntityID, r *packet.Reader) {
		a := p.actor(entity)
		if a == nil {
			return
		}
		if err := a.Abilities.HandleRelay(r); err != nil {
			p.log.Warn("relayed save rejected", zap.Stringer("entity", entity), zap.Error(err))
		}
	})
}

func (p *Peer) actor(entity ecs.EntityID) *Actor {
	a, ok := p.actors.Get(entity)
	if !ok {
		p.log.Debug("message for unknown entity", zap.Stringer("entity", entity))
		return nil
	}
	return a
}

// Actor returns this peer's replica of entity.
func (p *Peer) Actor(entity ecs.EntityID) (*Actor, bool) {
	return p.actors.Get(entity)
}

// EachActor calls fn for every replica in spawn order.
func (p *Peer) EachActor(fn func(*Actor)) {
	p.actors.Each(func(_ ecs.EntityID, a *Actor) { fn(a) })
}

// Deliver applies one message from the hub.
func (p *Peer) Deliver(d net.Delivery) {
	if d.LateJoin && len(d.Data) > 0 && d.Data[0] == packet.OpSnapshotUpdate {
		entity := packet.NewReader(d.Data).ReadEntity()
		if a := p.actor(entity); a != nil {
			a.Abilities.Bootstrap(d.Data)
		}
		return
	}
	if err := p.router.Dispatch(d.Data); err != nil {
		p.log.Warn("message dropped", zap.Error(err))
	}
}

// ProcessInbox applies every pending delivery in arrival order and returns
// how many were applied.
func (p *Peer) ProcessInbox() int {
	msgs := p.Endpoint.Drain()
	for _, d := range msgs {
		p.Deliver(d)
	}
	return len(msgs)
}
