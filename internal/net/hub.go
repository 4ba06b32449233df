package net

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/abilitynet/abilityd/internal/core/ecs"
	"github.com/abilitynet/abilityd/internal/net/packet"
	"go.uber.org/zap"
)

// PeerID identifies one peer attached to the hub.
type PeerID uint32

// Delivery is one message waiting in a local peer's inbox.
type Delivery struct {
	From PeerID
	Data []byte
	// LateJoin marks the current replicated value handed to a peer that
	// started observing after it was written.
	LateJoin bool
}

// Hub relays peer traffic. It keeps the entity ownership table and the
// latest replicated value of every entity, so peers that join late receive
// the current state once. Game loop only.
type Hub struct {
	log      *zap.Logger
	dropRate float64
	rng      *rand.Rand

	nextID  PeerID
	peers   map[PeerID]*Endpoint
	order   []PeerID
	owners  map[ecs.EntityID]PeerID
	latest  map[ecs.EntityID][]byte
	dropped uint64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithDropRate makes the hub lose mirror messages with probability rate.
func WithDropRate(rate float64) HubOption {
	return func(h *Hub) { h.dropRate = rate }
}

// WithRand sets the random source used for mirror loss.
func WithRand(rng *rand.Rand) HubOption {
	return func(h *Hub) { h.rng = rng }
}

func NewHub(log *zap.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:    log,
		peers:  make(map[PeerID]*Endpoint),
		owners: make(map[ecs.EntityID]PeerID),
		latest: make(map[ecs.EntityID][]byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.rng == nil {
		h.rng = rand.New(rand.NewSource(1))
	}
	return h
}

// Endpoint is one peer's attachment to the hub. It implements the ability
// transport for that peer.
type Endpoint struct {
	hub    *Hub
	id     PeerID
	inbox  []Delivery
	remote *Session
}

func (e *Endpoint) ID() PeerID { return e.id }

// Remote returns the session behind a remote peer, or nil.
func (e *Endpoint) Remote() *Session { return e.remote }

// Join attaches a local peer. The current value of every entity it does not
// own is queued for it as a late-join delivery.
func (h *Hub) Join() *Endpoint {
	return h.attach(nil)
}

// JoinRemote attaches a remote peer reached through sess.
func (h *Hub) JoinRemote(sess *Session) *Endpoint {
	return h.attach(sess)
}

func (h *Hub) attach(sess *Session) *Endpoint {
	h.nextID++
	ep := &Endpoint{hub: h, id: h.nextID, remote: sess}
	h.peers[ep.id] = ep
	h.order = append(h.order, ep.id)
	entities := make([]ecs.EntityID, 0, len(h.latest))
	for entity := range h.latest {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
	for _, entity := range entities {
		if h.owners[entity] != ep.id {
			h.deliver(ep, Delivery{Data: h.latest[entity], LateJoin: true})
		}
	}
	h.log.Info("peer joined", zap.Uint32("peer", uint32(ep.id)), zap.Bool("remote", sess != nil))
	return ep
}

// Leave detaches a peer and returns the entities it owned. Their replicated
// values are forgotten.
func (h *Hub) Leave(id PeerID) []ecs.EntityID {
	if _, ok := h.peers[id]; !ok {
		return nil
	}
	delete(h.peers, id)
	for i, p := range h.order {
		if p == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	var orphans []ecs.EntityID
	for entity, owner := range h.owners {
		if owner == id {
			orphans = append(orphans, entity)
		}
	}
	for _, entity := range orphans {
		h.Forget(entity)
	}
	h.log.Info("peer left", zap.Uint32("peer", uint32(id)), zap.Int("orphans", len(orphans)))
	return orphans
}

// PeerBySession returns the remote endpoint bound to a session ID.
func (h *Hub) PeerBySession(sessionID uint64) (*Endpoint, bool) {
	for _, id := range h.order {
		ep := h.peers[id]
		if ep.remote != nil && ep.remote.ID == sessionID {
			return ep, true
		}
	}
	return nil, false
}

// Peers returns the attached endpoints in join order.
func (h *Hub) Peers() []*Endpoint {
	out := make([]*Endpoint, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.peers[id])
	}
	return out
}

// Claim makes peer the owner of entity.
func (h *Hub) Claim(entity ecs.EntityID, peer PeerID) error {
	if _, ok := h.peers[peer]; !ok {
		return fmt.Errorf("claim %s: unknown peer %d", entity, peer)
	}
	if owner, ok := h.owners[entity]; ok && owner != peer {
		return fmt.Errorf("claim %s: owned by peer %d", entity, owner)
	}
	h.owners[entity] = peer
	return nil
}

// Owner returns the owning peer of entity.
func (h *Hub) Owner(entity ecs.EntityID) (PeerID, bool) {
	p, ok := h.owners[entity]
	return p, ok
}

// Forget drops ownership and the replicated value of entity.
func (h *Hub) Forget(entity ecs.EntityID) {
	delete(h.owners, entity)
	delete(h.latest, entity)
}

// Latest returns the current replicated value of entity.
func (h *Hub) Latest(entity ecs.EntityID) ([]byte, bool) {
	msg, ok := h.latest[entity]
	return msg, ok
}

// Dropped returns how many mirror deliveries were lost.
func (h *Hub) Dropped() uint64 { return h.dropped }

// Route forwards a message received from a remote peer according to its
// opcode.
func (h *Hub) Route(from PeerID, data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("message too short: %d bytes", len(data))
	}
	entity := packet.NewReader(data).ReadEntity()
	switch op := data[0]; op {
	case packet.OpSnapshotUpdate:
		return h.publish(from, entity, data)
	case packet.OpMirrorActivate, packet.OpMirrorDeactivate, packet.OpMirrorInvoke, packet.OpMirrorCancel:
		return h.mirror(from, entity, data)
	case packet.OpPersistRelay:
		return h.toOwner(from, entity, data)
	default:
		return fmt.Errorf("unroutable opcode %d", op)
	}
}

// publish stores the owner's value and delivers it reliably to every other
// peer. Only the owner may write.
func (h *Hub) publish(from PeerID, entity ecs.EntityID, msg []byte) error {
	if owner, ok := h.owners[entity]; !ok || owner != from {
		return fmt.Errorf("snapshot for %s from non-owner peer %d", entity, from)
	}
	msg = append([]byte(nil), msg...)
	h.latest[entity] = msg
	h.broadcast(from, msg, false)
	return nil
}

func (h *Hub) mirror(from PeerID, entity ecs.EntityID, msg []byte) error {
	if owner, ok := h.owners[entity]; !ok || owner != from {
		return fmt.Errorf("mirror for %s from non-owner peer %d", entity, from)
	}
	h.broadcast(from, append([]byte(nil), msg...), true)
	return nil
}

func (h *Hub) toOwner(from PeerID, entity ecs.EntityID, msg []byte) error {
	owner, ok := h.owners[entity]
	if !ok {
		return fmt.Errorf("no owner for %s", entity)
	}
	ep := h.peers[owner]
	if ep == nil {
		return fmt.Errorf("owner peer %d of %s is gone", owner, entity)
	}
	h.deliver(ep, Delivery{From: from, Data: append([]byte(nil), msg...)})
	return nil
}

func (h *Hub) broadcast(from PeerID, msg []byte, unreliable bool) {
	for _, id := range h.order {
		if id == from {
			continue
		}
		if unreliable && h.dropRate > 0 && h.rng.Float64() < h.dropRate {
			h.dropped++
			continue
		}
		h.deliver(h.peers[id], Delivery{From: from, Data: msg})
	}
}

func (h *Hub) deliver(ep *Endpoint, d Delivery) {
	if ep.remote != nil {
		ep.remote.Send(d.Data)
		return
	}
	ep.inbox = append(ep.inbox, d)
}

// PublishSnapshot implements the ability transport.
func (e *Endpoint) PublishSnapshot(entity ecs.EntityID, msg []byte) {
	if err := e.hub.publish(e.id, entity, msg); err != nil {
		e.hub.log.Warn("snapshot rejected", zap.Error(err))
	}
}

// Mirror implements the ability transport.
func (e *Endpoint) Mirror(entity ecs.EntityID, msg []byte) {
	if err := e.hub.mirror(e.id, entity, msg); err != nil {
		e.hub.log.Warn("mirror rejected", zap.Error(err))
	}
}

// SendToOwner implements the ability transport.
func (e *Endpoint) SendToOwner(entity ecs.EntityID, msg []byte) {
	if err := e.hub.toOwner(e.id, entity, msg); err != nil {
		e.hub.log.Warn("owner message undeliverable", zap.Error(err))
	}
}

// Drain returns and clears the local inbox.
func (e *Endpoint) Drain() []Delivery {
	out := e.inbox
	e.inbox = nil
	return out
}

// Pending reports how many deliveries wait in the inbox.
func (e *Endpoint) Pending() int { return len(e.inbox) }
