package world

import (
	"fmt"
	"sort"

	"github.com/abilitynet/abilityd/internal/ability"
	"github.com/abilitynet/abilityd/internal/core/ecs"
	"github.com/abilitynet/abilityd/internal/core/event"
	"github.com/abilitynet/abilityd/internal/data"
	"github.com/abilitynet/abilityd/internal/net"
	"go.uber.org/zap"
)

// Options configures a State.
type Options struct {
	Registry   *ability.Registry
	Catalog    *data.AbilityTable
	Hub        *net.Hub
	Bus        *event.Bus
	RegenRate  float32 // passive charge progress per second
	TimeScale  float32
	VerboseLag bool
	Log        *zap.Logger
}

// spawn is the peer-independent description of a spawned player.
type spawn struct {
	id      ecs.EntityID
	name    string
	build   string
	saveKey string
	owner   net.PeerID
	stats   map[string]float64
}

// State holds every local peer and its replicas.
// Accessed only from the game loop goroutine; no locks needed.
type State struct {
	ecs     *ecs.World
	reg     *ability.Registry
	catalog *data.AbilityTable
	hub     *net.Hub
	bus     *event.Bus
	log     *zap.Logger

	regenRate  float32
	timeScale  float32
	verboseLag bool

	peers    map[net.PeerID]*Peer
	peerList []*Peer
	spawns   map[ecs.EntityID]*spawn
	order    []ecs.EntityID
	commands []Command
}

func NewState(opts Options) *State {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &State{
		ecs:        ecs.NewWorld(),
		reg:        opts.Registry,
		catalog:    opts.Catalog,
		hub:        opts.Hub,
		bus:        opts.Bus,
		log:        log,
		regenRate:  opts.RegenRate,
		timeScale:  opts.TimeScale,
		verboseLag: opts.VerboseLag,
		peers:      make(map[net.PeerID]*Peer),
		spawns:     make(map[ecs.EntityID]*spawn),
	}
	if s.reg == nil {
		s.reg = ability.NewRegistry(log)
	}
	if s.hub == nil {
		s.hub = net.NewHub(log)
	}
	if s.bus == nil {
		s.bus = event.NewBus()
	}
	if s.timeScale <= 0 {
		s.timeScale = 1
	}
	s.ecs.OnDestroy(s.release)
	return s
}

func (s *State) ECS() *ecs.World             { return s.ecs }
func (s *State) Registry() *ability.Registry { return s.reg }
func (s *State) Hub() *net.Hub               { return s.hub }
func (s *State) Bus() *event.Bus             { return s.bus }
func (s *State) Catalog() *data.AbilityTable { return s.catalog }
func (s *State) TimeScale() float32          { return s.timeScale }
func (s *State) SetTimeScale(v float32)      { s.timeScale = v }

// AddPeer attaches a new local peer and gives it an observer replica of every
// existing entity. The hub queues the current replicated values, applied on
// the next inbox pass.
func (s *State) AddPeer() *Peer {
	p := newPeer(s.hub.Join(), s.log)
	s.peers[p.ID] = p
	s.peerList = append(s.peerList, p)
	for _, id := range s.order {
		sp := s.spawns[id]
		a := s.newReplica(p, sp)
		s.bindObserver(a, sp)
	}
	return p
}

// RemovePeer detaches a local or remote peer. Entities it owned are queued
// for destruction.
func (s *State) RemovePeer(id net.PeerID) {
	if p, ok := s.peers[id]; ok {
		p.EachActor(func(a *Actor) { a.Abilities.Release() })
		delete(s.peers, id)
		for i, x := range s.peerList {
			if x == p {
				s.peerList = append(s.peerList[:i], s.peerList[i+1:]...)
				break
			}
		}
	}
	orphans := s.hub.Leave(id)
	for _, entity := range orphans {
		s.ecs.MarkForDestruction(entity)
	}
	if len(orphans) > 0 {
		s.log.Info("peer left, despawning owned entities",
			zap.Uint32("peer", uint32(id)),
			zap.Int("entities", len(orphans)),
		)
	}
}

// Peer returns a local peer by ID.
func (s *State) Peer(id net.PeerID) (*Peer, bool) {
	p, ok := s.peers[id]
	return p, ok
}

// Peers returns local peers in join order.
func (s *State) Peers() []*Peer {
	return append([]*Peer(nil), s.peerList...)
}

// Spawn creates a player owned by owner with the given build's loadout, and
// an observer replica on every other local peer.
func (s *State) Spawn(owner *Peer, name, build string, stats map[string]float64) (*Actor, error) {
	if owner == nil || s.peers[owner.ID] != owner {
		return nil, fmt.Errorf("spawn %s: unknown owner peer", name)
	}
	var slots [ability.SlotCount]string
	if build != "" {
		if s.catalog == nil || s.catalog.Loadout(build) == nil {
			return nil, fmt.Errorf("spawn %s: unknown build %q", name, build)
		}
		slots = s.catalog.Loadout(build).Slots
	}

	id := s.ecs.CreateEntity()
	if err := s.hub.Claim(id, owner.ID); err != nil {
		s.ecs.MarkForDestruction(id)
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	if stats == nil {
		stats = map[string]float64{}
	}
	sp := &spawn{id: id, name: name, build: build, saveKey: name, owner: owner.ID, stats: stats}
	s.spawns[id] = sp
	s.order = append(s.order, id)

	var ownerActor *Actor
	for _, p := range s.peerList {
		a := s.newReplica(p, sp)
		if p == owner {
			ownerActor = a
			continue
		}
		s.bindObserver(a, sp)
	}
	if err := ownerActor.Abilities.BindKeys(slots); err != nil {
		s.Despawn(id)
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	s.log.Info("player spawned",
		zap.String("name", name),
		zap.String("build", build),
		zap.Stringer("entity", id),
		zap.Uint32("owner", uint32(owner.ID)),
	)
	return ownerActor, nil
}

func (s *State) newReplica(p *Peer, sp *spawn) *Actor {
	a := &Actor{
		ID:    sp.id,
		Name:  sp.name,
		Build: sp.build,
		Peer:  p.ID,
		owner: p.ID == sp.owner,
		stats: make(map[string]float64, len(sp.stats)),
	}
	for k, v := range sp.stats {
		a.stats[k] = v
	}
	if a.owner {
		a.SaveKey = sp.saveKey
	}
	var clips ClipSource
	if s.catalog != nil {
		clips = s.catalog
	}
	a.Anim = NewClipAnimator(sp.id, p.ID, clips, s.bus)
	a.Abilities = ability.NewPlayerHandler(a, ability.PlayerOptions{
		Options: ability.Options{
			Registry:   s.reg,
			Transport:  p.Endpoint,
			Animator:   a.Anim,
			Log:        p.log,
			VerboseLag: s.verboseLag,
		},
		Equipment: a,
		Blocker:   a,
		RegenRate: s.regenRate,
		TimeScale: s.TimeScale,
	})
	p.actors.Set(sp.id, a)
	return a
}

// bindObserver records the slot mapping on an observer; its abilities arrive
// through replication.
func (s *State) bindObserver(a *Actor, sp *spawn) {
	if sp.build == "" || s.catalog == nil {
		return
	}
	if err := a.Abilities.BindKeys(s.catalog.Loadout(sp.build).Slots); err != nil {
		s.log.Warn("observer bind failed", zap.Stringer("entity", sp.id), zap.Error(err))
	}
}

// Rebind switches entity to another build's loadout. The owner regrants its
// abilities; observers update their slot mapping.
func (s *State) Rebind(entity ecs.EntityID, build string) error {
	sp, ok := s.spawns[entity]
	if !ok {
		return fmt.Errorf("rebind %s: not spawned", entity)
	}
	if s.catalog == nil || s.catalog.Loadout(build) == nil {
		return fmt.Errorf("rebind %s: unknown build %q", entity, build)
	}
	sp.build = build
	for _, a := range s.Replicas(entity) {
		a.Build = build
		if err := a.Abilities.BindKeys(s.catalog.Loadout(build).Slots); err != nil {
			return fmt.Errorf("rebind %s: %w", entity, err)
		}
	}
	return nil
}

// Revive clears the dead flag on every replica of entity.
func (s *State) Revive(entity ecs.EntityID) {
	for _, a := range s.Replicas(entity) {
		a.Dead = false
	}
}

// Despawn queues entity for destruction at the end of the tick.
func (s *State) Despawn(entity ecs.EntityID) {
	s.ecs.MarkForDestruction(entity)
}

func (s *State) release(entity ecs.EntityID) {
	for _, p := range s.peerList {
		if a, ok := p.actors.Get(entity); ok {
			a.Abilities.Release()
			p.actors.Remove(entity)
		}
	}
	s.hub.Forget(entity)
	if _, ok := s.spawns[entity]; ok {
		delete(s.spawns, entity)
		for i, id := range s.order {
			if id == entity {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// OwnerActor returns the owning replica of entity.
func (s *State) OwnerActor(entity ecs.EntityID) (*Actor, bool) {
	sp, ok := s.spawns[entity]
	if !ok {
		return nil, false
	}
	p, ok := s.peers[sp.owner]
	if !ok {
		return nil, false
	}
	return p.Actor(entity)
}

// Replicas returns every local replica of entity, in peer join order.
func (s *State) Replicas(entity ecs.EntityID) []*Actor {
	var out []*Actor
	for _, p := range s.peerList {
		if a, ok := p.Actor(entity); ok {
			out = append(out, a)
		}
	}
	return out
}

// AllActors calls fn for every replica on every peer.
func (s *State) AllActors(fn func(*Actor)) {
	for _, p := range s.peerList {
		p.EachActor(fn)
	}
}

// OwnedActors calls fn for every owning replica, sorted by save key.
func (s *State) OwnedActors(fn func(*Actor)) {
	var owned []*Actor
	s.AllActors(func(a *Actor) {
		if a.owner {
			owned = append(owned, a)
		}
	})
	sort.Slice(owned, func(i, j int) bool { return owned[i].SaveKey < owned[j].SaveKey })
	for _, a := range owned {
		fn(a)
	}
}

// EntityByName returns the entity spawned under name.
func (s *State) EntityByName(name string) (ecs.EntityID, bool) {
	for _, id := range s.order {
		if s.spawns[id].name == name {
			return id, true
		}
	}
	return 0, false
}

// SpawnCount returns the number of live spawned entities.
func (s *State) SpawnCount() int {
	return len(s.order)
}
