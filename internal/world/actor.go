package world

import (
	"github.com/abilitynet/abilityd/internal/ability"
	"github.com/abilitynet/abilityd/internal/core/ecs"
	"github.com/abilitynet/abilityd/internal/core/event"
	"github.com/abilitynet/abilityd/internal/net"
)

// Actor is one peer's replica of a player entity.
// Accessed only from the game loop goroutine; no locks needed.
type Actor struct {
	ID      ecs.EntityID
	Name    string
	Build   string
	SaveKey string // persistence key, owner replica only
	Peer    net.PeerID

	owner  bool
	server bool
	stats  map[string]float64

	Abilities *ability.PlayerHandler
	Anim      *ClipAnimator

	reloading   bool
	dodging     bool
	blocked     bool
	staggerLeft float32 // seconds of stagger remaining
	Dead        bool
}

func (a *Actor) EntityID() ecs.EntityID { return a.ID }
func (a *Actor) IsOwner() bool          { return a.owner }
func (a *Actor) IsServer() bool         { return a.server }

func (a *Actor) Stat(name string) float64 { return a.stats[name] }

// Stats returns the live stat map. Callers must not modify it.
func (a *Actor) Stats() map[string]float64 { return a.stats }

// SetStat changes one stat. Scripted caps see the new value on their next query.
func (a *Actor) SetStat(name string, v float64) { a.stats[name] = v }

func (a *Actor) Reloading() bool        { return a.reloading }
func (a *Actor) Staggered() bool        { return a.staggerLeft > 0 }
func (a *Actor) Dodging() bool          { return a.dodging }
func (a *Actor) AbilitiesBlocked() bool { return a.blocked || a.Dead }

func (a *Actor) SetReloading(v bool)        { a.reloading = v }
func (a *Actor) SetDodging(v bool)          { a.dodging = v }
func (a *Actor) SetAbilitiesBlocked(v bool) { a.blocked = v }

// Stagger interrupts the current clip for d seconds.
func (a *Actor) Stagger(d float32) {
	if d > a.staggerLeft {
		a.staggerLeft = d
	}
	a.Anim.Stop()
}

// Tick advances the replica's local timers.
func (a *Actor) Tick(dt float32) {
	if a.staggerLeft > 0 {
		a.staggerLeft -= dt
		if a.staggerLeft < 0 {
			a.staggerLeft = 0
		}
	}
	a.Anim.Tick(dt)
}

// ClipSource resolves animation parameters to clip durations.
type ClipSource interface {
	Clip(param string) (float32, bool)
}

// ClipAnimator plays action clips for one replica and emits an
// ActionKeyframe event when a clip reaches its effect frame.
type ClipAnimator struct {
	entity ecs.EntityID
	peer   net.PeerID
	clips  ClipSource
	bus    *event.Bus

	playing   string
	remaining float32
	active    bool
}

func NewClipAnimator(entity ecs.EntityID, peer net.PeerID, clips ClipSource, bus *event.Bus) *ClipAnimator {
	return &ClipAnimator{entity: entity, peer: peer, clips: clips, bus: bus}
}

// ResolveAction looks up the clip for param.
func (c *ClipAnimator) ResolveAction(param string) (ability.ActionParams, bool) {
	if c.clips == nil {
		return ability.ActionParams{}, false
	}
	d, ok := c.clips.Clip(param)
	if !ok {
		return ability.ActionParams{}, false
	}
	return ability.ActionParams{Param: param, Duration: d}, true
}

// TriggerAction starts the clip, replacing any clip in progress.
func (c *ClipAnimator) TriggerAction(p ability.ActionParams) {
	c.playing = p.Param
	c.remaining = p.Duration
	c.active = true
}

// Tick advances the clip and emits the keyframe when it ends.
func (c *ClipAnimator) Tick(dt float32) {
	if !c.active {
		return
	}
	c.remaining -= dt
	if c.remaining > 0 {
		return
	}
	c.active = false
	event.Emit(c.bus, event.ActionKeyframe{EntityID: c.entity, Peer: uint32(c.peer), Param: c.playing})
}

// Stop abandons the clip without a keyframe.
func (c *ClipAnimator) Stop() {
	c.active = false
	c.playing = ""
}

// Playing returns the parameter of the clip in progress.
func (c *ClipAnimator) Playing() (string, bool) {
	return c.playing, c.active
}
