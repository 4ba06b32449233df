package event

import "github.com/abilitynet/abilityd/internal/core/ecs"

// Lifecycle signals raised by the entity and animation systems.

type EntityDied struct {
	EntityID ecs.EntityID
}

// EntityStaggered aborts any in-flight action ability window.
type EntityStaggered struct {
	EntityID ecs.EntityID
	Duration float32 // seconds
}

// ActionKeyframe fires when a gated action clip reaches its effect frame on
// one peer's replica of the entity.
type ActionKeyframe struct {
	EntityID ecs.EntityID
	Peer     uint32
	Param    string
}
