package system

import (
	"time"

	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/world"
)

// CleanupSystem flushes the deferred entity destruction queue at tick end,
// releasing every replica's abilities. Phase 6 (Cleanup).
type CleanupSystem struct {
	world *world.State
}

func NewCleanupSystem(ws *world.State) *CleanupSystem {
	return &CleanupSystem{world: ws}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.world.ECS().FlushDestroyQueue()
}
