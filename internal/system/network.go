package system

import (
	"time"

	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/world"
	"go.uber.org/zap"
)

// maxInboxPasses bounds how often local inboxes are re-drained in one tick
// when applying a message produces traffic for another local peer.
const maxInboxPasses = 4

// NetworkSystem applies pending hub deliveries on every local peer and
// flushes buffered output to remote sessions. Phase 4 (Output).
type NetworkSystem struct {
	world       *world.State
	log         *zap.Logger
	lastDropped uint64
}

func NewNetworkSystem(ws *world.State, log *zap.Logger) *NetworkSystem {
	return &NetworkSystem{world: ws, log: log}
}

func (s *NetworkSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *NetworkSystem) Update(_ time.Duration) {
	for pass := 0; pass < maxInboxPasses; pass++ {
		applied := 0
		for _, p := range s.world.Peers() {
			applied += p.ProcessInbox()
		}
		if applied == 0 {
			break
		}
	}

	hub := s.world.Hub()
	for _, ep := range hub.Peers() {
		if sess := ep.Remote(); sess != nil {
			sess.FlushOutput()
		}
	}
	if d := hub.Dropped(); d != s.lastDropped {
		s.log.Debug("mirror messages dropped", zap.Uint64("total", d), zap.Uint64("new", d-s.lastDropped))
		s.lastDropped = d
	}
}
