package system

import (
	"context"
	"time"

	"github.com/abilitynet/abilityd/internal/ability"
	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/persist"
	"github.com/abilitynet/abilityd/internal/world"
	"go.uber.org/zap"
)

const saveTimeout = 5 * time.Second

// batchStore writes several saves in one transaction.
type batchStore interface {
	SaveBatch(ctx context.Context, entries []persist.SaveEntry) error
}

// PersistenceSystem periodically saves every owned player's abilities.
// Phase 5 (Persist).
type PersistenceSystem struct {
	world     *world.State
	store     ability.Store
	log       *zap.Logger
	tickCount int
	interval  int // autosave every N ticks; 0 disables autosave
}

func NewPersistenceSystem(ws *world.State, store ability.Store, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	return &PersistenceSystem{
		world:    ws,
		store:    store,
		log:      log,
		interval: intervalTicks,
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	if s.store == nil || s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.save("autosave")
}

// SaveAll persists every owned player immediately. Called for graceful
// shutdown.
func (s *PersistenceSystem) SaveAll() {
	if s.store == nil {
		return
	}
	s.save("shutdown")
}

// LoadAll restores every owned player's saved abilities. A player without a
// save keeps its loadout.
func (s *PersistenceSystem) LoadAll(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.world.OwnedActors(func(a *world.Actor) {
		if a.SaveKey == "" {
			return
		}
		if err := a.Abilities.LoadFrom(ctx, s.store, a.SaveKey, nil); err != nil {
			s.log.Error("load abilities failed", zap.String("player", a.Name), zap.Error(err))
		}
	})
}

func (s *PersistenceSystem) save(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if bs, ok := s.store.(batchStore); ok {
		var entries []persist.SaveEntry
		s.world.OwnedActors(func(a *world.Actor) {
			if a.SaveKey == "" {
				return
			}
			entries = append(entries, persist.SaveEntry{Key: a.SaveKey, Data: a.Abilities.Save(), Reason: reason})
		})
		if len(entries) == 0 {
			return
		}
		if err := bs.SaveBatch(ctx, entries); err != nil {
			s.log.Error("ability save failed", zap.String("reason", reason), zap.Error(err))
			return
		}
		s.log.Debug("abilities saved", zap.String("reason", reason), zap.Int("players", len(entries)))
		return
	}

	count := 0
	s.world.OwnedActors(func(a *world.Actor) {
		if a.SaveKey == "" {
			return
		}
		if err := a.Abilities.SaveTo(ctx, s.store, a.SaveKey); err != nil {
			s.log.Error("ability save failed", zap.String("player", a.Name), zap.Error(err))
			return
		}
		count++
	})
	s.log.Debug("abilities saved", zap.String("reason", reason), zap.Int("players", count))
}
