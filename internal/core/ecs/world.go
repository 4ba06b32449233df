package ecs

// World owns the entity pool and a deferred destruction queue flushed by
// CleanupSystem at the end of each tick. Stores register a release callback
// so destroyed entities give back their components.
type World struct {
	pool         *EntityPool
	releasers    []func(EntityID)
	destroyQueue []EntityID
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		destroyQueue: make([]EntityID, 0, 16),
	}
}

func (w *World) Pool() *EntityPool { return w.pool }

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// OnDestroy registers fn to run for every entity flushed from the queue.
// Callbacks run in registration order.
func (w *World) OnDestroy(fn func(EntityID)) {
	w.releasers = append(w.releasers, fn)
}

// MarkForDestruction queues an entity for end-of-tick cleanup.
func (w *World) MarkForDestruction(id EntityID) {
	w.destroyQueue = append(w.destroyQueue, id)
}

// FlushDestroyQueue releases every queued entity once. Entities mirrored from
// another peer were never allocated from this pool; they are released too.
func (w *World) FlushDestroyQueue() {
	seen := make(map[EntityID]struct{}, len(w.destroyQueue))
	for _, id := range w.destroyQueue {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, fn := range w.releasers {
			fn(id)
		}
		w.pool.Destroy(id)
	}
	w.destroyQueue = w.destroyQueue[:0]
}
