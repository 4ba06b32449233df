package ability

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// Registry is the bijective key ↔ id ↔ Ability database. It also drives one
// tick per frame for every ability whose hooks implement Ticker while at
// least one entity holds it.
type Registry struct {
	log   *zap.Logger
	byKey map[string]*Ability
	byID  map[uint16]*Ability

	tickRefs map[uint16]int
	tickList []*Ability
}

func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log,
		byKey:    make(map[string]*Ability, 32),
		byID:     make(map[uint16]*Ability, 32),
		tickRefs: make(map[uint16]int),
	}
}

// Register finalizes a: reserves its fixed ID when free, otherwise assigns the
// lowest free ID starting at 1. A failed registration is logged and leaves the
// ability permanently disabled; the error is returned for the caller's records.
func (r *Registry) Register(a *Ability) error {
	if a == nil {
		r.log.Debug("register called with nil ability", zap.Stack("stack"))
		return ErrUnknownAbility
	}
	if a.registered {
		if r.byID[a.id] == a {
			return nil
		}
		r.log.Error("ability registration failed: held by another registry",
			zap.String("key", a.key),
			zap.Uint16("id", a.id),
		)
		return fmt.Errorf("%w: %q", ErrForeignRegistry, a.key)
	}
	if a.key == "" {
		a.disable(ErrInvalidKey)
		r.log.Error("ability registration failed: empty key")
		return ErrInvalidKey
	}
	if prev, ok := r.byKey[a.key]; ok {
		err := fmt.Errorf("%w: %q (held by id %d)", ErrDuplicateKey, a.key, prev.id)
		a.disable(err)
		r.log.Error("ability registration failed",
			zap.String("key", a.key),
			zap.Uint16("existing_id", prev.id),
			zap.Error(err),
		)
		return err
	}
	if a.action != nil && a.action.AnimParam == "" {
		err := fmt.Errorf("%w: %q", ErrMissingActionParams, a.key)
		a.disable(err)
		r.log.Error("ability registration failed", zap.String("key", a.key), zap.Error(err))
		return err
	}

	id := a.fixedID
	if id != 0 {
		if holder, taken := r.byID[id]; taken {
			r.log.Warn("fixed ability id taken, allocating",
				zap.String("key", a.key),
				zap.Uint16("fixed_id", id),
				zap.String("holder", holder.key),
			)
			id = 0
		}
	}
	if id == 0 {
		var ok bool
		if id, ok = r.nextFreeID(); !ok {
			err := fmt.Errorf("%w for %q", ErrNoFreeID, a.key)
			a.disable(err)
			r.log.Error("ability registration failed", zap.String("key", a.key), zap.Error(err))
			return err
		}
	}

	a.id = id
	a.registered = true
	r.byKey[a.key] = a
	r.byID[id] = a
	a.hooks.OnInitialize(a)

	r.log.Debug("ability registered",
		zap.String("key", a.key),
		zap.Uint16("id", id),
		zap.Stringer("kind", a.Kind()),
	)
	return nil
}

// RegisterAll registers every ability with a fixed ID first, then the rest,
// so allocation never steals a declared ID. Failures are joined.
func (r *Registry) RegisterAll(abilities []*Ability) error {
	var errs []error
	for _, a := range abilities {
		if a != nil && a.fixedID != 0 {
			if err := r.Register(a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, a := range abilities {
		if a == nil || a.fixedID == 0 {
			if err := r.Register(a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) nextFreeID() (uint16, bool) {
	for id := uint32(1); id <= math.MaxUint16; id++ {
		if _, taken := r.byID[uint16(id)]; !taken {
			return uint16(id), true
		}
	}
	return 0, false
}

// ByKey returns the ability registered under key.
func (r *Registry) ByKey(key string) (*Ability, bool) {
	a, ok := r.byKey[key]
	return a, ok
}

// ByID returns the ability registered under id.
func (r *Registry) ByID(id uint16) (*Ability, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// All returns every registered ability ordered by ID.
func (r *Registry) All() []*Ability {
	out := make([]*Ability, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (r *Registry) Count() int {
	return len(r.byID)
}

// Tick runs one frame for every subscribed ticking ability.
func (r *Registry) Tick(dt float32) {
	list := append([]*Ability(nil), r.tickList...)
	for _, a := range list {
		a.hooks.(Ticker).Tick(a, dt)
	}
}

// Ticking reports whether a is currently in the tick list.
func (r *Registry) Ticking(a *Ability) bool {
	return a != nil && r.tickRefs[a.id] > 0
}

func (r *Registry) retain(a *Ability) {
	if _, ok := a.hooks.(Ticker); !ok {
		return
	}
	r.tickRefs[a.id]++
	if r.tickRefs[a.id] == 1 {
		r.tickList = append(r.tickList, a)
	}
}

func (r *Registry) release(a *Ability) {
	n, ok := r.tickRefs[a.id]
	if !ok {
		return
	}
	if n > 1 {
		r.tickRefs[a.id] = n - 1
		return
	}
	delete(r.tickRefs, a.id)
	for i, t := range r.tickList {
		if t == a {
			r.tickList = append(r.tickList[:i], r.tickList[i+1:]...)
			break
		}
	}
}
