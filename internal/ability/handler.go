package ability

import (
	"github.com/abilitynet/abilityd/internal/core/ecs"
	"go.uber.org/zap"
)

// Transport is the peer fabric a handler publishes through.
type Transport interface {
	// PublishSnapshot writes the entity's owner-write, everyone-read
	// replicated value.
	PublishSnapshot(entity ecs.EntityID, msg []byte)
	// Mirror sends a best-effort message to every observer.
	Mirror(entity ecs.EntityID, msg []byte)
	// SendToOwner sends a reliable message to the entity's owning peer.
	SendToOwner(entity ecs.EntityID, msg []byte)
}

// ActionParams are the resolved animation parameters of an action ability.
type ActionParams struct {
	Param    string
	Duration float32
}

// Animator is the equipment/animation side of action abilities. The
// animation system later reports the effect keyframe by calling
// Handler.ActivateQueuedAbility, or aborts with Handler.EndQueuedAbility.
type Animator interface {
	ResolveAction(param string) (ActionParams, bool)
	TriggerAction(p ActionParams)
}

// Options configures a Handler.
type Options struct {
	Registry  *Registry
	Transport Transport
	Animator  Animator
	Log       *zap.Logger
	// VerboseLag logs operations on locally absent abilities, which are
	// normally silent.
	VerboseLag bool
}

// Handler is the per-entity ability state machine. All methods run on the
// tick goroutine.
type Handler struct {
	entity     Entity
	reg        *Registry
	transport  Transport
	animator   Animator
	log        *zap.Logger
	verboseLag bool

	states stateList
	active map[uint16]bool
	queued *Ability
	bus    *CallbackBus

	published    []State
	hasPublished bool
	dirty        bool
}

func NewHandler(e Entity, opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Stringer("entity", e.EntityID()))
	transport := opts.Transport
	if transport == nil {
		transport = nopTransport{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry(log)
	}
	return &Handler{
		entity:     e,
		reg:        reg,
		transport:  transport,
		animator:   opts.Animator,
		log:        log,
		verboseLag: opts.VerboseLag,
		active:     make(map[uint16]bool),
		bus:        newCallbackBus(log),
	}
}

func (h *Handler) Entity() Entity          { return h.entity }
func (h *Handler) Registry() *Registry     { return h.reg }
func (h *Handler) Callbacks() *CallbackBus { return h.bus }
func (h *Handler) QueuedAbility() *Ability { return h.queued }
func (h *Handler) isOwner() bool           { return h.entity.IsOwner() }

// States returns a copy of the assigned abilities in assignment order.
func (h *Handler) States() []State {
	return h.states.snapshot()
}

// State returns the assigned state of a.
func (h *Handler) State(a *Ability) (State, bool) {
	if a == nil {
		return State{}, false
	}
	return h.states.get(a.id)
}

func (h *Handler) Has(a *Ability) bool {
	_, ok := h.State(a)
	return ok
}

func (h *Handler) IsActive(a *Ability) bool {
	return a != nil && h.active[a.id]
}

// Grant assigns a with full charges and no cooldown unless already assigned.
func (h *Handler) Grant(a *Ability) {
	if a == nil {
		h.logNil("Grant")
		return
	}
	if h.Has(a) {
		return
	}
	h.AddOrSetAbility(FullState(a, h.entity), false, false)
}

// AddOrSetAbility upserts st by ability ID. New entries fire OnAdded; existing
// entries are overwritten in place, which is how replicated and persisted
// snapshots are reconciled.
func (h *Handler) AddOrSetAbility(st State, auxOnly, lateJoin bool) {
	a := st.Ability
	if a == nil {
		h.logNil("AddOrSetAbility")
		return
	}
	prev, exists := h.states.get(a.id)
	h.states.put(st)
	if exists {
		if h.isOwner() && a.flags.AutoNetSync && !prev.Approx(st) {
			h.dirty = true
		}
		h.commit()
		return
	}

	h.reg.retain(a)
	a.hooks.OnAdded(h, a, auxOnly, lateJoin)
	if h.isOwner() && a.flags.AutoNetSync {
		h.dirty = true
	}
	h.commit()
}

// RemoveAbility unassigns a. An active ability is deactivated first and a
// queued one is cancelled, so hook calls always pair up.
func (h *Handler) RemoveAbility(a *Ability, auxOnly, lateJoin bool) {
	if a == nil {
		h.logNil("RemoveAbility")
		return
	}
	if !h.Has(a) {
		h.logLag("remove of unassigned ability", a)
		return
	}
	if h.queued == a {
		h.EndQueuedAbility()
	}
	if h.active[a.id] {
		h.deactivate(a, auxOnly || !h.isOwner())
	}

	h.states.remove(a.id)
	h.reg.release(a)
	a.hooks.OnRemoved(h, a, auxOnly, lateJoin)
	if h.isOwner() && a.flags.AutoNetSync {
		h.dirty = true
	}
	h.commit()
}

// ClearAbilities removes every assigned ability as one batch.
func (h *Handler) ClearAbilities(auxOnly bool) {
	h.removeWhere(func(State) bool { return true }, auxOnly)
}

// OnDeath purges every remove-on-death ability as one locked batch. A
// non-owner only purges abilities that are not replicated; the replicated
// ones leave with the owner's next snapshot.
func (h *Handler) OnDeath() {
	owner := h.isOwner()
	h.removeWhere(func(st State) bool {
		f := st.Ability.flags
		return f.RemoveOnDeath && (owner || !f.AutoNetSync)
	}, !owner)
}

func (h *Handler) removeWhere(match func(State) bool, auxOnly bool) {
	victims := h.states.snapshot()
	h.states.lock()
	for _, st := range victims {
		if match(st) {
			h.RemoveAbility(st.Ability, auxOnly, false)
		}
	}
	h.states.unlock()
	h.commit()
}

// ActivateAbility runs a. Only the owner initiates authoritative execution.
// Instant abilities activate and deactivate in the same call; action
// abilities are queued until the animation reaches its effect keyframe.
func (h *Handler) ActivateAbility(a *Ability) bool {
	if a == nil {
		h.logNil("ActivateAbility")
		return false
	}
	if a.disabled {
		h.log.Debug("activate of disabled ability", zap.String("ability", a.key), zap.Error(a.disableErr))
		return false
	}
	if !h.isOwner() {
		h.log.Debug("activate ignored on non-owner", zap.String("ability", a.key))
		return false
	}
	if a.IsAction() {
		return h.invoke(a)
	}
	return h.activateNow(a, false)
}

func (h *Handler) invoke(a *Ability) bool {
	if !h.Has(a) {
		h.logLag("invoke of unassigned ability", a)
		return false
	}
	var params ActionParams
	ok := false
	if h.animator != nil {
		params, ok = h.animator.ResolveAction(a.action.AnimParam)
	}
	if !ok {
		a.disable(ErrMissingActionParams)
		h.log.Error("action ability has no animation parameters, disabling",
			zap.String("ability", a.key),
			zap.String("param", a.action.AnimParam),
		)
		return false
	}

	if h.queued != nil && h.queued != a {
		h.log.Debug("queued action ability replaced",
			zap.String("previous", h.queued.key),
			zap.String("ability", a.key),
		)
	}
	h.queued = a
	if ah, ok := a.actionHooks(); ok {
		ah.OnInvoked(h, a, false)
	}
	h.bus.publish(Event{Kind: EventInvoked, Handler: h, Ability: a})
	h.animator.TriggerAction(params)
	h.mirror(opMirrorInvoke, a)
	return true
}

// ActivateQueuedAbility is the effect-keyframe signal of the animation
// system: it clears the queue and runs the activation, authoritative only on
// the owner.
func (h *Handler) ActivateQueuedAbility() bool {
	a := h.queued
	if a == nil {
		h.log.Debug("keyframe with no queued ability")
		return false
	}
	h.queued = nil
	return h.activateNow(a, !h.isOwner())
}

// EndQueuedAbility aborts the action window without running gameplay effects.
func (h *Handler) EndQueuedAbility() {
	a := h.queued
	if a == nil {
		return
	}
	h.queued = nil
	aux := !h.isOwner()
	if ah, ok := a.actionHooks(); ok {
		ah.OnCancelled(h, a, aux)
	}
	h.bus.publish(Event{Kind: EventCancelled, Handler: h, Ability: a, AuxOnly: aux})
	if !aux {
		h.mirror(opMirrorCancel, a)
	}
}

// activateNow runs the activation of an assigned ability. With auxOnly only
// the cosmetic hooks fire; otherwise the charge economy is applied, one
// snapshot is pushed and observers get a low-latency mirror.
func (h *Handler) activateNow(a *Ability, auxOnly bool) bool {
	st, ok := h.states.get(a.id)
	if !ok {
		h.logLag("activate of unassigned ability", a)
		return false
	}

	h.activate(a, auxOnly)
	if a.flags.Instant {
		h.deactivate(a, auxOnly)
	}
	if auxOnly {
		return true
	}

	if a.flags.AutoChargeDecrement {
		h.states.put(h.spendCharge(st))
		if a.flags.AutoNetSync {
			h.dirty = true
		}
		h.bus.publish(Event{Kind: EventChargeDecremented, Handler: h, Ability: a})
	}
	h.flush()
	if !a.IsAction() || a.action.SyncActivation {
		h.mirror(opMirrorActivate, a)
	}
	return true
}

// spendCharge resets the cooldown and consumes one charge. Progress is only
// zeroed for abilities without a cooldown.
func (h *Handler) spendCharge(st State) State {
	a := st.Ability
	if a.flags.HasCooldown {
		st = st.WithCooldown(a.MaxCooldown(h.entity))
	}
	if st.Charges > 0 {
		st = st.WithCharges(st.Charges - 1)
	}
	if !a.flags.HasCooldown {
		st = st.WithChargeProgress(0)
	}
	return st
}

// DeactivateAbility ends a persistent active state. Owner only.
func (h *Handler) DeactivateAbility(a *Ability) bool {
	if a == nil {
		h.logNil("DeactivateAbility")
		return false
	}
	if !h.isOwner() {
		h.log.Debug("deactivate ignored on non-owner", zap.String("ability", a.key))
		return false
	}
	if !h.Has(a) {
		h.logLag("deactivate of unassigned ability", a)
		return false
	}
	if !h.active[a.id] {
		h.log.Debug("deactivate of inactive ability", zap.String("ability", a.key))
		return false
	}
	h.deactivate(a, false)
	h.mirror(opMirrorDeactivate, a)
	return true
}

func (h *Handler) activate(a *Ability, auxOnly bool) {
	h.active[a.id] = true
	a.hooks.OnActivate(h, a, auxOnly)
	h.bus.publish(Event{Kind: EventActivated, Handler: h, Ability: a, AuxOnly: auxOnly})
}

func (h *Handler) deactivate(a *Ability, auxOnly bool) {
	delete(h.active, a.id)
	a.hooks.OnDeactivate(h, a, auxOnly)
	h.bus.publish(Event{Kind: EventDeactivated, Handler: h, Ability: a, AuxOnly: auxOnly})
}

// Update is the owner's passive per-frame maintenance: cooldowns decay by dt
// and any change is pushed as one batched snapshot.
func (h *Handler) Update(dt float32) {
	if !h.isOwner() || dt <= 0 {
		return
	}
	h.states.lock()
	for _, st := range h.states.snapshot() {
		a := st.Ability
		if !a.flags.HasCooldown || st.Cooldown <= 0 {
			continue
		}
		h.states.put(st.WithCooldown(st.Cooldown - dt))
		if a.flags.AutoNetSync {
			h.dirty = true
		}
	}
	h.states.unlock()
	h.commit()
}

// AddChargeProgress accumulates progress on a, or on every assigned ability
// when a is nil. Each time progress reaches the threshold a charge is granted;
// surplus carries over, so one call may grant several charges. Owner only.
func (h *Handler) AddChargeProgress(amount float32, a *Ability) {
	if !h.isOwner() || amount <= 0 {
		return
	}
	if a != nil {
		if st, ok := h.states.get(a.id); ok {
			h.chargeOne(st, amount)
		} else {
			h.logLag("charge of unassigned ability", a)
		}
		h.commit()
		return
	}
	h.states.lock()
	for _, st := range h.states.snapshot() {
		h.chargeOne(st, amount)
	}
	h.states.unlock()
	h.commit()
}

func (h *Handler) chargeOne(st State, amount float32) {
	a := st.Ability
	if !a.flags.HasCharges {
		return
	}
	if h.active[a.id] && !a.flags.ChargeWhileActive {
		return
	}
	maxCharges := a.MaxCharges(h.entity)
	threshold := a.MaxChargeProgress(h.entity)
	if threshold <= 0 {
		return
	}

	next := st
	if next.Charges >= maxCharges {
		next.Charges = maxCharges
		next.ChargeProgress = 0
	} else {
		progress := next.ChargeProgress + amount
		for progress >= threshold && next.Charges < maxCharges {
			progress -= threshold
			next.Charges++
		}
		if next.Charges >= maxCharges {
			progress = 0
		}
		next.ChargeProgress = progress
	}
	if next == st {
		return
	}
	h.states.put(next)
	if a.flags.AutoNetSync {
		h.dirty = true
	}
}

// Release removes every ability without replication, for entity teardown.
func (h *Handler) Release() {
	h.queued = nil
	for _, st := range h.states.snapshot() {
		a := st.Ability
		if h.active[a.id] {
			h.deactivate(a, true)
		}
		h.states.remove(a.id)
		h.reg.release(a)
		a.hooks.OnRemoved(h, a, true, false)
	}
	h.dirty = false
}

func (h *Handler) logNil(op string) {
	h.log.Debug("nil ability", zap.String("op", op), zap.Stack("stack"))
}

func (h *Handler) logLag(msg string, a *Ability) {
	if !h.verboseLag {
		return
	}
	h.log.Debug(msg, zap.String("ability", a.key), zap.Uint16("id", a.id))
}

type nopTransport struct{}

func (nopTransport) PublishSnapshot(ecs.EntityID, []byte) {}
func (nopTransport) Mirror(ecs.EntityID, []byte)          {}
func (nopTransport) SendToOwner(ecs.EntityID, []byte)     {}
