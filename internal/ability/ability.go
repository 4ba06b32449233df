// Package ability implements per-entity ability state: the ability contract,
// the global registry, the cooldown/charge state machine, replication to
// observing peers, persistence and the callback bus.
package ability

import (
	"errors"

	"github.com/abilitynet/abilityd/internal/core/ecs"
)

var (
	ErrDuplicateKey        = errors.New("ability key already registered")
	ErrNoFreeID            = errors.New("no free ability id")
	ErrUnknownAbility      = errors.New("unknown ability")
	ErrNotOwner            = errors.New("entity not owned by this peer")
	ErrMissingActionParams = errors.New("action ability has no animation parameters")
	ErrInvalidKey          = errors.New("ability key is empty")
	ErrForeignRegistry     = errors.New("ability registered with another registry")
)

// Entity is the acting entity as seen by the ability system. Capability
// queries take it so caps may depend on stats or perks.
type Entity interface {
	EntityID() ecs.EntityID
	IsOwner() bool
	IsServer() bool
	Stat(name string) float64
	Stats() map[string]float64
}

// Flags are the fixed capability switches of an ability.
type Flags struct {
	HasCooldown         bool `yaml:"has_cooldown"`
	HasCharges          bool `yaml:"has_charges"`
	Instant             bool `yaml:"instant"`
	AutoNetSync         bool `yaml:"auto_net_sync"`
	AutoPersist         bool `yaml:"auto_persist"`
	RemoveOnDeath       bool `yaml:"remove_on_death"`
	ChargeWhileActive   bool `yaml:"charge_while_active"`
	AutoChargeDecrement bool `yaml:"auto_charge_decrement"`
}

// Capabilities answers the per-entity caps of an ability.
type Capabilities interface {
	MaxCooldown(e Entity) float32
	MaxCharges(e Entity) uint8
	MaxChargeProgress(e Entity) float32
}

// StaticCaps are caps that do not depend on the entity.
type StaticCaps struct {
	Cooldown       float32
	Charges        uint8
	ChargeProgress float32
}

func (c StaticCaps) MaxCooldown(Entity) float32       { return c.Cooldown }
func (c StaticCaps) MaxCharges(Entity) uint8          { return c.Charges }
func (c StaticCaps) MaxChargeProgress(Entity) float32 { return c.ChargeProgress }

// Hooks are the gameplay side of an ability. auxOnly is true when the call
// mirrors an event on a peer that does not own the entity; gameplay side
// effects must only happen when it is false.
type Hooks interface {
	OnInitialize(a *Ability)
	OnAdded(h *Handler, a *Ability, auxOnly, lateJoin bool)
	OnRemoved(h *Handler, a *Ability, auxOnly, lateJoin bool)
	OnActivate(h *Handler, a *Ability, auxOnly bool)
	OnDeactivate(h *Handler, a *Ability, auxOnly bool)
}

// ActionHooks is implemented by hooks of animation-gated abilities.
type ActionHooks interface {
	Hooks
	OnInvoked(h *Handler, a *Ability, auxOnly bool)
	OnCancelled(h *Handler, a *Ability, auxOnly bool)
}

// Ticker is implemented by hooks that need a per-frame tick while at least
// one entity holds the ability.
type Ticker interface {
	Tick(a *Ability, dt float32)
}

// NopHooks does nothing. Embed it to implement only some hooks.
type NopHooks struct{}

func (NopHooks) OnInitialize(*Ability)                    {}
func (NopHooks) OnAdded(*Handler, *Ability, bool, bool)   {}
func (NopHooks) OnRemoved(*Handler, *Ability, bool, bool) {}
func (NopHooks) OnActivate(*Handler, *Ability, bool)      {}
func (NopHooks) OnDeactivate(*Handler, *Ability, bool)    {}
func (NopHooks) OnInvoked(*Handler, *Ability, bool)       {}
func (NopHooks) OnCancelled(*Handler, *Ability, bool)     {}

// ActionConfig marks an ability as animation-gated.
type ActionConfig struct {
	AnimParam string
	// SyncActivation sends a low-latency mirror of the activation on top of
	// the replicated snapshot.
	SyncActivation bool
}

// Config describes an ability before registration.
type Config struct {
	Key     string
	FixedID uint16 // 0 = allocate
	Flags   Flags
	Caps    Capabilities
	Hooks   Hooks
	Action  *ActionConfig
}

// Kind distinguishes instant abilities from animation-gated ones.
type Kind uint8

const (
	KindInstant Kind = iota
	KindAction
)

func (k Kind) String() string {
	if k == KindAction {
		return "action"
	}
	return "instant"
}

// Ability is an immutable, registered capability descriptor. Identity is the
// numeric ID assigned by the Registry.
type Ability struct {
	key     string
	fixedID uint16
	id      uint16
	flags   Flags
	caps    Capabilities
	hooks   Hooks
	action  *ActionConfig

	registered bool
	disabled   bool
	disableErr error
}

// New builds an unregistered ability. Missing caps default to zero and
// missing hooks to NopHooks.
func New(cfg Config) *Ability {
	a := &Ability{
		key:     cfg.Key,
		fixedID: cfg.FixedID,
		flags:   cfg.Flags,
		caps:    cfg.Caps,
		hooks:   cfg.Hooks,
	}
	if a.caps == nil {
		a.caps = StaticCaps{}
	}
	if a.hooks == nil {
		a.hooks = NopHooks{}
	}
	if cfg.Action != nil {
		act := *cfg.Action
		a.action = &act
	}
	return a
}

func (a *Ability) Key() string       { return a.key }
func (a *Ability) ID() uint16        { return a.id }
func (a *Ability) FixedID() uint16   { return a.fixedID }
func (a *Ability) Flags() Flags      { return a.flags }
func (a *Ability) Hooks() Hooks      { return a.hooks }
func (a *Ability) Registered() bool  { return a.registered }
func (a *Ability) Disabled() bool    { return a.disabled }
func (a *Ability) DisableErr() error { return a.disableErr }
func (a *Ability) Action() (ActionConfig, bool) {
	if a.action == nil {
		return ActionConfig{}, false
	}
	return *a.action, true
}

func (a *Ability) Kind() Kind {
	if a.action != nil {
		return KindAction
	}
	return KindInstant
}

func (a *Ability) IsAction() bool { return a.action != nil }

func (a *Ability) MaxCooldown(e Entity) float32       { return a.caps.MaxCooldown(e) }
func (a *Ability) MaxCharges(e Entity) uint8          { return a.caps.MaxCharges(e) }
func (a *Ability) MaxChargeProgress(e Entity) float32 { return a.caps.MaxChargeProgress(e) }

// Equal reports whether a and b share ID and kind.
func (a *Ability) Equal(b *Ability) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.id == b.id && a.Kind() == b.Kind()
}

// Usable reports whether h could use a right now: assigned, enabled, with a
// charge available, off cooldown and not already active.
func (a *Ability) Usable(h *Handler) bool {
	if a == nil || h == nil || a.disabled || !a.registered {
		return false
	}
	st, ok := h.State(a)
	if !ok {
		return false
	}
	if a.flags.HasCharges && st.Charges == 0 {
		return false
	}
	if a.flags.HasCooldown && st.Cooldown > 0 {
		return false
	}
	return !h.IsActive(a)
}

func (a *Ability) disable(err error) {
	a.disabled = true
	if a.disableErr == nil {
		a.disableErr = err
	}
}

func (a *Ability) actionHooks() (ActionHooks, bool) {
	ah, ok := a.hooks.(ActionHooks)
	return ah, ok
}
