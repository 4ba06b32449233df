package ability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantActivationSpendsCharges(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	out := &recordTransport{}
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg, Transport: out})
	h.Grant(a)

	st, ok := h.State(a)
	require.True(t, ok)
	assert.Equal(t, uint8(2), st.Charges)
	assert.True(t, a.Usable(h))

	require.True(t, h.ActivateAbility(a))
	require.True(t, h.ActivateAbility(a))

	st, _ = h.State(a)
	assert.Equal(t, uint8(0), st.Charges)
	assert.InDelta(t, 3, st.Cooldown, 1e-4)
	assert.False(t, a.Usable(h))
	assert.False(t, h.IsActive(a), "instant abilities never stay active")
}

func TestUsableRequiresCooldownClear(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.Grant(a)

	require.True(t, h.ActivateAbility(a))
	assert.False(t, a.Usable(h), "cooldown running")

	h.Update(3)
	assert.True(t, a.Usable(h))
}

func TestChargeProgressZeroedOnlyWithoutCooldown(t *testing.T) {
	reg := NewRegistry(nil)
	withCD := mustRegister(reg, dashConfig(nil))
	noCD := mustRegister(reg, Config{
		Key:   "blink",
		Flags: Flags{HasCharges: true, Instant: true, AutoChargeDecrement: true},
		Caps:  StaticCaps{Charges: 3, ChargeProgress: 10},
	})
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.AddOrSetAbility(NewState(withCD, 0, 4, 1), false, false)
	h.AddOrSetAbility(NewState(noCD, 0, 4, 1), false, false)

	h.ActivateAbility(withCD)
	h.ActivateAbility(noCD)

	st, _ := h.State(withCD)
	assert.InDelta(t, 4, st.ChargeProgress, 1e-4)
	st, _ = h.State(noCD)
	assert.Zero(t, st.ChargeProgress)
	assert.Zero(t, st.Cooldown)
}

func TestCooldownConvergesToZero(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.Grant(a)
	h.ActivateAbility(a)

	for i := 0; i < 1000; i++ {
		h.Update(0.007)
		st, _ := h.State(a)
		require.GreaterOrEqual(t, st.Cooldown, float32(0))
	}
	st, _ := h.State(a)
	assert.Equal(t, float32(0), st.Cooldown)
}

func TestChargeBound(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.AddOrSetAbility(NewState(a, 0, 0, 0), false, false)

	amounts := []float32{0.5, 3, 9.9, 0.1, 25, 7, 0.001, 100, 4}
	for _, amt := range amounts {
		h.AddChargeProgress(amt, a)
		st, _ := h.State(a)
		require.LessOrEqual(t, st.Charges, uint8(2))
		require.GreaterOrEqual(t, st.ChargeProgress, float32(0))
		require.Less(t, st.ChargeProgress, float32(10))
	}
}

func TestChargeProgressCarriesSurplus(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, Config{
		Key:   "bolt",
		Flags: Flags{HasCharges: true},
		Caps:  StaticCaps{Charges: 5, ChargeProgress: 10},
	})
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.AddOrSetAbility(NewState(a, 0, 0, 0), false, false)

	h.AddChargeProgress(25, a)
	st, _ := h.State(a)
	assert.Equal(t, uint8(2), st.Charges)
	assert.InDelta(t, 5, st.ChargeProgress, 1e-4)

	h.AddChargeProgress(1000, nil)
	st, _ = h.State(a)
	assert.Equal(t, uint8(5), st.Charges)
	assert.Zero(t, st.ChargeProgress, "progress resets at max charges")
}

func TestChargeWhileActive(t *testing.T) {
	reg := NewRegistry(nil)
	f := Flags{HasCharges: true}
	held := mustRegister(reg, Config{Key: "shield", Flags: f, Caps: StaticCaps{Charges: 2, ChargeProgress: 1}})
	f.ChargeWhileActive = true
	free := mustRegister(reg, Config{Key: "aura", Flags: f, Caps: StaticCaps{Charges: 2, ChargeProgress: 1}})

	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.AddOrSetAbility(NewState(held, 0, 0, 0), false, false)
	h.AddOrSetAbility(NewState(free, 0, 0, 0), false, false)
	require.True(t, h.ActivateAbility(held))
	require.True(t, h.ActivateAbility(free))
	require.True(t, h.IsActive(held))

	h.AddChargeProgress(1, nil)
	st, _ := h.State(held)
	assert.Equal(t, uint8(0), st.Charges)
	st, _ = h.State(free)
	assert.Equal(t, uint8(1), st.Charges)

	require.True(t, h.DeactivateAbility(held))
	assert.False(t, h.DeactivateAbility(held), "already inactive")
	h.AddChargeProgress(1, held)
	st, _ = h.State(held)
	assert.Equal(t, uint8(1), st.Charges)
}

func TestActionInvokeThenKeyframe(t *testing.T) {
	reg := NewRegistry(nil)
	hooks := &recordingHooks{}
	a := mustRegister(reg, slashConfig(hooks, true))
	anim := newFakeAnimator("slash")
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg, Animator: anim})
	h.Grant(a)
	hooks.reset()

	require.True(t, h.ActivateAbility(a))
	assert.Same(t, a, h.QueuedAbility())
	assert.Equal(t, []string{"invoked"}, hooks.names())
	require.Len(t, anim.triggered, 1)
	assert.Equal(t, "slash", anim.triggered[0].Param)

	require.True(t, h.ActivateQueuedAbility())
	assert.Nil(t, h.QueuedAbility())
	assert.Equal(t, []string{"invoked", "activate", "deactivate"}, hooks.names())
	assert.Equal(t, 0, hooks.count("activate", true))

	st, _ := h.State(a)
	assert.Equal(t, uint8(0), st.Charges)
}

func TestActionInvokeThenCancel(t *testing.T) {
	reg := NewRegistry(nil)
	hooks := &recordingHooks{}
	a := mustRegister(reg, slashConfig(hooks, true))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg, Animator: newFakeAnimator("slash")})
	h.Grant(a)
	hooks.reset()

	require.True(t, h.ActivateAbility(a))
	h.EndQueuedAbility()

	assert.Nil(t, h.QueuedAbility())
	assert.Equal(t, []string{"invoked", "cancelled"}, hooks.names())
	st, _ := h.State(a)
	assert.Equal(t, uint8(1), st.Charges, "cancel spends nothing")
	assert.False(t, h.ActivateQueuedAbility(), "queue is empty")
}

func TestSecondInvokeOverwritesQueue(t *testing.T) {
	reg := NewRegistry(nil)
	first := mustRegister(reg, slashConfig(nil, false))
	cfg := slashConfig(nil, false)
	cfg.Key = "thrust"
	cfg.Action = &ActionConfig{AnimParam: "thrust"}
	second := mustRegister(reg, cfg)
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg, Animator: newFakeAnimator("slash", "thrust")})
	h.Grant(first)
	h.Grant(second)

	require.True(t, h.ActivateAbility(first))
	require.True(t, h.ActivateAbility(second))
	assert.Same(t, second, h.QueuedAbility())
}

func TestMissingAnimParamsDisables(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, slashConfig(nil, false))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg, Animator: newFakeAnimator()})
	h.Grant(a)

	assert.False(t, h.ActivateAbility(a))
	assert.True(t, a.Disabled())
	assert.ErrorIs(t, a.DisableErr(), ErrMissingActionParams)
	assert.False(t, a.Usable(h))
	assert.Nil(t, h.QueuedAbility())
}

func TestNonOwnerCannotActivate(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	h := NewHandler(newTestEntity(1, false), Options{Registry: reg})
	h.Grant(a)

	assert.False(t, h.ActivateAbility(a))
	st, _ := h.State(a)
	assert.Equal(t, uint8(2), st.Charges)
}

func TestNilAbilityIsTolerated(t *testing.T) {
	h := NewHandler(newTestEntity(1, true), Options{})
	assert.NotPanics(t, func() {
		h.Grant(nil)
		h.RemoveAbility(nil, false, false)
		assert.False(t, h.ActivateAbility(nil))
		assert.False(t, h.DeactivateAbility(nil))
		assert.False(t, h.Has(nil))
	})
}

func TestRemoveActiveAbilityPairsHooks(t *testing.T) {
	reg := NewRegistry(nil)
	hooks := &recordingHooks{}
	a := mustRegister(reg, Config{Key: "stance", Hooks: hooks})
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.Grant(a)
	require.True(t, h.ActivateAbility(a))
	require.True(t, h.IsActive(a))

	h.RemoveAbility(a, false, false)
	assert.Equal(t, []string{"added", "activate", "deactivate", "removed"}, hooks.names())
	assert.False(t, h.IsActive(a))
	assert.False(t, h.Has(a))
}

func TestOnDeathRemovesOnlyRemoveOnDeath(t *testing.T) {
	reg := NewRegistry(nil)
	f := netSyncFlags()
	f.RemoveOnDeath = true
	mortal := mustRegister(reg, Config{Key: "rage", Flags: f})
	mortal2 := mustRegister(reg, Config{Key: "frenzy", Flags: f})
	keep := mustRegister(reg, dashConfig(nil))

	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.Grant(mortal)
	h.Grant(keep)
	h.Grant(mortal2)
	h.AddOrSetAbility(NewState(keep, 1.5, 2, 1), false, false)

	h.OnDeath()

	states := h.States()
	require.Len(t, states, 1)
	assert.Same(t, keep, states[0].Ability)
	assert.True(t, states[0].Approx(NewState(keep, 1.5, 2, 1)))
}

func TestTickerRefCounting(t *testing.T) {
	reg := NewRegistry(nil)
	th := &tickHooks{}
	a := mustRegister(reg, Config{Key: "regen", Hooks: th})
	h1 := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h2 := NewHandler(newTestEntity(2, true), Options{Registry: reg})

	reg.Tick(0.1)
	assert.Equal(t, 0, th.ticks)

	h1.Grant(a)
	h2.Grant(a)
	reg.Tick(0.1)
	assert.Equal(t, 1, th.ticks, "one tick per frame regardless of holders")

	h1.RemoveAbility(a, false, false)
	assert.True(t, reg.Ticking(a))
	h2.Release()
	assert.False(t, reg.Ticking(a))
	reg.Tick(0.1)
	assert.Equal(t, 1, th.ticks)
}

func TestRemoveDuringLockedIteration(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, Config{Key: "a"})
	b := mustRegister(reg, Config{Key: "b"})
	c := mustRegister(reg, Config{Key: "c"})
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	h.Grant(a)
	h.Grant(b)

	// A removal hook mutating the collection mid-batch must not corrupt it.
	h.Callbacks().Subscribe(EventDeactivated, NewListener(func(ev Event) {
		ev.Handler.Grant(c)
		ev.Handler.RemoveAbility(b, false, false)
	}))
	h.ActivateAbility(a)
	h.ClearAbilities(false)

	states := h.States()
	require.Len(t, states, 1, "abilities granted mid-batch survive it")
	assert.Same(t, c, states[0].Ability)
	assert.False(t, h.Has(b))
}

func TestUpdatePublishesOncePerTick(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	cfg := dashConfig(nil)
	cfg.Key = "dash2"
	b := mustRegister(reg, cfg)
	out := &recordTransport{}
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg, Transport: out})
	h.Grant(a)
	h.Grant(b)
	require.True(t, h.ActivateAbility(a))
	require.True(t, h.ActivateAbility(b))
	out.snapshots = nil

	h.Update(0.1)
	assert.Len(t, out.snapshots, 1)
}
