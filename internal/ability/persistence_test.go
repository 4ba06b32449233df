package ability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveRoundTrip(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	b := mustRegister(reg, Config{Key: "guard", Flags: Flags{AutoPersist: true, HasCooldown: true}, Caps: StaticCaps{Cooldown: 9}})
	skip := mustRegister(reg, Config{Key: "emote"})

	src := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	src.AddOrSetAbility(NewState(a, 1.75, 6.25, 1), false, false)
	src.AddOrSetAbility(NewState(b, 4.5, 0, 0), false, false)
	src.Grant(skip)

	raw, err := MarshalSave(src.Save())
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"abilities":[{"id":"dash","cooldown":1.75,"charge_progress":6.25,"charges":1},`+
			`{"id":"guard","cooldown":4.5,"charge_progress":0,"charges":0}]}`,
		string(raw))

	data, err := UnmarshalSave(raw)
	require.NoError(t, err)
	dst := NewHandler(newTestEntity(2, true), Options{Registry: reg})
	require.NoError(t, dst.Load(data))

	for _, want := range []State{NewState(a, 1.75, 6.25, 1), NewState(b, 4.5, 0, 0)} {
		got, ok := dst.State(want.Ability)
		require.True(t, ok, want.Ability.Key())
		assert.True(t, want.Approx(got), want.Ability.Key())
	}
	assert.False(t, dst.Has(skip))
}

func TestEmptySaveMarshalsEmptyArray(t *testing.T) {
	raw, err := MarshalSave(SaveData{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"abilities":[]}`, string(raw))

	_, err = UnmarshalSave([]byte("{"))
	assert.Error(t, err)
}

func TestLoadSkipsUnknownKeys(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})

	err := h.Load(SaveData{Abilities: []SavedAbility{
		{ID: "retired", Cooldown: 1},
		{ID: "dash", Charges: 2},
	}})
	require.NoError(t, err)
	assert.Len(t, h.States(), 1)
	assert.True(t, h.Has(a))
}

func TestLoadPublishesOneSnapshot(t *testing.T) {
	reg := NewRegistry(nil)
	mustRegister(reg, dashConfig(nil))
	cfg := dashConfig(nil)
	cfg.Key = "dash2"
	mustRegister(reg, cfg)
	p := newPeerPair(reg, nil)

	require.NoError(t, p.owner.Load(SaveData{Abilities: []SavedAbility{
		{ID: "dash", Charges: 1},
		{ID: "dash2", Cooldown: 2},
	}}))
	assert.Len(t, p.out.snapshots, 1)
	p.deliver()
	assert.Len(t, p.observer.States(), 2)
}

func TestNonOwnerLoadRelaysToOwner(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	p := newPeerPair(reg, nil)

	require.NoError(t, p.observer.Load(SaveData{Abilities: []SavedAbility{{ID: "dash", Cooldown: 2, Charges: 1}}}))
	assert.False(t, p.observer.Has(a), "non-owner does not apply locally")
	require.Len(t, p.obsOut.toOwner, 1)

	require.NoError(t, p.owner.HandleRelay(payload(p.obsOut.toOwner[0])))
	st, ok := p.owner.State(a)
	require.True(t, ok)
	assert.True(t, st.Approx(NewState(a, 2, 0, 1)))

	p.deliver()
	assert.True(t, p.observer.Has(a))
	assert.ErrorIs(t, p.observer.HandleRelay(payload(p.obsOut.toOwner[0])), ErrNotOwner)
}

func TestLoadFromWaitsForReady(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	store := newMemStore()
	require.NoError(t, store.SaveAbilities(context.Background(), "hero", SaveData{
		Abilities: []SavedAbility{{ID: "dash", Charges: 1}},
	}))
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- h.LoadFrom(context.Background(), store, "hero", ready) }()

	select {
	case <-done:
		t.Fatal("load finished before ready")
	case <-time.After(20 * time.Millisecond):
	}
	close(ready)
	require.NoError(t, <-done)
	assert.True(t, h.Has(a))
}

func TestLoadFromCancelled(t *testing.T) {
	h := NewHandler(newTestEntity(1, true), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.LoadFrom(ctx, newMemStore(), "hero", make(chan struct{}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFromMissingSave(t *testing.T) {
	h := NewHandler(newTestEntity(1, true), Options{})
	assert.NoError(t, h.LoadFrom(context.Background(), newMemStore(), "nobody", nil))
	assert.Empty(t, h.States())
}

func TestSaveToRequiresOwner(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	store := newMemStore()
	owner := NewHandler(newTestEntity(1, true), Options{Registry: reg})
	owner.Grant(a)

	require.NoError(t, owner.SaveTo(context.Background(), store, "hero"))
	data, found, err := store.LoadAbilities(context.Background(), "hero")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, data.Abilities, 1)

	observer := NewHandler(newTestEntity(1, false), Options{Registry: reg})
	assert.ErrorIs(t, observer.SaveTo(context.Background(), store, "hero"), ErrNotOwner)
}

func TestLoadClampsToCaps(t *testing.T) {
	reg := NewRegistry(nil)
	a := mustRegister(reg, dashConfig(nil))
	guard := mustRegister(reg, Config{Key: "guard", Flags: Flags{AutoPersist: true, HasCooldown: true}, Caps: StaticCaps{Cooldown: 9}})
	h := NewHandler(newTestEntity(1, true), Options{Registry: reg})

	require.NoError(t, h.Load(SaveData{Abilities: []SavedAbility{
		{ID: "dash", Charges: 9, ChargeProgress: 50},
		{ID: "guard", Cooldown: 2, ChargeProgress: 3, Charges: 4},
	}}))
	st, ok := h.State(a)
	require.True(t, ok)
	assert.Equal(t, uint8(2), st.Charges)
	assert.Zero(t, st.ChargeProgress, "full charges leave no progress")

	st, _ = h.State(guard)
	assert.Equal(t, uint8(0), st.Charges)
	assert.Zero(t, st.ChargeProgress)
	assert.Equal(t, float32(2), st.Cooldown)

	require.NoError(t, h.Load(SaveData{Abilities: []SavedAbility{{ID: "dash", Charges: 1, ChargeProgress: 50}}}))
	st, _ = h.State(a)
	assert.Equal(t, uint8(1), st.Charges)
	assert.Less(t, st.ChargeProgress, float32(10))
	assert.InDelta(t, 10, st.ChargeProgress, 1e-4)
}
