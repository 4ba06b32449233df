package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abilitynet/abilityd/internal/ability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalog = `
abilities:
  - key: dash
    id: 3
    name: Dash
    flags: {has_cooldown: true, has_charges: true, instant: true, auto_net_sync: true, auto_persist: true, auto_charge_decrement: true}
    cooldown: 3
    charges: 2
    charge_progress: 10
  - key: slash
    kind: action
    flags: {instant: true, auto_net_sync: true}
    anim_param: slash
    clip_duration: 0.4
    sync_activation: true
    scripted: true
  - key: rage
    flags: {remove_on_death: true}
loadouts:
  - build: duelist
    slots: [dash, slash]
  - build: brute
    slots: [rage]
`

type fakeScripts struct{ defined map[string]bool }

func (f fakeScripts) Defines(key string) bool { return f.defined[key] }
func (f fakeScripts) Caps(string, ability.StaticCaps) ability.Capabilities {
	return ability.StaticCaps{Cooldown: 42}
}
func (f fakeScripts) Hooks(string) ability.ActionHooks { return ability.NopHooks{} }

func TestParseAbilityTable(t *testing.T) {
	tbl, err := ParseAbilityTable([]byte(catalog))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Count())

	dash := tbl.Get("dash")
	require.NotNil(t, dash)
	assert.Equal(t, uint16(3), dash.ID)
	assert.Equal(t, ability.KindInstant, dash.Kind)
	assert.True(t, dash.Flags.AutoChargeDecrement)
	assert.Equal(t, ability.StaticCaps{Cooldown: 3, Charges: 2, ChargeProgress: 10}, dash.Caps)

	slash := tbl.Get("slash")
	require.NotNil(t, slash)
	assert.Equal(t, ability.KindAction, slash.Kind)
	d, ok := tbl.Clip("slash")
	require.True(t, ok)
	assert.InDelta(t, 0.4, d, 1e-6)

	assert.Equal(t, [ability.SlotCount]string{"dash", "slash"}, tbl.Loadout("duelist").Slots)
	assert.Equal(t, [ability.SlotCount]string{"rage", ""}, tbl.Loadout("brute").Slots)
	assert.Equal(t, []string{"brute", "duelist"}, tbl.Builds())
	assert.Nil(t, tbl.Loadout("nobody"))
}

func TestAbilityTableConfigs(t *testing.T) {
	tbl, err := ParseAbilityTable([]byte(catalog))
	require.NoError(t, err)

	cfgs := tbl.Configs(fakeScripts{defined: map[string]bool{"slash": true, "dash": true}})
	require.Len(t, cfgs, 3)
	assert.Equal(t, "dash", cfgs[0].Key)
	assert.Equal(t, ability.StaticCaps{Cooldown: 3, Charges: 2, ChargeProgress: 10}, cfgs[0].Caps, "unscripted entries keep static caps")
	assert.Nil(t, cfgs[0].Action)

	require.NotNil(t, cfgs[1].Action)
	assert.Equal(t, "slash", cfgs[1].Action.AnimParam)
	assert.True(t, cfgs[1].Action.SyncActivation)
	assert.Equal(t, float32(42), cfgs[1].Caps.MaxCooldown(nil))

	static := tbl.Configs(nil)
	assert.Equal(t, ability.StaticCaps{}, static[1].Caps)

	reg := ability.NewRegistry(nil)
	var all []*ability.Ability
	for _, c := range cfgs {
		all = append(all, ability.New(c))
	}
	require.NoError(t, reg.RegisterAll(all))
	a, ok := reg.ByKey("dash")
	require.True(t, ok)
	assert.Equal(t, uint16(3), a.ID())
}

func TestParseAbilityTableErrors(t *testing.T) {
	cases := map[string]string{
		"missing key":     "abilities:\n  - name: x\n",
		"duplicate":       "abilities:\n  - key: a\n  - key: a\n",
		"bad kind":        "abilities:\n  - key: a\n    kind: passive\n",
		"unknown loadout": "abilities:\n  - key: a\nloadouts:\n  - build: b\n    slots: [z]\n",
		"too many slots":  "abilities:\n  - key: a\nloadouts:\n  - build: b\n    slots: [a, a, a]\n",
		"not yaml":        "abilities: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAbilityTable([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadAbilityTableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abilities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))
	tbl, err := LoadAbilityTable(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Count())

	_, err = LoadAbilityTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
