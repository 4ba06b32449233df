package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/abilitynet/abilityd/internal/ability"
	"github.com/abilitynet/abilityd/internal/core/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

type statEntity struct {
	stats map[string]float64
}

func (s *statEntity) EntityID() ecs.EntityID    { return ecs.NewEntityID(4, 1) }
func (s *statEntity) IsOwner() bool             { return true }
func (s *statEntity) IsServer() bool            { return false }
func (s *statEntity) Stat(name string) float64  { return s.stats[name] }
func (s *statEntity) Stats() map[string]float64 { return s.stats }

const testScript = `
fired = {}

abilities["dash"] = {
  max_cooldown = function(stats) return 4 - (stats.haste or 0) end,
  max_charges = function(stats) return 1 + (stats.perk_extra_dash or 0) end,
  on_activate = function(entity, aux)
    table.insert(fired, entity.id .. ":" .. tostring(aux))
  end,
}

abilities["broken"] = {
  max_cooldown = function(stats) error("bad script") end,
  max_charges = function(stats) return "many" end,
}

abilities["unbounded"] = {
  max_cooldown = function(stats) return 1 / 0 end,
  max_charges = function(stats) return 0 / 0 end,
  max_charge_progress = function(stats) return -(0 / 0) end,
}
`

func TestScriptedCaps(t *testing.T) {
	e, err := NewEngineFromSource(testScript, nil)
	require.NoError(t, err)
	defer e.Close()

	ent := &statEntity{stats: map[string]float64{"haste": 1.5, "perk_extra_dash": 2}}
	caps := e.Caps("dash", ability.StaticCaps{Cooldown: 9, Charges: 9, ChargeProgress: 7})

	assert.InDelta(t, 2.5, caps.MaxCooldown(ent), 1e-6)
	assert.Equal(t, uint8(3), caps.MaxCharges(ent))
	assert.Equal(t, float32(7), caps.MaxChargeProgress(ent), "undefined function falls back")
	assert.True(t, e.Defines("dash"))
	assert.False(t, e.Defines("heal"))
}

func TestScriptErrorsFallBack(t *testing.T) {
	e, err := NewEngineFromSource(testScript, nil)
	require.NoError(t, err)
	defer e.Close()

	ent := &statEntity{stats: map[string]float64{}}
	caps := e.Caps("broken", ability.StaticCaps{Cooldown: 5, Charges: 2})
	assert.Equal(t, float32(5), caps.MaxCooldown(ent))
	assert.Equal(t, uint8(2), caps.MaxCharges(ent))
}

func TestNonFiniteResultsFallBack(t *testing.T) {
	e, err := NewEngineFromSource(testScript, nil)
	require.NoError(t, err)
	defer e.Close()

	ent := &statEntity{stats: map[string]float64{}}
	caps := e.Caps("unbounded", ability.StaticCaps{Cooldown: 3, Charges: 2, ChargeProgress: 8})
	assert.Equal(t, float32(3), caps.MaxCooldown(ent))
	assert.Equal(t, uint8(2), caps.MaxCharges(ent))
	assert.Equal(t, float32(8), caps.MaxChargeProgress(ent))
}

func TestScriptedHooksRunOnActivate(t *testing.T) {
	e, err := NewEngineFromSource(testScript, nil)
	require.NoError(t, err)
	defer e.Close()

	reg := ability.NewRegistry(nil)
	a := ability.New(ability.Config{
		Key:   "dash",
		Flags: ability.Flags{Instant: true},
		Hooks: e.Hooks("dash"),
	})
	require.NoError(t, reg.Register(a))

	h := ability.NewHandler(&statEntity{stats: map[string]float64{}}, ability.Options{Registry: reg})
	h.Grant(a)
	require.True(t, h.ActivateAbility(a))

	fired, ok := e.vm.GetGlobal("fired").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, 1, fired.Len())
	assert.Equal(t, "4:1:false", fired.RawGetInt(1).String())
}

func TestNewEngineLoadsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "abilities"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abilities", "heal.lua"),
		[]byte(`abilities["heal"] = { max_charge_progress = function(stats) return 12 end }`), 0o644))

	e, err := NewEngine(dir, nil)
	require.NoError(t, err)
	defer e.Close()

	caps := e.Caps("heal", ability.StaticCaps{})
	assert.Equal(t, float32(12), caps.MaxChargeProgress(&statEntity{}))
}

func TestNewEngineReportsBadScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "core"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core", "bad.lua"), []byte("this is not lua"), 0o644))

	_, err := NewEngine(dir, nil)
	assert.Error(t, err)
}
