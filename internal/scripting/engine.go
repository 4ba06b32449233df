package scripting

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/abilitynet/abilityd/internal/ability"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM that answers scripted ability caps and
// runs scripted hooks. Single-goroutine access only (game loop).
//
// Scripts fill the global `abilities` table, keyed by ability key:
//
//	abilities["dash"] = {
//	  max_cooldown = function(stats) return 3 - stats.haste * 0.1 end,
//	  on_activate  = function(entity, aux) end,
//	}
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)

	// Core helpers first, then ability definitions
	for _, sub := range []string{"core", "abilities"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			e.vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// NewEngineFromSource creates an engine from inline Lua source.
func NewEngineFromSource(src string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.vm.DoString(src); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load lua source: %w", err)
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("abilities", vm.NewTable())

	return &Engine{vm: vm, log: log}
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Defines reports whether scripts declare an entry for key.
func (e *Engine) Defines(key string) bool {
	return e.entry(key) != nil
}

// Caps returns capabilities for key that ask the script first and fall back
// to the static values for any function the script does not define.
func (e *Engine) Caps(key string, fallback ability.StaticCaps) ability.Capabilities {
	return &scriptedCaps{engine: e, key: key, fallback: fallback}
}

// Hooks returns hooks for key that forward to the script's on_* functions.
// Missing functions are no-ops.
func (e *Engine) Hooks(key string) ability.ActionHooks {
	return &scriptedHooks{engine: e, key: key}
}

func (e *Engine) entry(key string) *lua.LTable {
	root, ok := e.vm.GetGlobal("abilities").(*lua.LTable)
	if !ok {
		return nil
	}
	t, _ := root.RawGetString(key).(*lua.LTable)
	return t
}

func (e *Engine) function(key, name string) *lua.LFunction {
	t := e.entry(key)
	if t == nil {
		return nil
	}
	fn, _ := t.RawGetString(name).(*lua.LFunction)
	return fn
}

func (e *Engine) statsTable(ent ability.Entity) *lua.LTable {
	t := e.vm.NewTable()
	if ent == nil {
		return t
	}
	for k, v := range ent.Stats() {
		t.RawSetString(k, lua.LNumber(v))
	}
	return t
}

func (e *Engine) entityTable(ent ability.Entity) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("id", lua.LString(ent.EntityID().String()))
	t.RawSetString("owner", lua.LBool(ent.IsOwner()))
	t.RawSetString("server", lua.LBool(ent.IsServer()))
	t.RawSetString("stats", e.statsTable(ent))
	return t
}

// callNumber calls abilities[key][name](stats) and returns its number result.
func (e *Engine) callNumber(key, name string, ent ability.Entity) (float64, bool) {
	fn := e.function(key, name)
	if fn == nil {
		return 0, false
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.statsTable(ent)); err != nil {
		e.log.Error("lua call error", zap.String("ability", key), zap.String("func", name), zap.Error(err))
		return 0, false
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	n, ok := result.(lua.LNumber)
	if !ok {
		e.log.Error("lua function returned non-number", zap.String("ability", key), zap.String("func", name))
		return 0, false
	}
	v := float64(n)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		e.log.Error("lua function returned non-finite number", zap.String("ability", key), zap.String("func", name))
		return 0, false
	}
	return v, true
}

// callHook calls abilities[key][name](entity, aux) if defined.
func (e *Engine) callHook(key, name string, h *ability.Handler, aux bool) {
	fn := e.function(key, name)
	if fn == nil {
		return
	}
	var ent lua.LValue = lua.LNil
	if h != nil {
		ent = e.entityTable(h.Entity())
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, ent, lua.LBool(aux)); err != nil {
		e.log.Error("lua hook error", zap.String("ability", key), zap.String("hook", name), zap.Error(err))
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}

type scriptedCaps struct {
	engine   *Engine
	key      string
	fallback ability.StaticCaps
}

func (c *scriptedCaps) MaxCooldown(ent ability.Entity) float32 {
	if v, ok := c.engine.callNumber(c.key, "max_cooldown", ent); ok && v >= 0 {
		return float32(v)
	}
	return c.fallback.Cooldown
}

func (c *scriptedCaps) MaxCharges(ent ability.Entity) uint8 {
	v, ok := c.engine.callNumber(c.key, "max_charges", ent)
	if !ok || v < 0 {
		return c.fallback.Charges
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (c *scriptedCaps) MaxChargeProgress(ent ability.Entity) float32 {
	if v, ok := c.engine.callNumber(c.key, "max_charge_progress", ent); ok && v >= 0 {
		return float32(v)
	}
	return c.fallback.ChargeProgress
}

type scriptedHooks struct {
	engine *Engine
	key    string
}

func (s *scriptedHooks) OnInitialize(a *ability.Ability) {
	if fn := s.engine.function(s.key, "on_initialize"); fn != nil {
		if err := s.engine.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			lua.LNumber(a.ID())); err != nil {
			s.engine.log.Error("lua hook error", zap.String("ability", s.key), zap.String("hook", "on_initialize"), zap.Error(err))
		}
	}
}

func (s *scriptedHooks) OnAdded(h *ability.Handler, _ *ability.Ability, aux, _ bool) {
	s.engine.callHook(s.key, "on_added", h, aux)
}

func (s *scriptedHooks) OnRemoved(h *ability.Handler, _ *ability.Ability, aux, _ bool) {
	s.engine.callHook(s.key, "on_removed", h, aux)
}

func (s *scriptedHooks) OnActivate(h *ability.Handler, _ *ability.Ability, aux bool) {
	s.engine.callHook(s.key, "on_activate", h, aux)
}

func (s *scriptedHooks) OnDeactivate(h *ability.Handler, _ *ability.Ability, aux bool) {
	s.engine.callHook(s.key, "on_deactivate", h, aux)
}

func (s *scriptedHooks) OnInvoked(h *ability.Handler, _ *ability.Ability, aux bool) {
	s.engine.callHook(s.key, "on_invoked", h, aux)
}

func (s *scriptedHooks) OnCancelled(h *ability.Handler, _ *ability.Ability, aux bool) {
	s.engine.callHook(s.key, "on_cancelled", h, aux)
}
