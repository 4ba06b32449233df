package data

import (
	"fmt"
	"os"
	"sort"

	"github.com/abilitynet/abilityd/internal/ability"
	"gopkg.in/yaml.v3"
)

// AbilityInfo holds a single ability template.
type AbilityInfo struct {
	Key            string
	ID             uint16 // 0 = allocate at registration
	Name           string
	Kind           ability.Kind
	Flags          ability.Flags
	Caps           ability.StaticCaps
	AnimParam      string  // action abilities only
	ClipDuration   float32 // seconds from trigger to effect keyframe
	SyncActivation bool
	Scripted       bool // caps and hooks come from abilities/<key>.lua
}

// Loadout is the pair of abilities a build starts with.
type Loadout struct {
	Build string
	Slots [ability.SlotCount]string
}

// AbilityTable holds all ability templates indexed by key.
type AbilityTable struct {
	abilities map[string]*AbilityInfo
	order     []string
	loadouts  map[string]*Loadout
	clips     map[string]float32 // anim param → clip duration
}

// Get returns an ability template by key, or nil if not found.
func (t *AbilityTable) Get(key string) *AbilityInfo {
	return t.abilities[key]
}

// Count returns total loaded abilities.
func (t *AbilityTable) Count() int {
	return len(t.abilities)
}

// All returns all templates in file order.
func (t *AbilityTable) All() []*AbilityInfo {
	result := make([]*AbilityInfo, 0, len(t.order))
	for _, k := range t.order {
		result = append(result, t.abilities[k])
	}
	return result
}

// Loadout returns the slot keys of a build, or nil if not found.
func (t *AbilityTable) Loadout(build string) *Loadout {
	return t.loadouts[build]
}

// Builds returns every build name, sorted.
func (t *AbilityTable) Builds() []string {
	out := make([]string, 0, len(t.loadouts))
	for b := range t.loadouts {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Clip returns the clip duration of an animation parameter.
func (t *AbilityTable) Clip(param string) (float32, bool) {
	d, ok := t.clips[param]
	return d, ok
}

// ScriptSource supplies scripted caps and hooks.
type ScriptSource interface {
	Defines(key string) bool
	Caps(key string, fallback ability.StaticCaps) ability.Capabilities
	Hooks(key string) ability.ActionHooks
}

// Configs builds registration configs for every template. Scripted templates
// use scripts when available and fall back to their static caps otherwise.
func (t *AbilityTable) Configs(scripts ScriptSource) []ability.Config {
	out := make([]ability.Config, 0, len(t.order))
	for _, info := range t.All() {
		cfg := ability.Config{
			Key:     info.Key,
			FixedID: info.ID,
			Flags:   info.Flags,
			Caps:    info.Caps,
		}
		if info.Kind == ability.KindAction {
			cfg.Action = &ability.ActionConfig{
				AnimParam:      info.AnimParam,
				SyncActivation: info.SyncActivation,
			}
		}
		if info.Scripted && scripts != nil && scripts.Defines(info.Key) {
			cfg.Caps = scripts.Caps(info.Key, info.Caps)
			cfg.Hooks = scripts.Hooks(info.Key)
		}
		out = append(out, cfg)
	}
	return out
}

// --- YAML loading ---

type abilityEntry struct {
	Key            string        `yaml:"key"`
	ID             uint16        `yaml:"id"`
	Name           string        `yaml:"name"`
	Kind           string        `yaml:"kind"`
	Flags          ability.Flags `yaml:"flags"`
	Cooldown       float32       `yaml:"cooldown"`
	Charges        uint8         `yaml:"charges"`
	ChargeProgress float32       `yaml:"charge_progress"`
	AnimParam      string        `yaml:"anim_param"`
	ClipDuration   float32       `yaml:"clip_duration"`
	SyncActivation bool          `yaml:"sync_activation"`
	Scripted       bool          `yaml:"scripted"`
}

type loadoutEntry struct {
	Build string   `yaml:"build"`
	Slots []string `yaml:"slots"`
}

type abilityListFile struct {
	Abilities []abilityEntry `yaml:"abilities"`
	Loadouts  []loadoutEntry `yaml:"loadouts"`
}

// LoadAbilityTable loads ability definitions and loadouts from YAML.
func LoadAbilityTable(path string) (*AbilityTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abilities: %w", err)
	}
	return ParseAbilityTable(raw)
}

// ParseAbilityTable parses the YAML catalog document.
func ParseAbilityTable(raw []byte) (*AbilityTable, error) {
	var f abilityListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse abilities: %w", err)
	}
	t := &AbilityTable{
		abilities: make(map[string]*AbilityInfo, len(f.Abilities)),
		loadouts:  make(map[string]*Loadout, len(f.Loadouts)),
		clips:     make(map[string]float32),
	}
	for i := range f.Abilities {
		e := &f.Abilities[i]
		if e.Key == "" {
			return nil, fmt.Errorf("ability %d: missing key", i)
		}
		if _, dup := t.abilities[e.Key]; dup {
			return nil, fmt.Errorf("ability %q: duplicate key", e.Key)
		}
		kind := ability.KindInstant
		switch e.Kind {
		case "", "instant":
		case "action":
			kind = ability.KindAction
		default:
			return nil, fmt.Errorf("ability %q: unknown kind %q", e.Key, e.Kind)
		}
		t.abilities[e.Key] = &AbilityInfo{
			Key:            e.Key,
			ID:             e.ID,
			Name:           e.Name,
			Kind:           kind,
			Flags:          e.Flags,
			Caps:           ability.StaticCaps{Cooldown: e.Cooldown, Charges: e.Charges, ChargeProgress: e.ChargeProgress},
			AnimParam:      e.AnimParam,
			ClipDuration:   e.ClipDuration,
			SyncActivation: e.SyncActivation,
			Scripted:       e.Scripted,
		}
		t.order = append(t.order, e.Key)
		if kind == ability.KindAction && e.AnimParam != "" {
			t.clips[e.AnimParam] = e.ClipDuration
		}
	}
	for _, l := range f.Loadouts {
		if len(l.Slots) > ability.SlotCount {
			return nil, fmt.Errorf("loadout %q: %d slots, max %d", l.Build, len(l.Slots), ability.SlotCount)
		}
		lo := &Loadout{Build: l.Build}
		for i, key := range l.Slots {
			if key != "" && t.abilities[key] == nil {
				return nil, fmt.Errorf("loadout %q: unknown ability %q", l.Build, key)
			}
			lo.Slots[i] = key
		}
		t.loadouts[l.Build] = lo
	}
	return t, nil
}
