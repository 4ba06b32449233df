package ability

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/abilitynet/abilityd/internal/net/packet"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// SaveData is the persisted form of a handler's auto-persisted abilities.
type SaveData struct {
	Abilities []SavedAbility `json:"abilities" msgpack:"abilities"`
}

// SavedAbility names its ability by lookup key so saves survive ID changes.
type SavedAbility struct {
	ID             string  `json:"id" msgpack:"id"`
	Cooldown       float32 `json:"cooldown" msgpack:"cooldown"`
	ChargeProgress float32 `json:"charge_progress" msgpack:"charge_progress"`
	Charges        uint8   `json:"charges" msgpack:"charges"`
}

// Store is durable storage for save data, keyed by a save slot key.
type Store interface {
	LoadAbilities(ctx context.Context, key string) (SaveData, bool, error)
	SaveAbilities(ctx context.Context, key string, data SaveData) error
}

// MarshalSave encodes data as the persistence JSON document.
func MarshalSave(data SaveData) ([]byte, error) {
	if data.Abilities == nil {
		data.Abilities = []SavedAbility{}
	}
	return json.Marshal(data)
}

// UnmarshalSave decodes a persistence JSON document.
func UnmarshalSave(raw []byte) (SaveData, error) {
	var data SaveData
	if err := json.Unmarshal(raw, &data); err != nil {
		return SaveData{}, fmt.Errorf("decode ability save: %w", err)
	}
	return data, nil
}

// Save serializes the auto-persisted abilities in assignment order.
func (h *Handler) Save() SaveData {
	data := SaveData{Abilities: []SavedAbility{}}
	for _, st := range h.states.snapshot() {
		if !st.Ability.flags.AutoPersist {
			continue
		}
		data.Abilities = append(data.Abilities, SavedAbility{
			ID:             st.Ability.key,
			Cooldown:       st.Cooldown,
			ChargeProgress: st.ChargeProgress,
			Charges:        st.Charges,
		})
	}
	return data
}

// Load applies persisted data. The owner applies it directly as a late join;
// any other peer relays it to the owner, which re-applies and re-broadcasts.
func (h *Handler) Load(data SaveData) error {
	if !h.isOwner() {
		return h.relay(data)
	}
	states := h.resolveSave(data)
	h.states.lock()
	for _, st := range states {
		h.AddOrSetAbility(st, false, true)
	}
	h.states.unlock()
	h.commit()
	return nil
}

func (h *Handler) resolveSave(data SaveData) []State {
	out := make([]State, 0, len(data.Abilities))
	for _, s := range data.Abilities {
		a, ok := h.reg.ByKey(s.ID)
		if !ok {
			h.log.Warn("saved ability not registered, skipping", zap.String("key", s.ID))
			continue
		}
		out = append(out, h.clampSaved(NewState(a, s.Cooldown, s.ChargeProgress, s.Charges)))
	}
	return out
}

// clampSaved fits a saved state to the entity's current caps, which may have
// shrunk since the save was written.
func (h *Handler) clampSaved(st State) State {
	a := st.Ability
	maxCharges := a.MaxCharges(h.entity)
	if st.Charges > maxCharges {
		st.Charges = maxCharges
	}
	threshold := a.MaxChargeProgress(h.entity)
	switch {
	case st.Charges >= maxCharges, threshold <= 0:
		st.ChargeProgress = 0
	case st.ChargeProgress >= threshold:
		st.ChargeProgress = math.Nextafter32(threshold, 0)
	}
	return st
}

func (h *Handler) relay(data SaveData) error {
	blob, err := msgpack.Marshal(&data)
	if err != nil {
		return fmt.Errorf("encode relay: %w", err)
	}
	w := packet.NewEntityWriter(packet.OpPersistRelay, h.entity.EntityID())
	w.WriteBlob(blob)
	h.transport.SendToOwner(h.entity.EntityID(), w.Bytes())
	h.log.Debug("save data relayed to owner", zap.Int("abilities", len(data.Abilities)))
	return nil
}

// HandleRelay applies save data relayed by a non-owning peer.
func (h *Handler) HandleRelay(r *packet.Reader) error {
	if !h.isOwner() {
		return ErrNotOwner
	}
	blob := r.ReadBlob()
	if r.Short() {
		return fmt.Errorf("relay truncated")
	}
	var data SaveData
	if err := msgpack.Unmarshal(blob, &data); err != nil {
		return fmt.Errorf("decode relay: %w", err)
	}
	return h.Load(data)
}

// LoadFrom waits until ready is closed (nil means ready now), then loads the
// save stored under key. A missing save is not an error.
func (h *Handler) LoadFrom(ctx context.Context, store Store, key string, ready <-chan struct{}) error {
	if ready != nil {
		select {
		case <-ready:
		case <-ctx.Done():
			return fmt.Errorf("wait for network: %w", ctx.Err())
		}
	}
	data, found, err := store.LoadAbilities(ctx, key)
	if err != nil {
		return fmt.Errorf("load abilities %s: %w", key, err)
	}
	if !found {
		return nil
	}
	return h.Load(data)
}

// SaveTo writes the handler's save data under key. Persistence authority
// follows ownership.
func (h *Handler) SaveTo(ctx context.Context, store Store, key string) error {
	if !h.isOwner() {
		return ErrNotOwner
	}
	if err := store.SaveAbilities(ctx, key, h.Save()); err != nil {
		return fmt.Errorf("save abilities %s: %w", key, err)
	}
	return nil
}
