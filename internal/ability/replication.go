package ability

import (
	"fmt"
	"math"

	"github.com/abilitynet/abilityd/internal/net/packet"
	"go.uber.org/zap"
)

const (
	opMirrorActivate   = packet.OpMirrorActivate
	opMirrorDeactivate = packet.OpMirrorDeactivate
	opMirrorInvoke     = packet.OpMirrorInvoke
	opMirrorCancel     = packet.OpMirrorCancel
)

// maxSnapshotEntries is bounded by the u8 count prefix.
const maxSnapshotEntries = math.MaxUint8

// Snapshot returns the replicated part of the collection: every state whose
// ability is auto-replicated, in assignment order.
func (h *Handler) Snapshot() []State {
	all := h.states.snapshot()
	out := all[:0]
	for _, st := range all {
		if st.Ability.flags.AutoNetSync {
			out = append(out, st)
		}
	}
	return out
}

// commit pushes a pending snapshot unless the collection is locked; the
// final unlock of a batch commits once.
func (h *Handler) commit() {
	if h.states.locked() || !h.dirty {
		return
	}
	h.flush()
}

// flush publishes the snapshot when it differs from the last one published.
func (h *Handler) flush() {
	h.dirty = false
	if !h.isOwner() {
		return
	}
	snap := h.Snapshot()
	if len(snap) > maxSnapshotEntries {
		h.log.Warn("snapshot truncated", zap.Int("entries", len(snap)))
		snap = snap[:maxSnapshotEntries]
	}
	if h.hasPublished && SnapshotsEqual(h.published, snap) {
		return
	}
	h.transport.PublishSnapshot(h.entity.EntityID(), EncodeSnapshot(h.entity, snap))
	h.published = snap
	h.hasPublished = true
}

// EncodeSnapshot builds the replicated value message for e:
// count u8, then (id u16, cooldown f32, chargeProgress f32, charges u8).
func EncodeSnapshot(e Entity, snap []State) []byte {
	if len(snap) > maxSnapshotEntries {
		snap = snap[:maxSnapshotEntries]
	}
	w := packet.NewEntityWriter(packet.OpSnapshotUpdate, e.EntityID())
	w.WriteC(byte(len(snap)))
	for _, st := range snap {
		w.WriteH(st.ID())
		w.WriteF(st.Cooldown)
		w.WriteF(st.ChargeProgress)
		w.WriteC(st.Charges)
	}
	return w.Bytes()
}

// DecodeSnapshot reads a snapshot body. Entries naming unknown IDs are
// skipped and reported in the returned count.
func DecodeSnapshot(reg *Registry, r *packet.Reader) (snap []State, unknown int, err error) {
	n := int(r.ReadC())
	snap = make([]State, 0, n)
	for i := 0; i < n; i++ {
		id := r.ReadH()
		cooldown := r.ReadF()
		progress := r.ReadF()
		charges := r.ReadC()
		if r.Short() {
			return nil, unknown, fmt.Errorf("snapshot truncated at entry %d of %d", i, n)
		}
		a, ok := reg.ByID(id)
		if !ok {
			unknown++
			continue
		}
		snap = append(snap, NewState(a, cooldown, progress, charges))
	}
	return snap, unknown, nil
}

// HandleSnapshot applies a replicated value received from the owner.
func (h *Handler) HandleSnapshot(r *packet.Reader) {
	h.applyEncoded(r, false)
}

// Bootstrap applies the current replicated value once when this peer starts
// observing an entity that already exists.
func (h *Handler) Bootstrap(msg []byte) {
	if len(msg) == 0 {
		return
	}
	r := packet.NewReader(msg)
	r.ReadEntity()
	h.applyEncoded(r, true)
}

func (h *Handler) applyEncoded(r *packet.Reader, lateJoin bool) {
	snap, unknown, err := DecodeSnapshot(h.reg, r)
	if err != nil {
		h.log.Warn("snapshot dropped", zap.Error(err))
		return
	}
	if unknown > 0 {
		h.log.Warn("snapshot names unknown abilities", zap.Int("count", unknown))
	}
	h.ApplySnapshot(snap, lateJoin)
}

// ApplySnapshot reconciles the local collection with an owner snapshot:
// replicated abilities missing from snap are removed and every entry of snap
// is upserted. Applying the same snapshot twice changes nothing.
func (h *Handler) ApplySnapshot(snap []State, lateJoin bool) {
	if h.isOwner() {
		h.log.Debug("snapshot ignored on owner")
		return
	}
	present := make(map[uint16]bool, len(snap))
	for _, st := range snap {
		present[st.ID()] = true
	}

	h.states.lock()
	for _, st := range h.states.snapshot() {
		if st.Ability.flags.AutoNetSync && !present[st.ID()] {
			h.RemoveAbility(st.Ability, true, lateJoin)
		}
	}
	for _, st := range snap {
		h.AddOrSetAbility(st, true, lateJoin)
	}
	h.states.unlock()
}

// mirror sends a low-latency message that observers replay cosmetically.
func (h *Handler) mirror(op byte, a *Ability) {
	if !h.isOwner() {
		return
	}
	w := packet.NewEntityWriter(op, h.entity.EntityID())
	w.WriteH(a.id)
	h.transport.Mirror(h.entity.EntityID(), w.Bytes())
}

// HandleMirror replays an owner's mirror message. Only auxiliary hooks run,
// so the mirror never duplicates gameplay effects; the snapshot remains the
// source of truth for numbers.
func (h *Handler) HandleMirror(op byte, r *packet.Reader) {
	if h.isOwner() {
		return
	}
	id := r.ReadH()
	if r.Short() {
		h.log.Debug("mirror truncated", zap.String("op", packet.OpName(op)))
		return
	}
	a, ok := h.reg.ByID(id)
	if !ok {
		h.log.Warn("mirror names unknown ability", zap.Uint16("id", id))
		return
	}
	if !h.Has(a) {
		h.logLag("mirror for unassigned ability", a)
		return
	}

	switch op {
	case opMirrorActivate:
		if h.queued == a {
			h.queued = nil
		}
		h.activate(a, true)
		if a.flags.Instant {
			h.deactivate(a, true)
		}
	case opMirrorDeactivate:
		if h.active[a.id] {
			h.deactivate(a, true)
		}
	case opMirrorInvoke:
		h.queued = a
		if ah, ok := a.actionHooks(); ok {
			ah.OnInvoked(h, a, true)
		}
		h.bus.publish(Event{Kind: EventInvoked, Handler: h, Ability: a, AuxOnly: true})
		if h.animator != nil && a.action != nil {
			if params, ok := h.animator.ResolveAction(a.action.AnimParam); ok {
				h.animator.TriggerAction(params)
			}
		}
	case opMirrorCancel:
		if h.queued == a {
			h.EndQueuedAbility()
		}
	default:
		h.log.Debug("unexpected mirror opcode", zap.Uint8("opcode", op))
	}
}
