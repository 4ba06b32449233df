package ability

// stateList is the ordered, ID-deduplicated ability collection of a handler.
// While locked, structural changes are queued and applied on the final
// unlock, so callbacks fired mid-iteration cannot corrupt the walk. Value
// updates of an entry already present apply in place.
type stateList struct {
	items   []State
	locks   int
	pending []listOp
}

type listOp struct {
	remove bool
	st     State
}

func (l *stateList) index(id uint16) int {
	for i := range l.items {
		if l.items[i].ID() == id {
			return i
		}
	}
	return -1
}

func (l *stateList) pendingOp(id uint16) (int, bool) {
	for i := len(l.pending) - 1; i >= 0; i-- {
		if l.pending[i].st.ID() == id {
			return i, true
		}
	}
	return -1, false
}

// get returns the effective state for id, including queued changes.
func (l *stateList) get(id uint16) (State, bool) {
	if i, ok := l.pendingOp(id); ok {
		op := l.pending[i]
		if op.remove {
			return State{}, false
		}
		return op.st, true
	}
	if i := l.index(id); i >= 0 {
		return l.items[i], true
	}
	return State{}, false
}

func (l *stateList) put(st State) {
	id := st.ID()
	if i, ok := l.pendingOp(id); ok {
		if !l.pending[i].remove {
			l.pending[i].st = st
			return
		}
		l.pending = append(l.pending, listOp{st: st})
		return
	}
	if i := l.index(id); i >= 0 {
		l.items[i] = st
		return
	}
	if l.locks > 0 {
		l.pending = append(l.pending, listOp{st: st})
		return
	}
	l.items = append(l.items, st)
}

func (l *stateList) remove(id uint16) {
	if l.locks > 0 {
		l.pending = append(l.pending, listOp{remove: true, st: State{Ability: l.abilityFor(id)}})
		return
	}
	if i := l.index(id); i >= 0 {
		l.items = append(l.items[:i], l.items[i+1:]...)
	}
}

func (l *stateList) abilityFor(id uint16) *Ability {
	if st, ok := l.get(id); ok {
		return st.Ability
	}
	return nil
}

func (l *stateList) lock() { l.locks++ }

// unlock releases one lock and flushes queued changes when none remain.
func (l *stateList) unlock() {
	if l.locks == 0 {
		return
	}
	l.locks--
	if l.locks > 0 {
		return
	}
	l.items = l.snapshot()
	l.pending = nil
}

func (l *stateList) locked() bool { return l.locks > 0 }

// snapshot returns a copy of the effective collection.
func (l *stateList) snapshot() []State {
	out := append(make([]State, 0, len(l.items)+len(l.pending)), l.items...)
	for _, op := range l.pending {
		out = applyOp(out, op)
	}
	return out
}

func applyOp(items []State, op listOp) []State {
	id := op.st.ID()
	for i := range items {
		if items[i].ID() != id {
			continue
		}
		if op.remove {
			return append(items[:i], items[i+1:]...)
		}
		items[i] = op.st
		return items
	}
	if op.remove {
		return items
	}
	return append(items, op.st)
}

func (l *stateList) len() int {
	if len(l.pending) == 0 {
		return len(l.items)
	}
	return len(l.snapshot())
}
