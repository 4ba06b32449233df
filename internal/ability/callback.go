package ability

import (
	"fmt"

	"go.uber.org/zap"
)

// EventKind names a callback channel.
type EventKind uint8

const (
	EventInvoked EventKind = iota
	EventActivated
	EventDeactivated
	EventChargeDecremented
	EventCancelled

	eventKindCount
)

func (k EventKind) String() string {
	switch k {
	case EventInvoked:
		return "invoked"
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	case EventChargeDecremented:
		return "charge_decremented"
	case EventCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is one ability transition.
type Event struct {
	Kind    EventKind
	Handler *Handler
	Ability *Ability
	AuxOnly bool
}

// Listener receives ability events. Implementations must be comparable
// (pointer types are) since subscriptions are deduplicated by identity.
type Listener interface {
	OnAbilityEvent(ev Event)
}

type funcListener struct {
	fn func(Event)
}

func (l *funcListener) OnAbilityEvent(ev Event) { l.fn(ev) }

// NewListener wraps fn. Keep the returned value to unsubscribe.
func NewListener(fn func(Event)) Listener {
	return &funcListener{fn: fn}
}

// CallbackBus notifies external systems of a handler's ability transitions.
// Anyone may subscribe; only the owning handler publishes.
type CallbackBus struct {
	log  *zap.Logger
	sets [eventKindCount]listenerSet
}

type listenerSet struct {
	listeners   []Listener
	dispatching int
	pending     []pendingChange
}

type pendingChange struct {
	add bool
	l   Listener
}

func newCallbackBus(log *zap.Logger) *CallbackBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &CallbackBus{log: log}
}

// Subscribe adds l to the kind channel. It returns false if l is already
// subscribed. During a dispatch the change applies once the dispatch ends.
func (b *CallbackBus) Subscribe(kind EventKind, l Listener) bool {
	if kind >= eventKindCount || l == nil {
		return false
	}
	s := &b.sets[kind]
	if s.contains(l) {
		return false
	}
	if s.dispatching > 0 {
		s.pending = append(s.pending, pendingChange{add: true, l: l})
		return true
	}
	s.listeners = append(s.listeners, l)
	return true
}

// Unsubscribe removes l from the kind channel. A listener may unsubscribe
// itself from inside its own callback.
func (b *CallbackBus) Unsubscribe(kind EventKind, l Listener) bool {
	if kind >= eventKindCount || l == nil {
		return false
	}
	s := &b.sets[kind]
	if !s.contains(l) {
		return false
	}
	if s.dispatching > 0 {
		s.pending = append(s.pending, pendingChange{l: l})
		return true
	}
	s.drop(l)
	return true
}

// Count returns the number of listeners on kind.
func (b *CallbackBus) Count(kind EventKind) int {
	if kind >= eventKindCount {
		return 0
	}
	s := &b.sets[kind]
	n := 0
	for _, l := range s.listeners {
		if s.effective(l) {
			n++
		}
	}
	for _, p := range s.pending {
		if p.add && !s.has(p.l) && s.effective(p.l) {
			n++
		}
	}
	return n
}

func (b *CallbackBus) publish(ev Event) {
	if ev.Kind >= eventKindCount {
		return
	}
	s := &b.sets[ev.Kind]
	s.dispatching++
	for i := 0; i < len(s.listeners); i++ {
		b.call(s.listeners[i], ev)
	}
	s.dispatching--
	if s.dispatching == 0 {
		s.flush()
	}
}

// call isolates one listener: a panic is logged and dispatch continues.
func (b *CallbackBus) call(l Listener, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("ability listener panic recovered",
				zap.Stringer("event", ev.Kind),
				zap.String("ability", ev.Ability.Key()),
				zap.Any("panic", rec),
			)
		}
	}()
	l.OnAbilityEvent(ev)
}

func (s *listenerSet) has(l Listener) bool {
	for _, x := range s.listeners {
		if x == l {
			return true
		}
	}
	return false
}

// effective reports whether l ends up subscribed once pending changes apply.
func (s *listenerSet) effective(l Listener) bool {
	in := s.has(l)
	for _, p := range s.pending {
		if p.l == l {
			in = p.add
		}
	}
	return in
}

func (s *listenerSet) contains(l Listener) bool {
	return s.effective(l)
}

func (s *listenerSet) drop(l Listener) {
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *listenerSet) flush() {
	changes := s.pending
	s.pending = nil
	for _, p := range changes {
		if p.add {
			if !s.has(p.l) {
				s.listeners = append(s.listeners, p.l)
			}
		} else {
			s.drop(p.l)
		}
	}
}
