package ability

import (
	"context"
	"sync"

	"github.com/abilitynet/abilityd/internal/core/ecs"
	"github.com/abilitynet/abilityd/internal/net/packet"
)

type testEntity struct {
	id     ecs.EntityID
	owner  bool
	server bool
	stats  map[string]float64
}

func newTestEntity(index uint32, owner bool) *testEntity {
	return &testEntity{id: ecs.NewEntityID(index, 0), owner: owner, stats: map[string]float64{}}
}

func (e *testEntity) EntityID() ecs.EntityID    { return e.id }
func (e *testEntity) IsOwner() bool             { return e.owner }
func (e *testEntity) IsServer() bool            { return e.server }
func (e *testEntity) Stat(name string) float64  { return e.stats[name] }
func (e *testEntity) Stats() map[string]float64 { return e.stats }

// recordTransport captures outgoing messages.
type recordTransport struct {
	snapshots [][]byte
	mirrors   [][]byte
	toOwner   [][]byte
}

func (t *recordTransport) PublishSnapshot(_ ecs.EntityID, msg []byte) {
	t.snapshots = append(t.snapshots, msg)
}

func (t *recordTransport) Mirror(_ ecs.EntityID, msg []byte) {
	t.mirrors = append(t.mirrors, msg)
}

func (t *recordTransport) SendToOwner(_ ecs.EntityID, msg []byte) {
	t.toOwner = append(t.toOwner, msg)
}

func (t *recordTransport) lastSnapshot() []byte {
	if len(t.snapshots) == 0 {
		return nil
	}
	return t.snapshots[len(t.snapshots)-1]
}

func (t *recordTransport) mirrorOps() []byte {
	ops := make([]byte, 0, len(t.mirrors))
	for _, m := range t.mirrors {
		ops = append(ops, m[0])
	}
	return ops
}

type fakeAnimator struct {
	params    map[string]ActionParams
	triggered []ActionParams
}

func newFakeAnimator(params ...string) *fakeAnimator {
	a := &fakeAnimator{params: map[string]ActionParams{}}
	for _, p := range params {
		a.params[p] = ActionParams{Param: p, Duration: 0.5}
	}
	return a
}

func (a *fakeAnimator) ResolveAction(param string) (ActionParams, bool) {
	p, ok := a.params[param]
	return p, ok
}

func (a *fakeAnimator) TriggerAction(p ActionParams) {
	a.triggered = append(a.triggered, p)
}

// hookCall is one recorded hook invocation.
type hookCall struct {
	name    string
	auxOnly bool
}

type recordingHooks struct {
	calls []hookCall
	inits int
}

func (r *recordingHooks) OnInitialize(*Ability) { r.inits++ }
func (r *recordingHooks) OnAdded(_ *Handler, _ *Ability, aux, _ bool) {
	r.calls = append(r.calls, hookCall{"added", aux})
}
func (r *recordingHooks) OnRemoved(_ *Handler, _ *Ability, aux, _ bool) {
	r.calls = append(r.calls, hookCall{"removed", aux})
}
func (r *recordingHooks) OnActivate(_ *Handler, _ *Ability, aux bool) {
	r.calls = append(r.calls, hookCall{"activate", aux})
}
func (r *recordingHooks) OnDeactivate(_ *Handler, _ *Ability, aux bool) {
	r.calls = append(r.calls, hookCall{"deactivate", aux})
}
func (r *recordingHooks) OnInvoked(_ *Handler, _ *Ability, aux bool) {
	r.calls = append(r.calls, hookCall{"invoked", aux})
}
func (r *recordingHooks) OnCancelled(_ *Handler, _ *Ability, aux bool) {
	r.calls = append(r.calls, hookCall{"cancelled", aux})
}

func (r *recordingHooks) names() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.name)
	}
	return out
}

func (r *recordingHooks) count(name string, aux bool) int {
	n := 0
	for _, c := range r.calls {
		if c.name == name && c.auxOnly == aux {
			n++
		}
	}
	return n
}

func (r *recordingHooks) reset() { r.calls = nil }

type tickHooks struct {
	NopHooks
	ticks int
}

func (t *tickHooks) Tick(*Ability, float32) { t.ticks++ }

// memStore is an in-memory Store.
type memStore struct {
	mu    sync.Mutex
	saves map[string]SaveData
}

func newMemStore() *memStore {
	return &memStore{saves: map[string]SaveData{}}
}

func (s *memStore) LoadAbilities(_ context.Context, key string) (SaveData, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.saves[key]
	return d, ok, nil
}

func (s *memStore) SaveAbilities(_ context.Context, key string, data SaveData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[key] = data
	return nil
}

func netSyncFlags() Flags {
	return Flags{
		HasCooldown:         true,
		HasCharges:          true,
		Instant:             true,
		AutoNetSync:         true,
		AutoPersist:         true,
		AutoChargeDecrement: true,
	}
}

// dashConfig is an instant ability with a 3s cooldown and 2 charges filled
// by 10 units of progress.
func dashConfig(hooks Hooks) Config {
	return Config{
		Key:   "dash",
		Flags: netSyncFlags(),
		Caps:  StaticCaps{Cooldown: 3, Charges: 2, ChargeProgress: 10},
		Hooks: hooks,
	}
}

// slashConfig is an action ability gated by the "slash" animation.
func slashConfig(hooks Hooks, sync bool) Config {
	f := netSyncFlags()
	f.Instant = true
	return Config{
		Key:    "slash",
		Flags:  f,
		Caps:   StaticCaps{Cooldown: 2, Charges: 1, ChargeProgress: 5},
		Hooks:  hooks,
		Action: &ActionConfig{AnimParam: "slash", SyncActivation: sync},
	}
}

func mustRegister(r *Registry, cfg Config) *Ability {
	a := New(cfg)
	if err := r.Register(a); err != nil {
		panic(err)
	}
	return a
}

// peer pairs an owner handler with an observer handler of the same entity.
type peer struct {
	reg      *Registry
	owner    *Handler
	observer *Handler
	out      *recordTransport
	obsOut   *recordTransport
}

func newPeerPair(reg *Registry, anim Animator) *peer {
	out := &recordTransport{}
	obsOut := &recordTransport{}
	return &peer{
		reg:      reg,
		out:      out,
		obsOut:   obsOut,
		owner:    NewHandler(newTestEntity(1, true), Options{Registry: reg, Transport: out, Animator: anim}),
		observer: NewHandler(newTestEntity(1, false), Options{Registry: reg, Transport: obsOut, Animator: anim}),
	}
}

// deliver applies every pending snapshot and mirror from the owner to the
// observer, in send order per channel.
func (p *peer) deliver() {
	for _, msg := range p.out.snapshots {
		p.observer.HandleSnapshot(payload(msg))
	}
	for _, msg := range p.out.mirrors {
		p.observer.HandleMirror(msg[0], payload(msg))
	}
	p.out.snapshots = nil
	p.out.mirrors = nil
}

// payload positions a reader after the opcode and entity header.
func payload(msg []byte) *packet.Reader {
	r := packet.NewReader(msg)
	r.ReadEntity()
	return r
}
