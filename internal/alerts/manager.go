package alerts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nojoin/healthwatch/internal/config"
	"github.com/nojoin/healthwatch/internal/sampler"
)

// Handle identifies one open notification. The zero Handle means none.
type Handle uint64

// Sink is the notification system the manager drives. Persistent
// notifications must not auto-expire; the manager holds them open until it
// explicitly closes them.
type Sink interface {
	Open(kind, message string, persistent bool) (Handle, error)
	Close(h Handle) error
}

// Manager subscribes to sampler snapshots and drives a {Clear, Active}
// state machine per monitored condition. Exactly one notification handle is
// held per Active condition; the handle is non-zero iff the condition was
// evaluated Active on the most recently processed snapshot.
//
// Manager is safe for concurrent use.
type Manager struct {
	sink   Sink
	order  []config.Condition // dependencies before dependents
	byName map[string]config.Condition
	grace  time.Duration

	mu      sync.Mutex
	started time.Time
	active  map[string]bool
	handles map[string]Handle
	silence silenceDetector
	torn    bool

	now func() time.Time // injectable for deterministic tests
}

// New creates a Manager from the monitor configuration. The condition table
// is re-validated here so a programmatically built table with an undefined
// or cyclic dependency is rejected before any evaluation runs. The grace
// period clock starts immediately.
func New(cfg config.MonitorConfig, sink Sink) (*Manager, error) {
	if sink == nil {
		return nil, fmt.Errorf("alerts: sink is required")
	}
	if err := config.ValidateConditions(cfg.Conditions); err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	if cfg.Audio.SilenceTicks < 1 {
		return nil, fmt.Errorf("alerts: audio silence_ticks must be >= 1")
	}
	if cfg.Audio.SilenceFloor < 0 || cfg.Audio.SilenceFloor > 100 {
		return nil, fmt.Errorf("alerts: audio silence_floor %.1f is out of range [0, 100]", cfg.Audio.SilenceFloor)
	}

	byName := make(map[string]config.Condition, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		byName[c.Name] = c
	}

	m := &Manager{
		sink:    sink,
		order:   config.SortConditions(cfg.Conditions),
		byName:  byName,
		grace:   cfg.GracePeriod,
		active:  make(map[string]bool),
		handles: make(map[string]Handle),
		silence: silenceDetector{
			floor:     cfg.Audio.SilenceFloor,
			threshold: cfg.Audio.SilenceTicks,
		},
		now: time.Now,
	}
	m.started = m.now()
	return m, nil
}

// OnSnapshot re-evaluates every condition against snap. Conditions are
// walked with dependencies first, so a dependency opening this tick
// suppresses its dependents this same tick; a dependent is also held Clear
// while the dependency's signal is failing but its alert has not surfaced
// yet. At most one open or close side effect happens per condition per
// snapshot.
func (m *Manager) OnSnapshot(snap sampler.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.torn {
		return
	}

	m.silence.observe(snap)
	inGrace := m.now().Sub(m.started) < m.grace

	for _, c := range m.order {
		fire := m.conditionMet(c, snap)
		if fire && c.GraceGated && inGrace {
			fire = false
		}
		if fire && c.DependsOn != "" {
			if m.active[c.DependsOn] {
				fire = false
			} else if !m.active[c.Name] && m.dependencyFailing(c.DependsOn, snap) {
				// The dependency's signal is failing but its own condition has
				// not surfaced yet (debounce or grace). Hold the dependent
				// Clear so it never fronts for its root cause.
				fire = false
			}
		}

		switch {
		case fire && !m.active[c.Name]:
			m.open(c)
		case !fire && m.active[c.Name]:
			m.close(c)
		}
	}
}

// conditionMet evaluates the condition's predicate against snap.
// Debounced conditions require the signal's consecutive-failure counter to
// reach their threshold; a zero threshold fires on the first failed tick.
func (m *Manager) conditionMet(c config.Condition, snap sampler.Snapshot) bool {
	if c.Signal == config.SignalAudioSilence {
		return m.silence.active()
	}
	threshold := c.FailureThreshold
	if threshold < 1 {
		threshold = 1
	}
	return snap.FailureCount(sampler.Signal(c.Signal)) >= threshold
}

// dependencyFailing reports whether the named condition's underlying signal
// is failing on this snapshot, regardless of whether the condition itself
// has crossed its threshold or grace gate.
func (m *Manager) dependencyFailing(name string, snap sampler.Snapshot) bool {
	dep, ok := m.byName[name]
	if !ok {
		return false
	}
	if dep.Signal == config.SignalAudioSilence {
		return m.silence.input > 0 || m.silence.output > 0
	}
	return snap.FailureCount(sampler.Signal(dep.Signal)) > 0
}

// open transitions a condition Clear → Active. A sink failure is
// best-effort: the condition stays Clear and the open is retried on the
// next snapshot.
func (m *Manager) open(c config.Condition) {
	kind := c.Kind
	if kind == "" {
		kind = "warning"
	}
	h, err := m.sink.Open(kind, c.Message, true)
	if err != nil {
		slog.Error("alerts: open failed — retrying next tick",
			"condition", c.Name, "err", err)
		return
	}
	m.active[c.Name] = true
	m.handles[c.Name] = h
	slog.Warn("alerts: condition active",
		"condition", c.Name, "kind", kind, "handle", uint64(h))
}

// close transitions a condition Active → Clear. A failed sink close still
// clears the local handle so the manager never retries a dead handle.
func (m *Manager) close(c config.Condition) {
	h := m.handles[c.Name]
	delete(m.handles, c.Name)
	delete(m.active, c.Name)

	if err := m.sink.Close(h); err != nil {
		slog.Error("alerts: close failed — handle dropped",
			"condition", c.Name, "handle", uint64(h), "err", err)
		return
	}
	slog.Info("alerts: condition cleared", "condition", c.Name, "handle", uint64(h))
}

// Teardown closes every outstanding handle exactly once. Stopping the
// sampler leaves open notifications visible; this is the explicit path that
// retracts them on shutdown. Further snapshots are ignored after Teardown.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.torn {
		return
	}
	m.torn = true

	for _, c := range m.order {
		if m.active[c.Name] {
			m.close(c)
		}
	}
}

// Active reports whether the named condition was Active on the most
// recently processed snapshot.
func (m *Manager) Active(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[name]
}

// HandleFor returns the handle held for the named condition, or the zero
// Handle when the condition is Clear.
func (m *Manager) HandleFor(name string) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[name]
}
