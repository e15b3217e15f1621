package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nojoin/healthwatch/internal/probe"
)

// upProbe always succeeds with the given reading.
func upProbe(r probe.Reading) probe.Func {
	return func(ctx context.Context) (probe.Reading, error) { return r, nil }
}

// downProbe always fails.
func downProbe() probe.Func {
	return func(ctx context.Context) (probe.Reading, error) {
		return probe.Reading{}, errors.New("probe down")
	}
}

// allUpProbes returns a probe set where every signal succeeds.
func allUpProbes() Probes {
	return Probes{
		Backend:     upProbe(probe.Reading{Up: true}),
		Database:    upProbe(probe.Reading{Up: true}),
		Worker:      upProbe(probe.Reading{Up: true}),
		Companion:   upProbe(probe.Reading{Up: true}),
		AudioInput:  upProbe(probe.Reading{Up: true, Level: 50}),
		AudioOutput: upProbe(probe.Reading{Up: true, Level: 50}),
		Recording:   upProbe(probe.Reading{Up: true, Phase: probe.PhaseIdle}),
	}
}

func newTestSampler(t *testing.T, p Probes) *Sampler {
	t.Helper()
	s, err := New(time.Second, 100*time.Millisecond, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RequiresEveryProbe(t *testing.T) {
	p := allUpProbes()
	p.Worker = nil
	if _, err := New(time.Second, time.Second, p); err == nil {
		t.Error("want error for missing worker probe, got nil")
	}
	if _, err := New(0, time.Second, allUpProbes()); err == nil {
		t.Error("want error for zero interval, got nil")
	}
}

func TestTick_PublishesSnapshot(t *testing.T) {
	s := newTestSampler(t, allUpProbes())

	var got []Snapshot
	s.Subscribe(func(snap Snapshot) { got = append(got, snap) })

	s.tick(context.Background())

	if len(got) != 1 {
		t.Fatalf("published %d snapshots, want 1", len(got))
	}
	snap := got[0]
	if !snap.BackendUp || !snap.DBUp || !snap.WorkerUp || !snap.CompanionUp {
		t.Errorf("liveness: got %+v, want all up", snap)
	}
	if snap.AudioInput != 50 || snap.AudioOutput != 50 {
		t.Errorf("levels: got in=%v out=%v, want 50/50", snap.AudioInput, snap.AudioOutput)
	}
	for _, sig := range signalOrder {
		if n := snap.FailureCount(sig); n != 0 {
			t.Errorf("failure count for %s = %d, want 0", sig, n)
		}
	}
}

func TestTick_CountsConsecutiveFailures(t *testing.T) {
	p := allUpProbes()
	p.Backend = downProbe()
	s := newTestSampler(t, p)

	var last Snapshot
	s.Subscribe(func(snap Snapshot) { last = snap })

	for i := 1; i <= 3; i++ {
		s.tick(context.Background())
		if n := last.FailureCount(BackendUp); n != i {
			t.Errorf("after %d failing ticks: counter = %d, want %d", i, n, i)
		}
		if last.BackendUp {
			t.Error("BackendUp = true during failure")
		}
	}
}

func TestTick_SuccessResetsCounter(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	p := allUpProbes()
	p.Database = func(ctx context.Context) (probe.Reading, error) {
		if fail.Load() {
			return probe.Reading{}, errors.New("db probe down")
		}
		return probe.Reading{Up: true}, nil
	}
	s := newTestSampler(t, p)

	var last Snapshot
	s.Subscribe(func(snap Snapshot) { last = snap })

	for i := 0; i < 5; i++ {
		s.tick(context.Background())
	}
	if n := last.FailureCount(DBUp); n != 5 {
		t.Fatalf("counter = %d, want 5", n)
	}

	fail.Store(false)
	s.tick(context.Background())
	if n := last.FailureCount(DBUp); n != 0 {
		t.Errorf("counter after success = %d, want 0", n)
	}
	if !last.DBUp {
		t.Error("DBUp = false after successful probe")
	}
}

func TestTick_SlowProbeDoesNotBlockOthers(t *testing.T) {
	p := allUpProbes()
	// The companion probe hangs until its per-probe timeout fires.
	p.Companion = func(ctx context.Context) (probe.Reading, error) {
		<-ctx.Done()
		return probe.Reading{}, ctx.Err()
	}
	s := newTestSampler(t, p)

	var last Snapshot
	s.Subscribe(func(snap Snapshot) { last = snap })

	start := time.Now()
	s.tick(context.Background())
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Errorf("tick took %v, want bounded by the 100ms probe timeout", elapsed)
	}
	if last.CompanionUp {
		t.Error("CompanionUp = true, want failure for timed-out probe")
	}
	if !last.BackendUp {
		t.Error("BackendUp = false, want unaffected by slow companion probe")
	}
}

func TestSubscribe_DeterministicOrder(t *testing.T) {
	s := newTestSampler(t, allUpProbes())

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		s.Subscribe(func(Snapshot) { order = append(order, i) })
	}
	s.tick(context.Background())

	for i, got := range order {
		if got != i {
			t.Fatalf("subscriber order = %v, want registration order", order)
		}
	}
}

func TestCurrent_TracksLastSnapshot(t *testing.T) {
	s := newTestSampler(t, allUpProbes())

	if _, ok := s.Current(); ok {
		t.Error("Current before first tick: ok = true, want false")
	}
	s.tick(context.Background())
	snap, ok := s.Current()
	if !ok {
		t.Fatal("Current after tick: ok = false, want true")
	}
	if !snap.BackendUp {
		t.Error("Current snapshot lost probe results")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	var ticks atomic.Int64
	p := allUpProbes()
	p.Backend = func(ctx context.Context) (probe.Reading, error) {
		ticks.Add(1)
		return probe.Reading{Up: true}, nil
	}

	s, err := New(5*time.Millisecond, 2*time.Millisecond, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start()
	s.Start() // no-op
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	after := ticks.Load()
	if after == 0 {
		t.Fatal("no ticks ran while started")
	}

	// No further publications after Stop returns.
	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Errorf("ticks after Stop: %d, want %d", got, after)
	}

	s.Stop() // no-op

	// Restart works.
	s.Start()
	time.Sleep(15 * time.Millisecond)
	s.Stop()
	if got := ticks.Load(); got <= after {
		t.Error("no ticks ran after restart")
	}
}
