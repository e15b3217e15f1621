package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nojoin/healthwatch/internal/probe"
)

// Signal names one independently polled liveness or quality measurement.
type Signal string

const (
	BackendUp        Signal = "backend_up"
	DBUp             Signal = "db_up"
	WorkerUp         Signal = "worker_up"
	CompanionUp      Signal = "companion_up"
	AudioInputLevel  Signal = "audio_input_level"
	AudioOutputLevel Signal = "audio_output_level"
	RecordingPhase   Signal = "recording_phase"
)

// signalOrder is the fixed order signals are probed and reported in.
var signalOrder = []Signal{
	BackendUp, DBUp, WorkerUp, CompanionUp,
	AudioInputLevel, AudioOutputLevel, RecordingPhase,
}

// Snapshot is the immutable per-tick view of every signal plus its
// consecutive-failure counter. Subscribers must not modify the Failures map.
type Snapshot struct {
	Taken time.Time

	BackendUp   bool
	DBUp        bool
	WorkerUp    bool
	CompanionUp bool

	// AudioInput and AudioOutput are meter levels on a 0–100 scale.
	// They read 0 when the level probe failed this tick.
	AudioInput  float64
	AudioOutput float64

	Phase probe.Phase

	Failures map[Signal]int
}

// FailureCount returns the consecutive-failure counter for sig.
func (s Snapshot) FailureCount(sig Signal) int {
	return s.Failures[sig]
}

// Probes is the full probe set the sampler polls each tick.
// Every field is required.
type Probes struct {
	Backend     probe.Func
	Database    probe.Func
	Worker      probe.Func
	Companion   probe.Func
	AudioInput  probe.Func
	AudioOutput probe.Func
	Recording   probe.Func
}

func (p Probes) forSignal(sig Signal) probe.Func {
	switch sig {
	case BackendUp:
		return p.Backend
	case DBUp:
		return p.Database
	case WorkerUp:
		return p.Worker
	case CompanionUp:
		return p.Companion
	case AudioInputLevel:
		return p.AudioInput
	case AudioOutputLevel:
		return p.AudioOutput
	case RecordingPhase:
		return p.Recording
	default:
		return nil
	}
}

// Sampler owns the recurring poll cycle. Each tick it probes every signal,
// updates the per-signal consecutive-failure counters, and publishes a new
// Snapshot to subscribers in registration order. The sampler knows nothing
// about conditions or notifications.
type Sampler struct {
	interval time.Duration
	timeout  time.Duration
	probes   Probes

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	subs     []func(Snapshot)
	counters map[Signal]int
	last     Snapshot
	hasLast  bool

	now func() time.Time // injectable for deterministic tests
}

// New creates a Sampler polling every interval with a per-probe timeout.
// Every signal must have a probe.
func New(interval, timeout time.Duration, p Probes) (*Sampler, error) {
	if interval <= 0 {
		return nil, errors.New("sampler: interval must be > 0")
	}
	if timeout <= 0 {
		return nil, errors.New("sampler: probe timeout must be > 0")
	}
	for _, sig := range signalOrder {
		if p.forSignal(sig) == nil {
			return nil, fmt.Errorf("sampler: no probe for signal %q", sig)
		}
	}
	return &Sampler{
		interval: interval,
		timeout:  timeout,
		probes:   p,
		counters: make(map[Signal]int),
		now:      time.Now,
	}, nil
}

// Subscribe registers fn to receive every published Snapshot. Subscribers
// are invoked synchronously within the poll tick, in registration order.
// Subscribe must be called before Start.
func (s *Sampler) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Current returns the most recently published Snapshot, if any.
func (s *Sampler) Current() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Start begins the poll cycle. Calling Start while already running is a no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, s.done)
	slog.Info("sampler: started", "interval", s.interval)
}

// Stop cancels the poll cycle and waits for the in-flight tick, if any, to
// finish. No Snapshot is published after Stop returns. Calling Stop while
// stopped is a no-op. Stop does not close open notifications — that is the
// alert manager's teardown path.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("sampler: stopped")
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First cycle runs immediately so the UI is not blind for one interval.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one full poll cycle and publishes the resulting Snapshot.
// Probes run concurrently so a slow or failing probe never blocks the rest;
// each is bounded by the per-probe timeout.
func (s *Sampler) tick(ctx context.Context) {
	type outcome struct {
		reading probe.Reading
		err     error
	}
	results := make([]outcome, len(signalOrder))

	var wg sync.WaitGroup
	for i, sig := range signalOrder {
		fn := s.probes.forSignal(sig)
		wg.Add(1)
		go func(i int, fn probe.Func) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			r, err := fn(pctx)
			results[i] = outcome{reading: r, err: err}
		}(i, fn)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return // stopped mid-cycle; do not publish
	}

	snap := Snapshot{
		Taken:    s.now(),
		Failures: make(map[Signal]int, len(signalOrder)),
	}

	for i, sig := range signalOrder {
		res := results[i]
		failed := res.err != nil || !res.reading.Up
		if failed {
			s.counters[sig]++
			if res.err != nil {
				slog.Debug("sampler: probe failed",
					"signal", string(sig),
					"consecutive", s.counters[sig],
					"err", res.err,
				)
			}
		} else {
			s.counters[sig] = 0
		}

		switch sig {
		case BackendUp:
			snap.BackendUp = !failed
		case DBUp:
			snap.DBUp = !failed
		case WorkerUp:
			snap.WorkerUp = !failed
		case CompanionUp:
			snap.CompanionUp = !failed
		case AudioInputLevel:
			if !failed {
				snap.AudioInput = res.reading.Level
			}
		case AudioOutputLevel:
			if !failed {
				snap.AudioOutput = res.reading.Level
			}
		case RecordingPhase:
			// A failed phase probe reads as idle, which parks the audio
			// silence detector rather than feeding it stale data.
			if !failed {
				snap.Phase = res.reading.Phase
			}
		}
		snap.Failures[sig] = s.counters[sig]
	}

	s.mu.Lock()
	s.last = snap
	s.hasLast = true
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
