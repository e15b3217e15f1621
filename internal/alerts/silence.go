package alerts

import (
	"github.com/nojoin/healthwatch/internal/probe"
	"github.com/nojoin/healthwatch/internal/sampler"
)

// silenceDetector tracks consecutive below-floor samples on both audio
// channels while a recording is in progress. The composite no-audio
// predicate holds only when both counters reach the threshold on the same
// tick — neither the microphone nor system audio is producing signal, not
// merely one muted channel.
type silenceDetector struct {
	floor     float64
	threshold int

	input  int
	output int
}

// observe updates the counters for one snapshot. Leaving the recording
// phase, or either channel rising above the floor, resets both counters
// immediately.
func (d *silenceDetector) observe(snap sampler.Snapshot) {
	if snap.Phase != probe.PhaseRecording ||
		snap.AudioInput > d.floor || snap.AudioOutput > d.floor {
		d.input, d.output = 0, 0
		return
	}
	d.input++
	d.output++
}

// active reports whether both channels have been silent for the threshold.
func (d *silenceDetector) active() bool {
	return d.input >= d.threshold && d.output >= d.threshold
}
