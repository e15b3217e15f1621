// Package sampler owns the recurring poll cycle over the monitored signals.
// Each tick it probes every signal independently, tracks consecutive-failure
// counters, and publishes an immutable Snapshot to subscribers in
// registration order. It answers "what do we currently believe is true, and
// for how many consecutive ticks has it been false?" — nothing more; alert
// decisions live in package alerts.
package sampler
