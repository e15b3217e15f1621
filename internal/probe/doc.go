// Package probe builds the per-signal probe functions the sampler polls:
// HTTP health checks against the backend API, JSON status and audio-meter
// reads against the local companion process, and a Prometheus-exposition
// scrape for background-worker liveness. Probes return data or an error;
// an error is a failed sample, never a fault.
package probe
