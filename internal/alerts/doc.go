// Package alerts turns sampler snapshots into stable user-facing
// notifications. Each monitored condition runs a {Clear, Active} state
// machine with debounce thresholds, a startup grace period, and dependency
// suppression so a specific failure never also surfaces its root cause's
// alert. One notification handle is held per Active condition; Teardown
// retracts everything on shutdown.
package alerts
