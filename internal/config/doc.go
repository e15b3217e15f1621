// Package config loads the monitor configuration from config.yaml.
//
// Config fields (under `monitor:`):
//   - poll_interval  — how often every signal is probed (default 10s)
//   - probe_timeout  — bound on each individual probe call (default 5s)
//   - grace_period   — startup warm-up suppressing gated conditions (default 60s)
//   - http_port      — local alert list / WebSocket port (default 8686)
//   - backend_url    — backend API base URL
//   - companion_url  — local companion base URL
//   - audio          — silence floor and consecutive-tick threshold
//   - conditions     — monitored-condition table (reference table when empty)
//
// Load(path) applies defaults before unmarshalling, then validates — a
// condition naming an undefined or cyclic dependency is rejected here, at
// load time.
package config
