package config

import "fmt"

// knownSignals is the set of signals a condition may bind.
var knownSignals = map[string]bool{
	SignalBackendUp:    true,
	SignalDBUp:         true,
	SignalWorkerUp:     true,
	SignalCompanionUp:  true,
	SignalAudioSilence: true,
}

// validate checks structural constraints on the parsed configuration.
// A condition referencing an undefined or cyclic dependency is rejected
// here, at load time — never at evaluation time.
func validate(cfg *Config) error {
	m := &cfg.Monitor

	if m.PollInterval <= 0 {
		return fmt.Errorf("monitor.poll_interval must be > 0")
	}
	if m.ProbeTimeout <= 0 {
		return fmt.Errorf("monitor.probe_timeout must be > 0")
	}
	if m.ProbeTimeout > m.PollInterval {
		return fmt.Errorf("monitor.probe_timeout %v exceeds poll_interval %v", m.ProbeTimeout, m.PollInterval)
	}
	if m.GracePeriod < 0 {
		return fmt.Errorf("monitor.grace_period must not be negative")
	}
	if m.HTTPPort <= 0 || m.HTTPPort > 65535 {
		return fmt.Errorf("monitor.http_port %d is out of range [1, 65535]", m.HTTPPort)
	}
	if m.BackendURL == "" {
		return fmt.Errorf("monitor.backend_url is required")
	}
	if m.CompanionURL == "" {
		return fmt.Errorf("monitor.companion_url is required")
	}
	if m.Audio.SilenceFloor < 0 || m.Audio.SilenceFloor > 100 {
		return fmt.Errorf("monitor.audio.silence_floor %.1f is out of range [0, 100]", m.Audio.SilenceFloor)
	}
	if m.Audio.SilenceTicks < 1 {
		return fmt.Errorf("monitor.audio.silence_ticks must be >= 1")
	}

	return ValidateConditions(m.Conditions)
}

// ValidateConditions checks the condition table: unique non-empty names,
// known signals, valid kinds, and a dependency graph that is a DAG.
func ValidateConditions(conds []Condition) error {
	if len(conds) == 0 {
		return fmt.Errorf("at least one condition is required")
	}

	byName := make(map[string]Condition, len(conds))
	for _, c := range conds {
		if c.Name == "" {
			return fmt.Errorf("condition with empty name")
		}
		if _, dup := byName[c.Name]; dup {
			return fmt.Errorf("condition %q defined twice", c.Name)
		}
		if !knownSignals[c.Signal] {
			return fmt.Errorf("condition %q: unknown signal %q", c.Name, c.Signal)
		}
		switch c.Kind {
		case "error", "warning", "":
		default:
			return fmt.Errorf("condition %q: kind %q unknown: want error|warning", c.Name, c.Kind)
		}
		if c.FailureThreshold < 0 {
			return fmt.Errorf("condition %q: failure_threshold must not be negative", c.Name)
		}
		byName[c.Name] = c
	}

	for _, c := range conds {
		if c.DependsOn == "" {
			continue
		}
		if c.DependsOn == c.Name {
			return fmt.Errorf("condition %q depends on itself", c.Name)
		}
		if _, ok := byName[c.DependsOn]; !ok {
			return fmt.Errorf("condition %q depends on undefined condition %q", c.Name, c.DependsOn)
		}
	}

	// Walk each dependency chain; with self-loops excluded above, a chain
	// longer than the table means a cycle.
	for _, c := range conds {
		seen := map[string]bool{c.Name: true}
		cur := c.DependsOn
		for cur != "" {
			if seen[cur] {
				return fmt.Errorf("condition %q: dependency cycle through %q", c.Name, cur)
			}
			seen[cur] = true
			cur = byName[cur].DependsOn
		}
	}
	return nil
}

// SortConditions returns the condition table ordered so every dependency
// precedes its dependents, preserving the declared order otherwise. The
// alert manager evaluates conditions in this order so a dependency's
// suppression is visible to dependents within the same tick.
func SortConditions(conds []Condition) []Condition {
	byName := make(map[string]Condition, len(conds))
	for _, c := range conds {
		byName[c.Name] = c
	}

	out := make([]Condition, 0, len(conds))
	placed := make(map[string]bool, len(conds))

	var place func(c Condition)
	place = func(c Condition) {
		if placed[c.Name] {
			return
		}
		if dep, ok := byName[c.DependsOn]; ok {
			place(dep)
		}
		placed[c.Name] = true
		out = append(out, c)
	}
	for _, c := range conds {
		place(c)
	}
	return out
}
