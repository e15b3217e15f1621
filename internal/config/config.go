package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the monitor configuration.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second
	DefaultGracePeriod  = 60 * time.Second
	DefaultHTTPPort     = 8686
	DefaultBackendURL   = "http://localhost:8000"
	DefaultCompanionURL = "http://127.0.0.1:12345"

	// DefaultSilenceFloor is the loudness floor on the 0–100 meter scale;
	// samples at or below it count as silent.
	DefaultSilenceFloor = 2.0

	// DefaultSilenceTicks is how many consecutive silent samples both
	// channels need before the no-audio condition fires.
	DefaultSilenceTicks = 3
)

// Config holds the full monitor configuration parsed from config.yaml.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
}

// MonitorConfig holds all monitor settings.
type MonitorConfig struct {
	// PollInterval is how often every signal is probed (default 10s).
	PollInterval time.Duration `yaml:"poll_interval"`

	// ProbeTimeout bounds each individual probe call (default 5s).
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// GracePeriod is the warm-up window after startup during which
	// grace-gated conditions are suppressed (default 60s).
	GracePeriod time.Duration `yaml:"grace_period"`

	// HTTPPort is the local port serving the alert list and WebSocket
	// stream to the UI (default 8686).
	HTTPPort int `yaml:"http_port"`

	// BackendURL is the base URL of the backend API.
	BackendURL string `yaml:"backend_url"`

	// CompanionURL is the base URL of the local companion process.
	CompanionURL string `yaml:"companion_url"`

	// Audio configures the silence sub-detector.
	Audio AudioConfig `yaml:"audio"`

	// Conditions is the monitored-condition table. When empty, the
	// reference table is installed (see DefaultConditions).
	Conditions []Condition `yaml:"conditions"`
}

// AudioConfig configures the audio silence sub-detector.
type AudioConfig struct {
	// SilenceFloor is the loudness floor on the 0–100 meter scale.
	SilenceFloor float64 `yaml:"silence_floor"`

	// SilenceTicks is the consecutive-sample threshold for both channels.
	SilenceTicks int `yaml:"silence_ticks"`
}

// Condition signal bindings. Each condition watches one signal; the
// no-audio condition binds the composite audio_silence detector instead
// of a single signal.
const (
	SignalBackendUp    = "backend_up"
	SignalDBUp         = "db_up"
	SignalWorkerUp     = "worker_up"
	SignalCompanionUp  = "companion_up"
	SignalAudioSilence = "audio_silence"
)

// Condition defines one monitored condition: which signal it watches, how
// many consecutive failed ticks it debounces over, whether it is gated by
// the startup grace period, and which condition suppresses it when active.
type Condition struct {
	// Name is the stable condition identifier, used as the handle key.
	Name string `yaml:"name"`

	// Signal is one of the Signal* constants above.
	Signal string `yaml:"signal"`

	// Kind is the notification kind shown to the user: error | warning.
	Kind string `yaml:"kind"`

	// Message is the user-facing alert text.
	Message string `yaml:"message"`

	// FailureThreshold is the consecutive failed ticks required before the
	// condition fires. Zero means the first failure fires it.
	FailureThreshold int `yaml:"failure_threshold"`

	// GraceGated suppresses the condition during the startup grace period.
	GraceGated bool `yaml:"grace_gated"`

	// DependsOn names a condition whose Active state suppresses this one,
	// so a specific failure never also surfaces its root cause's alert.
	DependsOn string `yaml:"depends_on"`
}

// DefaultConditions returns the reference condition table: the backend and
// companion conditions debounce over 3 ticks and are grace-gated, the
// worker condition is grace-gated only, the database condition fires on the
// first observed failure but is suppressed while the backend is down, and
// the no-audio condition is driven by the composite silence detector.
func DefaultConditions() []Condition {
	return []Condition{
		{
			Name:             "backend_unreachable",
			Signal:           SignalBackendUp,
			Kind:             "error",
			Message:          "Cannot reach the Nojoin backend. Recordings will not sync until the connection is restored.",
			FailureThreshold: 3,
			GraceGated:       true,
		},
		{
			Name:      "database_unavailable",
			Signal:    SignalDBUp,
			Kind:      "error",
			Message:   "The backend database is unavailable. Changes cannot be saved right now.",
			DependsOn: "backend_unreachable",
		},
		{
			Name:       "worker_stalled",
			Signal:     SignalWorkerUp,
			Kind:       "warning",
			Message:    "The processing worker is not responding. Transcription jobs are paused.",
			GraceGated: true,
		},
		{
			Name:             "companion_unreachable",
			Signal:           SignalCompanionUp,
			Kind:             "error",
			Message:          "The recording companion is not running. Start it to record meetings.",
			FailureThreshold: 3,
			GraceGated:       true,
		},
		{
			Name:    "no_audio",
			Signal:  SignalAudioSilence,
			Kind:    "warning",
			Message: "No audio detected from microphone or speakers.",
		},
	}
}

// Load reads and parses the config file at path, returning the monitor
// configuration. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("monitor config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("monitor config: parse yaml: %w", err)
	}
	if len(cfg.Monitor.Conditions) == 0 {
		cfg.Monitor.Conditions = DefaultConditions()
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("monitor config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			PollInterval: DefaultPollInterval,
			ProbeTimeout: DefaultProbeTimeout,
			GracePeriod:  DefaultGracePeriod,
			HTTPPort:     DefaultHTTPPort,
			BackendURL:   DefaultBackendURL,
			CompanionURL: DefaultCompanionURL,
			Audio: AudioConfig{
				SilenceFloor: DefaultSilenceFloor,
				SilenceTicks: DefaultSilenceTicks,
			},
		},
	}
}
