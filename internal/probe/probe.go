package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultProbeTimeout = 5 * time.Second

// Phase is the companion recorder's current phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRecording
	PhasePaused
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseRecording:
		return "recording"
	case PhasePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Reading is the normalized output of one probe call. Which field is
// meaningful depends on the signal the probe serves: liveness probes set Up,
// audio meter probes set Level (0–100), the recorder-phase probe sets Phase.
type Reading struct {
	Up    bool
	Level float64
	Phase Phase
}

// Func performs one probe of a single signal. A non-nil error means the
// signal failed this cycle; the sampler treats the error as data, never
// as a fault.
type Func func(ctx context.Context) (Reading, error)

// NewClient builds the HTTP client shared by all probes. The client is
// built once and reused across probe calls; timeout bounds every probe so
// a hung endpoint cannot stall a poll cycle.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Backend probes the backend API's root health endpoint. Any HTTP 200
// response counts as up; the body is not inspected beyond draining it.
func Backend(client *http.Client, baseURL string) Func {
	url := baseURL + "/health"
	return func(ctx context.Context) (Reading, error) {
		if err := getOK(ctx, client, url); err != nil {
			return Reading{}, fmt.Errorf("backend probe: %w", err)
		}
		return Reading{Up: true}, nil
	}
}

// Database probes database reachability through the backend API. The
// database is never reachable directly from the client; a down backend
// makes this probe fail too, which is why the alert layer suppresses the
// database condition while the backend condition is active.
func Database(client *http.Client, baseURL string) Func {
	url := baseURL + "/api/v1/health/db"
	return func(ctx context.Context) (Reading, error) {
		if err := getOK(ctx, client, url); err != nil {
			return Reading{}, fmt.Errorf("database probe: %w", err)
		}
		return Reading{Up: true}, nil
	}
}

// CompanionStatus probes the local companion process and reports its
// recording phase. The companion listens on loopback only.
func CompanionStatus(client *http.Client, baseURL string) Func {
	url := baseURL + "/status"
	return func(ctx context.Context) (Reading, error) {
		var body struct {
			Status string `json:"status"`
		}
		if err := getJSON(ctx, client, url, &body); err != nil {
			return Reading{}, fmt.Errorf("companion probe: %w", err)
		}
		return Reading{Up: true, Phase: parsePhase(body.Status)}, nil
	}
}

// AudioLevel returns a probe for one of the companion's audio meters.
// channel selects which meter: "input" (microphone) or "output"
// (system audio). Levels are on a 0–100 scale; a negative level is
// reported as an error so the sampler counts it as a failed sample.
func AudioLevel(client *http.Client, baseURL, channel string) Func {
	url := baseURL + "/levels"
	return func(ctx context.Context) (Reading, error) {
		var body struct {
			InputLevel  float64 `json:"input_level"`
			OutputLevel float64 `json:"output_level"`
		}
		if err := getJSON(ctx, client, url, &body); err != nil {
			return Reading{}, fmt.Errorf("audio %s probe: %w", channel, err)
		}
		level := body.InputLevel
		if channel == "output" {
			level = body.OutputLevel
		}
		if level < 0 {
			return Reading{}, fmt.Errorf("audio %s probe: negative level %.1f", channel, level)
		}
		if level > 100 {
			level = 100
		}
		return Reading{Up: true, Level: level}, nil
	}
}

func parsePhase(status string) Phase {
	switch status {
	case "Recording", "recording":
		return PhaseRecording
	case "Paused", "paused":
		return PhasePaused
	default:
		return PhaseIdle
	}
}

// getOK performs a GET and requires an HTTP 200.
func getOK(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// getJSON performs a GET and decodes a JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
