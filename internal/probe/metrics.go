package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// workerUpGauge is the gauge the backend exports on /metrics: 1 when at
// least one background worker has sent a heartbeat recently, 0 otherwise.
const workerUpGauge = "nojoin_worker_up"

// Worker probes background-worker liveness through the backend's Prometheus
// exposition. The worker has no endpoint of its own; the backend tracks
// heartbeats and publishes the result as a gauge.
func Worker(client *http.Client, baseURL string) Func {
	url := baseURL + "/metrics"
	return func(ctx context.Context) (Reading, error) {
		mfs, err := fetchMetrics(ctx, client, url)
		if err != nil {
			return Reading{}, fmt.Errorf("worker probe: %w", err)
		}
		mf, ok := mfs[workerUpGauge]
		if !ok {
			return Reading{}, fmt.Errorf("worker probe: gauge %q not exported", workerUpGauge)
		}
		if gaugeValue(mf) < 1 {
			return Reading{}, fmt.Errorf("worker probe: no live worker heartbeat")
		}
		return Reading{Up: true}, nil
	}
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// gaugeValue returns the first gauge, counter, or untyped value in mf.
// Returns 0 if mf holds no samples.
func gaugeValue(mf *dto.MetricFamily) float64 {
	for _, m := range mf.GetMetric() {
		switch {
		case m.Gauge != nil:
			return m.Gauge.GetValue()
		case m.Counter != nil:
			return m.Counter.GetValue()
		case m.Untyped != nil:
			return m.Untyped.GetValue()
		}
	}
	return 0
}
