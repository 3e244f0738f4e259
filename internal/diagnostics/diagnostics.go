// Package diagnostics renders a redacted report of the running monitor,
// suitable for attaching to a support request.
package diagnostics

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/envoymon/internal/config"
	"codeberg.org/mutker/envoymon/internal/coordinator"
	"codeberg.org/mutker/envoymon/internal/envoy"
	"codeberg.org/mutker/envoymon/internal/errors"
)

// Redacted replaces the value of any sensitive config key in the report.
const Redacted = "**REDACTED**"

var redactedKeys = map[string]struct{}{
	"name":      {},
	"password":  {},
	"title":     {},
	"token":     {},
	"unique_id": {},
	"username":  {},
}

// Report is the diagnostics document. Credentials never appear in it.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Config      map[string]interface{} `json:"config"`
	Snapshot    *SnapshotSummary       `json:"snapshot,omitempty"`
	Conditions  Conditions             `json:"conditions"`
}

// SnapshotSummary describes the most recent successful poll. Batteries is
// nil when the gateway reported no storage hardware.
type SnapshotSummary struct {
	Timestamp time.Time         `json:"timestamp"`
	Metrics   map[string]string `json:"metrics"`
	Inverters int               `json:"inverters"`
	Batteries *int              `json:"batteries,omitempty"`
}

// Conditions mirrors the coordinator's standing failure state.
type Conditions struct {
	Degraded    bool `json:"degraded"`
	NeedsReauth bool `json:"needs_reauth"`
}

// Build assembles a report from the loaded configuration and the
// coordinator's current status.
func Build(cfg config.Provider, status coordinator.Status) *Report {
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Config: redact(map[string]interface{}{
			"host":       cfg.GetHost(),
			"token":      cfg.GetToken(),
			"username":   cfg.GetUsername(),
			"password":   cfg.GetPassword(),
			"interval":   cfg.GetInterval(),
			"timeout":    cfg.GetTimeout(),
			"log_level":  cfg.GetLogLevel(),
			"metrics":    cfg.IsMetricsEnabled(),
			"metrics_db": cfg.GetMetricsDBPath(),
		}),
		Conditions: Conditions{
			Degraded:    status.Degraded,
			NeedsReauth: status.NeedsReauth,
		},
	}

	if status.Current != nil {
		report.Snapshot = summarize(status.Current)
	}

	return report
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	errFactory := errors.New()

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}

	return data, nil
}

func summarize(snapshot *envoy.Snapshot) *SnapshotSummary {
	summary := &SnapshotSummary{
		Timestamp: snapshot.Timestamp,
		Metrics:   make(map[string]string, len(snapshot.Metrics)),
		Inverters: len(snapshot.Inverters),
	}

	for key, value := range snapshot.Metrics {
		summary.Metrics[string(key)] = value.String()
	}

	if snapshot.Batteries != nil {
		count := len(snapshot.Batteries)
		summary.Batteries = &count
	}

	return summary
}

func redact(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for key, value := range values {
		if _, ok := redactedKeys[key]; ok {
			out[key] = Redacted
			continue
		}
		out[key] = value
	}

	return out
}
