package coordinator

import "codeberg.org/mutker/envoymon/internal/envoy"

// Subscriber receives the results of each successful poll cycle. OnSnapshot
// is called once per cycle, then OnMetric once per reported and derived
// metric, synchronously and in cycle order. Implementations must return
// promptly; a slow subscriber delays the whole cycle.
type Subscriber interface {
	OnSnapshot(*envoy.Snapshot)
	OnMetric(key envoy.Key, value envoy.Value)
}

// Status is a point-in-time view of one device's monitoring session.
type Status struct {
	Current     *envoy.Snapshot
	Degraded    bool
	NeedsReauth bool
}
