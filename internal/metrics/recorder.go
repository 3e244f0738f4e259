package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/envoymon/internal/envoy"
	"codeberg.org/mutker/envoymon/internal/logger"
)

// Recorder adapts a Collector to the polling subscriber contract. Each
// published metric becomes one sample stamped with the snapshot timestamp
// of the cycle that produced it. Callbacks arrive on a single goroutine,
// in publish order; no locking.
type Recorder struct {
	collector Collector
	timestamp time.Time
}

func NewRecorder(collector Collector) *Recorder {
	return &Recorder{collector: collector}
}

// OnSnapshot notes the cycle timestamp used for subsequent samples.
func (r *Recorder) OnSnapshot(snapshot *envoy.Snapshot) {
	r.timestamp = snapshot.Timestamp
}

// OnMetric stores one published metric value. Storage failures are logged,
// not propagated; polling continues regardless.
func (r *Recorder) OnMetric(key envoy.Key, value envoy.Value) {
	sample := &Sample{
		Timestamp: r.timestamp,
		Key:       key,
		Value:     value,
	}
	if err := r.collector.Record(context.Background(), sample); err != nil {
		logger.Warn().Err(err).Str("key", string(key)).Msg("Failed to record metric sample")
	}
}
