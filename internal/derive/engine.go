// Package derive computes secondary metrics from gateway snapshots:
// stateless battery aggregates and stateful charge/discharge deltas.
package derive

import (
	"codeberg.org/mutker/envoymon/internal/envoy"
	"codeberg.org/mutker/envoymon/internal/logger"
)

// Metric is one derived value ready for publication.
type Metric struct {
	Key   envoy.Key
	Value envoy.Value
}

// Engine recomputes the derived metrics for each successful poll cycle.
// The charge and discharge trackers both follow the weighted total
// capacity aggregate, each with its own state; they exist from the first
// cycle the aggregate is available and are fed its value directly rather
// than subscribing to another component's output.
//
// Apply is not safe for concurrent use; the coordinator serializes cycles.
type Engine struct {
	clock      Clock
	charged    *Tracker
	discharged *Tracker
}

func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = RealClock{}
	}

	return &Engine{clock: clock}
}

// Apply computes the derived metrics for one snapshot, in publication
// order. Aggregates absent from the snapshot stay absent from the result.
func (e *Engine) Apply(s *envoy.Snapshot) []Metric {
	var out []Metric

	capacity, capacityOK := TotalCapacity(s.Batteries)
	percentage, percentageOK := AveragePercentage(s.Batteries)

	if percentageOK {
		out = append(out, Metric{Key: envoy.KeyTotalBatteryPercentage, Value: envoy.Number(percentage)})
	}
	if capacityOK {
		out = append(out, Metric{Key: envoy.KeyCurrentBatteryCapacity, Value: envoy.Number(capacity)})
	}

	if e.charged == nil {
		if !capacityOK {
			return out
		}
		e.charged = NewTracker(Increasing, e.clock)
		e.discharged = NewTracker(Decreasing, e.clock)
	}

	charged, err := e.charged.Observe(capacity, capacityOK, s.Timestamp)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected out-of-order snapshot")
		return out
	}
	discharged, err := e.discharged.Observe(capacity, capacityOK, s.Timestamp)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected out-of-order snapshot")
		return out
	}

	out = append(out,
		Metric{Key: envoy.KeyBatteryEnergyCharged, Value: envoy.Number(charged)},
		Metric{Key: envoy.KeyBatteryEnergyDischarged, Value: envoy.Number(discharged)},
	)

	return out
}
