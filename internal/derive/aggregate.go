package derive

import (
	"math"

	"codeberg.org/mutker/envoymon/internal/envoy"
)

const percentageDecimals = 100

// TotalCapacity returns the weighted usable capacity in watt-hours across
// all storage units: the sum of round(capacity * percent / 100) per unit.
// The second return is false when no battery map was reported or it is
// empty; the metric is then absent, not zero.
func TotalCapacity(batteries map[string]envoy.Battery) (float64, bool) {
	if len(batteries) == 0 {
		return 0, false
	}

	var total float64
	for _, b := range batteries {
		total += math.Round(b.CapacityWh * b.PercentFull / 100)
	}

	return total, true
}

// AveragePercentage returns the mean charge percentage across all storage
// units, rounded to two decimals. Absent or empty maps yield an absent
// metric.
func AveragePercentage(batteries map[string]envoy.Battery) (float64, bool) {
	if len(batteries) == 0 {
		return 0, false
	}

	var sum float64
	for _, b := range batteries {
		sum += b.PercentFull
	}
	avg := sum / float64(len(batteries))

	return math.Round(avg*percentageDecimals) / percentageDecimals, true
}
