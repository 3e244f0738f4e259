package derive_test

import (
	"testing"

	"codeberg.org/mutker/envoymon/internal/derive"
	"codeberg.org/mutker/envoymon/internal/envoy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalCapacity(t *testing.T) {
	batteries := map[string]envoy.Battery{
		"A": {PercentFull: 50, CapacityWh: 10},
		"B": {PercentFull: 100, CapacityWh: 20},
	}

	total, ok := derive.TotalCapacity(batteries)
	require.True(t, ok)
	assert.InDelta(t, 25.0, total, 1e-9, "Expected 5 + 20 weighted watt-hours")
}

func TestTotalCapacityRoundsPerUnit(t *testing.T) {
	// Each unit rounds before summation: 1.5 -> 2 twice, not 3.0 -> 3
	batteries := map[string]envoy.Battery{
		"A": {PercentFull: 50, CapacityWh: 3},
		"B": {PercentFull: 50, CapacityWh: 3},
	}

	total, ok := derive.TotalCapacity(batteries)
	require.True(t, ok)
	assert.InDelta(t, 4.0, total, 1e-9)
}

func TestAveragePercentage(t *testing.T) {
	batteries := map[string]envoy.Battery{
		"A": {PercentFull: 50, CapacityWh: 10},
		"B": {PercentFull: 100, CapacityWh: 20},
	}

	avg, ok := derive.AveragePercentage(batteries)
	require.True(t, ok)
	assert.InDelta(t, 75.0, avg, 1e-9)
}

func TestAveragePercentageRoundsToTwoDecimals(t *testing.T) {
	batteries := map[string]envoy.Battery{
		"A": {PercentFull: 100},
		"B": {PercentFull: 0},
		"C": {PercentFull: 0},
	}

	avg, ok := derive.AveragePercentage(batteries)
	require.True(t, ok)
	assert.InDelta(t, 33.33, avg, 1e-9)
}

func TestAggregatesAbsentWithoutBatteries(t *testing.T) {
	_, ok := derive.TotalCapacity(nil)
	assert.False(t, ok, "nil battery map must yield an absent metric")
	_, ok = derive.AveragePercentage(nil)
	assert.False(t, ok)

	_, ok = derive.TotalCapacity(map[string]envoy.Battery{})
	assert.False(t, ok, "empty battery map must yield an absent metric, not zero")
	_, ok = derive.AveragePercentage(map[string]envoy.Battery{})
	assert.False(t, ok)
}
