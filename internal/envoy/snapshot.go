// Package envoy models an Enphase Envoy energy gateway and implements the
// HTTPS client that polls it.
package envoy

import (
	"fmt"
	"time"
)

// Key identifies a metric reported by the gateway.
type Key string

const (
	KeyProduction           Key = "production"
	KeyDailyProduction      Key = "daily_production"
	KeySevenDaysProduction  Key = "seven_days_production"
	KeyLifetimeProduction   Key = "lifetime_production"
	KeyConsumption          Key = "consumption"
	KeyDailyConsumption     Key = "daily_consumption"
	KeySevenDaysConsumption Key = "seven_days_consumption"
	KeyLifetimeConsumption  Key = "lifetime_consumption"
	KeyGridStatus           Key = "grid_status"

	// Derived keys are computed from battery state after each poll and are
	// never present in a raw snapshot.
	KeyTotalBatteryPercentage  Key = "total_battery_percentage"
	KeyCurrentBatteryCapacity  Key = "current_battery_capacity"
	KeyBatteryEnergyCharged    Key = "battery_energy_charged"
	KeyBatteryEnergyDischarged Key = "battery_energy_discharged"
)

// GridStatusClosed is the relay state reported while the gateway is
// connected to the grid.
const GridStatusClosed = "closed"

type ValueKind int

const (
	KindNumber ValueKind = iota
	KindStatus
)

// Value is a metric scalar: either a number or an enumerated status string.
type Value struct {
	number float64
	status string
	kind   ValueKind
}

// Number constructs a numeric Value.
func Number(v float64) Value {
	return Value{number: v, kind: KindNumber}
}

// Status constructs a status-string Value.
func Status(s string) Value {
	return Value{status: s, kind: KindStatus}
}

func (v Value) Kind() ValueKind {
	return v.kind
}

// Number returns the numeric value, and whether the Value holds one.
func (v Value) Number() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}

	return v.number, true
}

// Status returns the status string, and whether the Value holds one.
func (v Value) Status() (string, bool) {
	if v.kind != KindStatus {
		return "", false
	}

	return v.status, true
}

func (v Value) String() string {
	if v.kind == KindStatus {
		return v.status
	}

	return fmt.Sprintf("%g", v.number)
}

// Inverter is one microinverter's most recent report.
type Inverter struct {
	WattsNow   float64
	LastReport time.Time
}

// Battery is one storage unit's most recent report.
type Battery struct {
	PercentFull float64
	CapacityWh  float64
	LastReport  time.Time
}

// Snapshot is the result of one poll cycle. It is never mutated after
// construction; all consumers share the same reference.
//
// Any metric key may be absent when the gateway did not report it that
// cycle. A nil Batteries map means the gateway reported no storage hardware
// at all, while an empty map means storage was reported with no units; the
// distinction matters to derived-metric computation. Inverters is nil when
// the cycle ran with inverter polling disabled.
type Snapshot struct {
	Timestamp time.Time
	Metrics   map[Key]Value
	Inverters map[string]Inverter
	Batteries map[string]Battery
}

// Metric returns the value for key, and whether it was reported this cycle.
func (s *Snapshot) Metric(key Key) (Value, bool) {
	v, ok := s.Metrics[key]
	return v, ok
}
