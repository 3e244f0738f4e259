package derive

import (
	"time"

	"codeberg.org/mutker/envoymon/internal/errors"
)

type Direction int

const (
	Increasing Direction = iota
	Decreasing
)

func (d Direction) String() string {
	if d == Decreasing {
		return "decreasing"
	}

	return "increasing"
}

// Tracker reports the one-step difference between consecutive observed
// values of a source quantity, in a single direction. The reported delta
// covers only the most recent transition: a non-qualifying transition, or
// one where either side was unavailable, resets it to zero. It is not a
// running total.
type Tracker struct {
	direction Direction
	clock     Clock
	lastValue float64
	lastOK    bool
	seen      bool
	delta     float64
	lastReset time.Time
	lastAt    time.Time
}

func NewTracker(direction Direction, clock Clock) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}

	return &Tracker{direction: direction, clock: clock}
}

// Observe feeds the tracker the source quantity's value for the cycle
// stamped at. ok is false when the source was unavailable that cycle.
// Observations must arrive in strictly increasing stamp order; a stale
// stamp is rejected without touching any state, so the next in-order
// observation still diffs against the last accepted value.
func (t *Tracker) Observe(value float64, ok bool, at time.Time) (float64, error) {
	errFactory := errors.New()

	if t.seen && !at.After(t.lastAt) {
		return t.delta, errFactory.WithData(ErrOutOfOrder, struct {
			At     time.Time
			LastAt time.Time
		}{
			At:     at,
			LastAt: t.lastAt,
		})
	}

	switch {
	case !t.seen || !t.lastOK || !ok:
		t.delta = 0
	case t.direction == Increasing && value > t.lastValue:
		t.delta = value - t.lastValue
	case t.direction == Decreasing && t.lastValue > value:
		t.delta = t.lastValue - value
	default:
		t.delta = 0
	}

	// The baseline timestamp moves on every accepted observation,
	// whichever branch was taken.
	t.lastReset = t.clock.Now()
	t.seen = true
	t.lastOK = ok
	t.lastValue = value
	t.lastAt = at

	return t.delta, nil
}

// Delta returns the currently reported value.
func (t *Tracker) Delta() float64 {
	return t.delta
}

// LastReset returns when the reported value was last recomputed.
func (t *Tracker) LastReset() time.Time {
	return t.lastReset
}
